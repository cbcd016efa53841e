package orchestrator

import "fmt"

type namespaceNotLoadedError struct {
	namespace string
}

func (e *namespaceNotLoadedError) Error() string {
	return fmt.Sprintf("namespace %q has no running policy watcher", e.namespace)
}

func errNamespaceNotLoaded(namespace string) error {
	return &namespaceNotLoadedError{namespace: namespace}
}
