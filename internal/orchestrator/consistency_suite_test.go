package orchestrator

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConsistencySuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Index/Store Consistency Property Suite")
}
