// Package store implements the entity store (component B): typed CRUD for
// Servers, Agents, Scopes, EmbeddingRecords, and SecurityScanRecords over a
// backend.Driver, plus the change-event broadcast that the vector index (D)
// and health supervisor (G) subscribe to.
package store

import (
	"context"

	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// ListFilter narrows a ListRegistrables call. An empty Tag means "no tag
// filter"; EnabledOnly restricts to entities with IsEnabled()==true.
type ListFilter struct {
	Tag         string
	EnabledOnly bool
	Limit       int
	Cursor      string
}

// Store is the typed entity-store contract (component B). One Store
// instance serves all namespaces; every method takes an explicit namespace
// argument rather than being bound to one at construction time.
type Store interface {
	// Servers
	GetServer(ctx context.Context, namespace, path string) (*models.Server, error)
	PutServer(ctx context.Context, s *models.Server, create bool) (*models.Server, error)
	DeleteServer(ctx context.Context, namespace, path string) error
	ListServers(ctx context.Context, namespace string, filter ListFilter) ([]*models.Server, error)
	ToggleServer(ctx context.Context, namespace, path string, enabled bool) (*models.Server, error)

	// Agents
	GetAgent(ctx context.Context, namespace, path string) (*models.Agent, error)
	PutAgent(ctx context.Context, a *models.Agent, create bool) (*models.Agent, error)
	DeleteAgent(ctx context.Context, namespace, path string) error
	ListAgents(ctx context.Context, namespace string, filter ListFilter) ([]*models.Agent, error)
	ToggleAgent(ctx context.Context, namespace, path string, enabled bool) (*models.Agent, error)

	// Generic registrable access used by D and G, which do not care whether
	// an entity is a Server or an Agent.
	ListRegistrables(ctx context.Context, kind models.EntityKind, namespace string, filter ListFilter) ([]models.Registrable, error)
	GetRegistrable(ctx context.Context, kind models.EntityKind, namespace, path string) (models.Registrable, error)

	// FindByTag returns every enabled-or-not Registrable of the given kind
	// in namespace carrying tag. A dedicated method rather than a ListFilter
	// bag because tag lookup is a named, first-class operation of the
	// entity store, not an incidental narrowing of List.
	FindByTag(ctx context.Context, kind models.EntityKind, namespace, tag string) ([]models.Registrable, error)

	// Scopes
	GetScope(ctx context.Context, namespace, name string) (*models.Scope, error)
	PutScope(ctx context.Context, s *models.Scope) (*models.Scope, error)
	DeleteScope(ctx context.Context, namespace, name string) error
	ListScopes(ctx context.Context, namespace string) ([]*models.Scope, error)

	// Embeddings
	GetEmbedding(ctx context.Context, namespace string, kind models.EntityKind, path string) (*models.EmbeddingRecord, error)
	PutEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error
	DeleteEmbedding(ctx context.Context, namespace string, kind models.EntityKind, path string) error

	// Security scans
	CreateScan(ctx context.Context, rec *models.SecurityScanRecord) error
	GetScan(ctx context.Context, namespace, scanID string) (*models.SecurityScanRecord, error)
	UpdateScan(ctx context.Context, rec *models.SecurityScanRecord) error

	// CreateDeadLetter persists the audit record the vector index (D)
	// writes when a change event's re-embed exhausts its retry budget.
	CreateDeadLetter(ctx context.Context, rec *models.DeadLetterRecord) error

	// Health
	PutHealth(ctx context.Context, kind models.EntityKind, namespace, path string, h *models.Health) error

	// Change events
	Subscribe(bufferSize int) (id string, ch <-chan models.ChangeEvent)
	Unsubscribe(id string)

	Close() error
}
