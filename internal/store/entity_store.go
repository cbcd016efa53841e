package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/registry-gateway/control-plane/internal/backend"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

const (
	collServers    = "servers"
	collAgents     = "agents"
	collScopes     = "scopes"
	collEmbeddings = "embeddings"
	collScans      = "scans"
	collDeadLetter = "index_dead_letters"
)

// EntityStore is the component-B implementation: typed CRUD for the five
// entity kinds, layered over a backend.Driver, with struct-tag validation
// and a change-event broadcast consumed by the vector index (D) and the
// health supervisor (G).
type EntityStore struct {
	driver   backend.Driver
	validate *validator.Validate
	bus      *broadcaster
}

// Option configures an EntityStore at construction time.
type Option func(*EntityStore)

// WithRedisMirror enables cross-process change-event mirroring over Redis
// pub/sub (see redis_mirror.go): used when more than one orchestrator
// process shares the same backend and needs a consistent view of D's
// index and G's health state.
func WithRedisMirror(ctx context.Context, client *redis.Client) Option {
	return func(s *EntityStore) {
		s.bus = newBroadcasterWithRedis(ctx, client)
	}
}

func New(driver backend.Driver, opts ...Option) *EntityStore {
	s := &EntityStore{
		driver:   driver,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		bus:      newBroadcaster(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EntityStore) validateStruct(v any) error {
	if err := s.validate.Struct(v); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			return &contracts.Invalid{Field: fe.Field(), Reason: fe.Tag()}
		}
		return &contracts.Invalid{Field: "unknown", Reason: err.Error()}
	}
	return nil
}

// ── Servers ──────────────────────────────────────────────────

func (s *EntityStore) GetServer(ctx context.Context, namespace, path string) (*models.Server, error) {
	rec, err := s.driver.Get(ctx, collServers, compositeKey(namespace, path))
	if err != nil {
		return nil, err
	}
	var srv models.Server
	if err := fromRecord(rec, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

func (s *EntityStore) PutServer(ctx context.Context, srv *models.Server, create bool) (*models.Server, error) {
	if err := s.validateStruct(srv); err != nil {
		return nil, err
	}
	key := compositeKey(srv.Namespace, srv.Path)
	now := time.Now().UTC()
	op := models.ChangeUpdated
	if create {
		if _, err := s.driver.Get(ctx, collServers, key); err == nil {
			return nil, &contracts.Conflict{Entity: "server", Key: srv.Path}
		}
		srv.CreatedAt = now
		op = models.ChangeCreated
	}
	srv.UpdatedAt = now
	rec, err := toRecord(srv)
	if err != nil {
		return nil, err
	}
	if err := s.driver.Put(ctx, collServers, key, rec); err != nil {
		return nil, err
	}
	s.bus.publish(models.ChangeEvent{Kind: models.EntityKindServer, Namespace: srv.Namespace, Path: srv.Path, Op: op, Snapshot: srv})
	return srv, nil
}

func (s *EntityStore) DeleteServer(ctx context.Context, namespace, path string) error {
	existed, err := s.driver.Delete(ctx, collServers, compositeKey(namespace, path))
	if err != nil {
		return err
	}
	if !existed {
		return &contracts.NotFound{Entity: "server", Key: path}
	}
	s.bus.publish(models.ChangeEvent{Kind: models.EntityKindServer, Namespace: namespace, Path: path, Op: models.ChangeDeleted})
	return nil
}

func (s *EntityStore) ListServers(ctx context.Context, namespace string, filter ListFilter) ([]*models.Server, error) {
	it, err := s.driver.List(ctx, collServers, listFilterToBackend(namespace, filter), backend.ListOptions{Limit: filter.Limit, Cursor: filter.Cursor, Sort: "path"})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*models.Server
	for {
		_, rec, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		var srv models.Server
		if err := fromRecord(rec, &srv); err != nil {
			return nil, err
		}
		if filter.EnabledOnly && !srv.IsEnabled() {
			continue
		}
		if filter.Tag != "" && !hasTag(srv.Tags, filter.Tag) {
			continue
		}
		out = append(out, &srv)
	}
	return out, nil
}

func (s *EntityStore) ToggleServer(ctx context.Context, namespace, path string, enabled bool) (*models.Server, error) {
	srv, err := s.GetServer(ctx, namespace, path)
	if err != nil {
		return nil, err
	}
	srv.IsEnabledFlag = enabled
	srv.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(srv)
	if err != nil {
		return nil, err
	}
	if err := s.driver.Put(ctx, collServers, compositeKey(namespace, path), rec); err != nil {
		return nil, err
	}
	s.bus.publish(models.ChangeEvent{Kind: models.EntityKindServer, Namespace: namespace, Path: path, Op: models.ChangeToggled, Snapshot: srv})
	return srv, nil
}

// ── Agents ───────────────────────────────────────────────────

func (s *EntityStore) GetAgent(ctx context.Context, namespace, path string) (*models.Agent, error) {
	rec, err := s.driver.Get(ctx, collAgents, compositeKey(namespace, path))
	if err != nil {
		return nil, err
	}
	var a models.Agent
	if err := fromRecord(rec, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *EntityStore) PutAgent(ctx context.Context, a *models.Agent, create bool) (*models.Agent, error) {
	if err := s.validateStruct(a); err != nil {
		return nil, err
	}
	key := compositeKey(a.Namespace, a.Path)
	now := time.Now().UTC()
	op := models.ChangeUpdated
	if create {
		if _, err := s.driver.Get(ctx, collAgents, key); err == nil {
			return nil, &contracts.Conflict{Entity: "agent", Key: a.Path}
		}
		a.CreatedAt = now
		op = models.ChangeCreated
	}
	a.UpdatedAt = now
	rec, err := toRecord(a)
	if err != nil {
		return nil, err
	}
	if err := s.driver.Put(ctx, collAgents, key, rec); err != nil {
		return nil, err
	}
	s.bus.publish(models.ChangeEvent{Kind: models.EntityKindAgent, Namespace: a.Namespace, Path: a.Path, Op: op, Snapshot: a})
	return a, nil
}

func (s *EntityStore) DeleteAgent(ctx context.Context, namespace, path string) error {
	existed, err := s.driver.Delete(ctx, collAgents, compositeKey(namespace, path))
	if err != nil {
		return err
	}
	if !existed {
		return &contracts.NotFound{Entity: "agent", Key: path}
	}
	s.bus.publish(models.ChangeEvent{Kind: models.EntityKindAgent, Namespace: namespace, Path: path, Op: models.ChangeDeleted})
	return nil
}

func (s *EntityStore) ListAgents(ctx context.Context, namespace string, filter ListFilter) ([]*models.Agent, error) {
	it, err := s.driver.List(ctx, collAgents, listFilterToBackend(namespace, filter), backend.ListOptions{Limit: filter.Limit, Cursor: filter.Cursor, Sort: "path"})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*models.Agent
	for {
		_, rec, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		var a models.Agent
		if err := fromRecord(rec, &a); err != nil {
			return nil, err
		}
		if filter.EnabledOnly && !a.IsEnabled() {
			continue
		}
		if filter.Tag != "" && !hasTag(a.Tags, filter.Tag) {
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

func (s *EntityStore) ToggleAgent(ctx context.Context, namespace, path string, enabled bool) (*models.Agent, error) {
	a, err := s.GetAgent(ctx, namespace, path)
	if err != nil {
		return nil, err
	}
	a.IsEnabledFlag = enabled
	a.UpdatedAt = time.Now().UTC()
	rec, err := toRecord(a)
	if err != nil {
		return nil, err
	}
	if err := s.driver.Put(ctx, collAgents, compositeKey(namespace, path), rec); err != nil {
		return nil, err
	}
	s.bus.publish(models.ChangeEvent{Kind: models.EntityKindAgent, Namespace: namespace, Path: path, Op: models.ChangeToggled, Snapshot: a})
	return a, nil
}

// ── Generic registrable access ───────────────────────────────

func (s *EntityStore) ListRegistrables(ctx context.Context, kind models.EntityKind, namespace string, filter ListFilter) ([]models.Registrable, error) {
	switch kind {
	case models.EntityKindServer:
		servers, err := s.ListServers(ctx, namespace, filter)
		if err != nil {
			return nil, err
		}
		out := make([]models.Registrable, len(servers))
		for i, srv := range servers {
			out[i] = srv
		}
		return out, nil
	case models.EntityKindAgent:
		agents, err := s.ListAgents(ctx, namespace, filter)
		if err != nil {
			return nil, err
		}
		out := make([]models.Registrable, len(agents))
		for i, a := range agents {
			out[i] = a
		}
		return out, nil
	default:
		return nil, &contracts.Invalid{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", kind)}
	}
}

func (s *EntityStore) GetRegistrable(ctx context.Context, kind models.EntityKind, namespace, path string) (models.Registrable, error) {
	switch kind {
	case models.EntityKindServer:
		return s.GetServer(ctx, namespace, path)
	case models.EntityKindAgent:
		return s.GetAgent(ctx, namespace, path)
	default:
		return nil, &contracts.Invalid{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", kind)}
	}
}

// FindByTag narrows ListRegistrables to a single tag with no other filter
// applied. The tag is matched in process on the decoded records (see
// hasTag), not through an index.
func (s *EntityStore) FindByTag(ctx context.Context, kind models.EntityKind, namespace, tag string) ([]models.Registrable, error) {
	if tag == "" {
		return nil, &contracts.Invalid{Field: "tag", Reason: "required"}
	}
	return s.ListRegistrables(ctx, kind, namespace, ListFilter{Tag: tag})
}

// ── Scopes ───────────────────────────────────────────────────

func (s *EntityStore) GetScope(ctx context.Context, namespace, name string) (*models.Scope, error) {
	rec, err := s.driver.Get(ctx, collScopes, compositeKey(namespace, name))
	if err != nil {
		return nil, err
	}
	var sc models.Scope
	if err := fromRecord(rec, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *EntityStore) PutScope(ctx context.Context, sc *models.Scope) (*models.Scope, error) {
	if err := s.validateStruct(sc); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = now
	}
	sc.UpdatedAt = now
	rec, err := toRecord(sc)
	if err != nil {
		return nil, err
	}
	key := compositeKey(sc.Namespace, sc.Name)
	if err := s.driver.Put(ctx, collScopes, key, rec); err != nil {
		return nil, err
	}
	// The policy engine (E) watches scope mutations via this same change bus,
	// keyed on the scope name rather than an entity path.
	s.bus.publish(models.ChangeEvent{Namespace: sc.Namespace, Path: sc.Name, Op: models.ChangeUpdated})
	return sc, nil
}

func (s *EntityStore) DeleteScope(ctx context.Context, namespace, name string) error {
	existed, err := s.driver.Delete(ctx, collScopes, compositeKey(namespace, name))
	if err != nil {
		return err
	}
	if !existed {
		return &contracts.NotFound{Entity: "scope", Key: name}
	}
	s.bus.publish(models.ChangeEvent{Namespace: namespace, Path: name, Op: models.ChangeDeleted})
	return nil
}

func (s *EntityStore) ListScopes(ctx context.Context, namespace string) ([]*models.Scope, error) {
	it, err := s.driver.List(ctx, collScopes, backend.Filter{"namespace": namespace}, backend.ListOptions{Sort: "name"})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []*models.Scope
	for {
		_, rec, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		var sc models.Scope
		if err := fromRecord(rec, &sc); err != nil {
			return nil, err
		}
		out = append(out, &sc)
	}
	return out, nil
}

// ── Embeddings ───────────────────────────────────────────────

func (s *EntityStore) embeddingKey(namespace string, kind models.EntityKind, path string) string {
	return compositeKey(namespace, string(kind), path)
}

func (s *EntityStore) GetEmbedding(ctx context.Context, namespace string, kind models.EntityKind, path string) (*models.EmbeddingRecord, error) {
	rec, err := s.driver.Get(ctx, collEmbeddings, s.embeddingKey(namespace, kind, path))
	if err != nil {
		return nil, err
	}
	var e models.EmbeddingRecord
	if err := fromRecord(rec, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *EntityStore) PutEmbedding(ctx context.Context, rec *models.EmbeddingRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	r, err := toRecord(rec)
	if err != nil {
		return err
	}
	return s.driver.Put(ctx, collEmbeddings, s.embeddingKey(rec.Namespace, rec.EntityKind, rec.EntityPath), r)
}

func (s *EntityStore) DeleteEmbedding(ctx context.Context, namespace string, kind models.EntityKind, path string) error {
	_, err := s.driver.Delete(ctx, collEmbeddings, s.embeddingKey(namespace, kind, path))
	return err
}

// ── Security scans ───────────────────────────────────────────

func (s *EntityStore) CreateScan(ctx context.Context, rec *models.SecurityScanRecord) error {
	r, err := toRecord(rec)
	if err != nil {
		return err
	}
	return s.driver.Put(ctx, collScans, compositeKey(rec.Namespace, rec.ScanID), r)
}

func (s *EntityStore) GetScan(ctx context.Context, namespace, scanID string) (*models.SecurityScanRecord, error) {
	rec, err := s.driver.Get(ctx, collScans, compositeKey(namespace, scanID))
	if err != nil {
		return nil, err
	}
	var sc models.SecurityScanRecord
	if err := fromRecord(rec, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (s *EntityStore) UpdateScan(ctx context.Context, rec *models.SecurityScanRecord) error {
	if _, err := s.GetScan(ctx, rec.Namespace, rec.ScanID); err != nil {
		return err
	}
	r, err := toRecord(rec)
	if err != nil {
		return err
	}
	return s.driver.Put(ctx, collScans, compositeKey(rec.Namespace, rec.ScanID), r)
}

// ── Dead letters ─────────────────────────────────────────────

func (s *EntityStore) CreateDeadLetter(ctx context.Context, rec *models.DeadLetterRecord) error {
	r, err := toRecord(rec)
	if err != nil {
		return err
	}
	key := compositeKey(rec.Namespace, rec.EntityPath+"/"+uuid.NewString())
	return s.driver.Put(ctx, collDeadLetter, key, r)
}

// ── Health ───────────────────────────────────────────────────

// PutHealth merges a Health subrecord into the target entity without
// disturbing its other fields or bumping UpdatedAt, and without emitting a
// change event: health transitions are high-frequency and the vector index
// has no interest in them, only the admin websocket feed does (G publishes
// that feed directly).
func (s *EntityStore) PutHealth(ctx context.Context, kind models.EntityKind, namespace, path string, h *models.Health) error {
	switch kind {
	case models.EntityKindServer:
		srv, err := s.GetServer(ctx, namespace, path)
		if err != nil {
			return err
		}
		srv.Health = h
		rec, err := toRecord(srv)
		if err != nil {
			return err
		}
		return s.driver.Put(ctx, collServers, compositeKey(namespace, path), rec)
	case models.EntityKindAgent:
		a, err := s.GetAgent(ctx, namespace, path)
		if err != nil {
			return err
		}
		a.Health = h
		rec, err := toRecord(a)
		if err != nil {
			return err
		}
		return s.driver.Put(ctx, collAgents, compositeKey(namespace, path), rec)
	default:
		return &contracts.Invalid{Field: "kind", Reason: fmt.Sprintf("unknown entity kind %q", kind)}
	}
}

// ── Change events ────────────────────────────────────────────

func (s *EntityStore) Subscribe(bufferSize int) (string, <-chan models.ChangeEvent) {
	return s.bus.subscribe(bufferSize)
}

func (s *EntityStore) Unsubscribe(id string) {
	s.bus.unsubscribe(id)
}

func (s *EntityStore) Close() error {
	s.bus.closeAll()
	log.Debug().Msg("🗃️ entity store closed")
	return s.driver.Close()
}

// listFilterToBackend carries only the predicates the backend driver can
// evaluate as a scalar equality (namespace); tag membership is an
// array-containment check the small Filter predicate language can't express,
// so it's applied in-process after decoding (see hasTag below).
func listFilterToBackend(namespace string, _ ListFilter) backend.Filter {
	return backend.Filter{"namespace": namespace}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

var _ Store = (*EntityStore)(nil)
