package orchestrator

import (
	"context"
	"hash/fnv"
	"testing"
	"time"

	"github.com/agentoven/registry-gateway/control-plane/internal/backend"
	"github.com/agentoven/registry-gateway/control-plane/internal/embeddings"
	"github.com/agentoven/registry-gateway/control-plane/internal/health"
	"github.com/agentoven/registry-gateway/control-plane/internal/store"
	"github.com/agentoven/registry-gateway/control-plane/internal/vectorindex"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// fakeEmbedder deterministically hashes words into a fixed-dimension
// vector so cosine similarity behaves predictably in tests without
// pulling in a real model.
type fakeEmbedder struct{}

func (fakeEmbedder) Kind() string         { return "fake" }
func (fakeEmbedder) Dimensions() int      { return 8 }
func (fakeEmbedder) MaxBatchSize() int    { return 32 }
func (fakeEmbedder) HealthCheck(context.Context) error { return nil }

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec := make([]float64, 8)
		h := fnv.New32a()
		h.Write([]byte(t))
		seed := h.Sum32()
		for j := range vec {
			vec[j] = float64((seed >> uint(j%32)) & 1)
		}
		if vec[0] == 0 {
			vec[0] = 1 // avoid an all-zero vector, which cosineSimilarity treats as unrankable
		}
		out[i] = vec
	}
	return out, nil
}

const testNamespace = "default"
const adminGroup = "admins"

func newTestCore(t *testing.T) *Core {
	t.Helper()
	driver := backend.NewEmbedded()
	st := store.New(driver)

	idx := vectorindex.New(st, fakeEmbedder{}, time.Second)
	if err := idx.Start(context.Background(), []string{testNamespace}); err != nil {
		t.Fatalf("start index: %v", err)
	}

	sup := health.New(health.Config{}, st)

	embReg := embeddings.NewRegistry()
	embReg.Register("fake", fakeEmbedder{})

	backendReg := backend.NewRegistry()
	backendReg.Register("embedded", driver)

	core := New(Config{
		DefaultNamespace:  testNamespace,
		Namespaces:        []string{testNamespace},
		AdminGroupPattern: adminGroup,
	}, st, idx, sup, embReg, backendReg)

	if err := core.Start(context.Background()); err != nil {
		t.Fatalf("start core: %v", err)
	}
	t.Cleanup(func() {
		core.Shutdown(context.Background())
		idx.Close()
		st.Close()
	})
	return core
}

func adminIdentity() contracts.Identity {
	return contracts.Identity{Subject: "operator", Groups: []string{adminGroup}, Namespace: testNamespace}
}

func plainIdentity(groups ...string) contracts.Identity {
	return contracts.Identity{Subject: "caller", Groups: groups, Namespace: testNamespace}
}

func TestRegisterEntity_DuplicateIsConflict(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	srv := &models.Server{
		Path: "/svc/hello", Namespace: testNamespace, Name: "hello",
		Description: "says hello", ProxyURL: "http://localhost:9000",
		Tools: []models.Tool{{Name: "echo", Description: "echoes input"}},
	}

	created, err := core.RegisterEntity(ctx, testNamespace, srv, adminIdentity())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if created.GetPath() != "/svc/hello" {
		t.Fatalf("path = %q, want /svc/hello", created.GetPath())
	}

	_, err = core.RegisterEntity(ctx, testNamespace, srv, adminIdentity())
	if _, ok := err.(*contracts.Conflict); !ok {
		t.Fatalf("duplicate register error = %v, want *contracts.Conflict", err)
	}
}

func TestRegisterEntity_NonAdminForbidden(t *testing.T) {
	core := newTestCore(t)
	srv := &models.Server{Path: "/svc/x", Namespace: testNamespace, Name: "x", ProxyURL: "http://localhost:9001"}

	_, err := core.RegisterEntity(context.Background(), testNamespace, srv, plainIdentity("nobody"))
	if _, ok := err.(*contracts.Forbidden); !ok {
		t.Fatalf("err = %v, want *contracts.Forbidden", err)
	}
}

func TestDeleteEntity_ThenGetIsNotFound(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	srv := &models.Server{Path: "/svc/del", Namespace: testNamespace, Name: "del", ProxyURL: "http://localhost:9002"}
	if _, err := core.RegisterEntity(ctx, testNamespace, srv, adminIdentity()); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := core.DeleteEntity(ctx, testNamespace, models.EntityKindServer, "/svc/del", adminIdentity()); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := core.store.GetServer(ctx, testNamespace, "/svc/del")
	if _, ok := err.(*contracts.NotFound); !ok {
		t.Fatalf("get after delete err = %v, want *contracts.NotFound", err)
	}
}

func TestToggleEntity(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()
	srv := &models.Server{Path: "/svc/toggle", Namespace: testNamespace, Name: "toggle", ProxyURL: "http://localhost:9003", IsEnabledFlag: true}
	if _, err := core.RegisterEntity(ctx, testNamespace, srv, adminIdentity()); err != nil {
		t.Fatalf("register: %v", err)
	}

	out, err := core.ToggleEntity(ctx, testNamespace, models.EntityKindServer, "/svc/toggle", false, adminIdentity())
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if out.IsEnabled() {
		t.Fatalf("IsEnabled = true, want false after toggle")
	}
}

func TestListEntities_FiltersToAuthorized(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	for _, path := range []string{"/svc/a", "/svc/b"} {
		srv := &models.Server{Path: path, Namespace: testNamespace, Name: path, ProxyURL: "http://localhost:9004"}
		if _, err := core.RegisterEntity(ctx, testNamespace, srv, adminIdentity()); err != nil {
			t.Fatalf("register %s: %v", path, err)
		}
	}

	scope := &models.Scope{
		Name:      "readers",
		Namespace: testNamespace,
		Permissions: []models.Permission{
			{Server: "/svc/a", Methods: []string{"list"}},
		},
	}
	if _, err := core.store.PutScope(ctx, scope); err != nil {
		t.Fatalf("put scope: %v", err)
	}
	waitForScopeReload(t, core)

	got, err := core.ListEntities(ctx, testNamespace, models.EntityKindServer, EntityFilter{}, plainIdentity("readers"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].GetPath() != "/svc/a" {
		t.Fatalf("got %+v, want exactly /svc/a", got)
	}
}

func TestAuthorizeCall(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	scope := &models.Scope{
		Name:      "invokers",
		Namespace: testNamespace,
		Permissions: []models.Permission{
			{Server: "/svc/hello", Methods: []string{"invoke"}, Tools: []string{"echo"}},
		},
	}
	if _, err := core.store.PutScope(ctx, scope); err != nil {
		t.Fatalf("put scope: %v", err)
	}
	waitForScopeReload(t, core)

	decision := core.AuthorizeCall(ctx, plainIdentity("invokers"), "/svc/hello", "invoke", "echo")
	if !decision.Allowed {
		t.Fatalf("decision = %v, want allow", decision)
	}

	denied := core.AuthorizeCall(ctx, plainIdentity("invokers"), "/svc/hello", "invoke", "not-a-tool")
	if denied.Allowed {
		t.Fatalf("decision = %v, want deny(tool-excluded)", denied)
	}
}

func TestSearchEntities_FindsRegisteredServer(t *testing.T) {
	core := newTestCore(t)
	ctx := context.Background()

	srv := &models.Server{
		Path: "/svc/hello", Namespace: testNamespace, Name: "hello",
		Description: "says hello to the world", ProxyURL: "http://localhost:9005",
		IsEnabledFlag: true,
	}
	if _, err := core.RegisterEntity(ctx, testNamespace, srv, adminIdentity()); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := core.index.WaitSynced(ctx, "/svc/hello"); err != nil {
		t.Fatalf("wait synced: %v", err)
	}

	results, err := core.SearchEntities(ctx, testNamespace, models.EntityKindServer, "hello", 5, SearchFilters{}, adminIdentity())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "/svc/hello" {
		t.Fatalf("results = %+v, want exactly /svc/hello", results)
	}
}

func TestLoadScopeTable_UnknownNamespace(t *testing.T) {
	core := newTestCore(t)
	_, err := core.LoadScopeTable(context.Background(), "never-configured")
	if _, ok := err.(*contracts.BackendUnavailable); !ok {
		t.Fatalf("err = %v, want *contracts.BackendUnavailable", err)
	}
}

// waitForScopeReload polls until the namespace's policy watcher has
// observed the scope mutation, since the watcher reloads asynchronously
// off the change-event channel.
func waitForScopeReload(t *testing.T, core *Core) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		scopes, err := core.store.ListScopes(context.Background(), testNamespace)
		if err == nil && len(scopes) > 0 {
			time.Sleep(50 * time.Millisecond) // let the watcher's consumeLoop catch up
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for scope table reload")
}
