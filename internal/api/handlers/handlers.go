// Package handlers implements the HTTP handlers for the registry control
// plane: thin JSON adapters over internal/orchestrator.Core's nine public
// operations, plus admin-only scope management and the health/system
// status surface.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/registry-gateway/control-plane/internal/api/middleware"
	"github.com/agentoven/registry-gateway/control-plane/internal/orchestrator"
	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	pkgmw "github.com/agentoven/registry-gateway/control-plane/pkg/middleware"
	"github.com/agentoven/registry-gateway/control-plane/pkg/models"
)

// Handlers holds the single dependency every route needs: the orchestrator.
type Handlers struct {
	Core *orchestrator.Core
}

// New creates a new Handlers instance.
func New(core *orchestrator.Core) *Handlers {
	return &Handlers{Core: core}
}

func identityFrom(r *http.Request) contracts.Identity {
	if id := pkgmw.GetIdentity(r.Context()); id != nil {
		return *id
	}
	return contracts.Identity{}
}

// ══════════════════════════════════════════════════════════════
// ── Servers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListServers(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	filter := parseEntityFilter(r)
	out, err := h.Core.ListEntities(r.Context(), ns, models.EntityKindServer, filter, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) RegisterServer(w http.ResponseWriter, r *http.Request) {
	var srv models.Server
	if err := json.NewDecoder(r.Body).Decode(&srv); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ns := middleware.GetNamespace(r.Context())
	created, err := h.Core.RegisterEntity(r.Context(), ns, &srv, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	log.Info().Str("path", created.GetPath()).Str("namespace", ns).Msg("server registered")
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) GetServer(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	path := entityPath(r)
	out, err := h.Core.GetEntity(r.Context(), ns, models.EntityKindServer, path, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) UpdateServer(w http.ResponseWriter, r *http.Request) {
	var srv models.Server
	if err := json.NewDecoder(r.Body).Decode(&srv); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ns := middleware.GetNamespace(r.Context())
	path := entityPath(r)
	srv.Path = path
	out, err := h.Core.UpdateEntity(r.Context(), ns, models.EntityKindServer, path, &srv, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) DeleteServer(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	path := entityPath(r)
	if err := h.Core.DeleteEntity(r.Context(), ns, models.EntityKindServer, path, identityFrom(r)); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ToggleServer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ns := middleware.GetNamespace(r.Context())
	path := entityPath(r)
	out, err := h.Core.ToggleEntity(r.Context(), ns, models.EntityKindServer, path, req.Enabled, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) SearchServers(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, models.EntityKindServer)
}

// ══════════════════════════════════════════════════════════════
// ── Agents ───────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	filter := parseEntityFilter(r)
	out, err := h.Core.ListEntities(r.Context(), ns, models.EntityKindAgent, filter, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var agent models.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ns := middleware.GetNamespace(r.Context())
	created, err := h.Core.RegisterEntity(r.Context(), ns, &agent, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	log.Info().Str("path", created.GetPath()).Str("namespace", ns).Msg("agent registered")
	respondJSON(w, http.StatusCreated, created)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	path := entityPath(r)
	out, err := h.Core.GetEntity(r.Context(), ns, models.EntityKindAgent, path, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	var agent models.Agent
	if err := json.NewDecoder(r.Body).Decode(&agent); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ns := middleware.GetNamespace(r.Context())
	path := entityPath(r)
	agent.Path = path
	out, err := h.Core.UpdateEntity(r.Context(), ns, models.EntityKindAgent, path, &agent, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	path := entityPath(r)
	if err := h.Core.DeleteEntity(r.Context(), ns, models.EntityKindAgent, path, identityFrom(r)); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ToggleAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ns := middleware.GetNamespace(r.Context())
	path := entityPath(r)
	out, err := h.Core.ToggleEntity(r.Context(), ns, models.EntityKindAgent, path, req.Enabled, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) SearchAgents(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, models.EntityKindAgent)
}

func (h *Handlers) search(w http.ResponseWriter, r *http.Request, kind models.EntityKind) {
	ns := middleware.GetNamespace(r.Context())
	query := r.URL.Query().Get("q")
	k := 10
	if v := r.URL.Query().Get("k"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			k = parsed
		}
	}
	filters := orchestrator.SearchFilters{
		Tag:         r.URL.Query().Get("tag"),
		EnabledOnly: r.URL.Query().Get("enabled_only") == "true",
	}
	results, err := h.Core.SearchEntities(r.Context(), ns, kind, query, k, filters, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// ══════════════════════════════════════════════════════════════
// ── Authorization & scopes ───────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) AuthorizeCall(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServicePath string `json:"service_path"`
		Method      string `json:"method"`
		Tool        string `json:"tool,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	decision := h.Core.AuthorizeCall(r.Context(), identityFrom(r), req.ServicePath, req.Method, req.Tool)
	respondJSON(w, http.StatusOK, decision)
}

func (h *Handlers) ListScopes(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	scopes, err := h.Core.ListScopes(r.Context(), ns, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, scopes)
}

func (h *Handlers) PutScope(w http.ResponseWriter, r *http.Request) {
	var scope models.Scope
	if err := json.NewDecoder(r.Body).Decode(&scope); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	scope.Name = chi.URLParam(r, "scopeName")
	if scope.Namespace == "" {
		scope.Namespace = middleware.GetNamespace(r.Context())
	}
	out, err := h.Core.PutScope(r.Context(), &scope, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetScope(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	name := chi.URLParam(r, "scopeName")
	out, err := h.Core.GetScope(r.Context(), ns, name, identityFrom(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) DeleteScope(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	name := chi.URLParam(r, "scopeName")
	if err := h.Core.DeleteScope(r.Context(), ns, name, identityFrom(r)); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) LoadScopeTable(w http.ResponseWriter, r *http.Request) {
	ns := middleware.GetNamespace(r.Context())
	snap, err := h.Core.LoadScopeTable(r.Context(), ns)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// ══════════════════════════════════════════════════════════════
// ── System health & live feed ────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) SystemHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Core.SystemHealth(r.Context()))
}

var healthFeedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Admin tooling may run on a different origin (dashboard dev server);
	// the auth middleware already gates access to this path.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HealthFeed streams live health.Event transitions to an admin websocket
// client as they're published by the supervisor (G), one JSON object per
// message, until the client disconnects.
func (h *Handlers) HealthFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := healthFeedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("health feed upgrade failed")
		return
	}
	defer conn.Close()

	id, events := h.Core.SubscribeHealth(64)
	defer h.Core.UnsubscribeHealth(id)

	// Drain client reads so a closed connection is noticed promptly even
	// though this handler never expects incoming messages.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// ══════════════════════════════════════════════════════════════
// ── Helpers ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func parseEntityFilter(r *http.Request) orchestrator.EntityFilter {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	return orchestrator.EntityFilter{
		Tag:         r.URL.Query().Get("tag"),
		EnabledOnly: r.URL.Query().Get("enabled_only") == "true",
		Limit:       limit,
		Cursor:      r.URL.Query().Get("cursor"),
	}
}

// entityPath reads the entity's service path from the "path" query
// parameter, since service paths carry slashes ("/svc/foo/bar") that chi's
// URL-segment routing can't capture in the middle of a route template.
func entityPath(r *http.Request) string {
	return r.URL.Query().Get("path")
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps the orchestrator's tagged error taxonomy (§7) to HTTP
// status codes, falling back to 500 for anything unrecognized.
func respondErr(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *contracts.NotFound:
		respondError(w, http.StatusNotFound, e.Error())
	case *contracts.Conflict:
		respondError(w, http.StatusConflict, e.Error())
	case *contracts.Invalid:
		respondError(w, http.StatusBadRequest, e.Error())
	case *contracts.Forbidden:
		respondError(w, http.StatusForbidden, e.Error())
	case *contracts.TokenInvalid:
		respondError(w, http.StatusUnauthorized, e.Error())
	case *contracts.BackendUnavailable:
		respondError(w, http.StatusServiceUnavailable, e.Error())
	case *contracts.EmbeddingsFailed:
		respondError(w, http.StatusBadGateway, e.Error())
	case *contracts.IndexStale:
		respondError(w, http.StatusAccepted, e.Error())
	case *contracts.Internal:
		respondError(w, http.StatusInternalServerError, e.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
