// Package models defines the entity shapes persisted and served by the
// registry control plane: Servers, Agents, Scopes, embedding records, and
// security scan records.
package models

import (
	"strings"
	"time"
)

// EntityKind discriminates between the two registrable entity families.
type EntityKind string

const (
	EntityKindServer EntityKind = "server"
	EntityKindAgent  EntityKind = "agent"
)

// Transport is a supported wire transport for an upstream server.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
	TransportSSE            Transport = "sse"
)

// HealthState is the health supervisor's view of a registrable's liveness.
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthDisabled  HealthState = "disabled"
)

// Health is the denormalized health subrecord merged into a registrable's
// snapshot by GetEntity. It is owned exclusively by the health supervisor.
type Health struct {
	State                HealthState `json:"state"`
	LastProbeAt          time.Time   `json:"last_probe_at,omitempty"`
	LastOKAt             time.Time   `json:"last_ok_at,omitempty"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
}

// Tool is a single tool exposed by an MCP server.
type Tool struct {
	Name        string         `json:"name"        db:"name"        validate:"required"`
	Description string         `json:"description" db:"description"`
	InputSchema map[string]any `json:"inputSchema"  db:"input_schema"`
	Annotations map[string]any `json:"annotations,omitempty" db:"annotations"`
	Tags        []string       `json:"tags,omitempty" db:"tags"`
}

// Skill is a single capability exposed by an A2A agent.
type Skill struct {
	ID          string   `json:"id"          db:"id"          validate:"required"`
	Name        string   `json:"name"        db:"name"`
	Description string   `json:"description" db:"description"`
	Tags        []string `json:"tags,omitempty" db:"tags"`
}

// Registrable is the contract shared by Server and Agent: the entity shapes
// that the vector index (D) and health supervisor (G) operate on generically,
// without knowing whether the underlying record is a server or an agent.
type Registrable interface {
	GetPath() string
	GetNamespace() string
	GetEntityKind() EntityKind
	IsEnabled() bool
	TextBlob() string
}

// Server is a registered MCP upstream.
type Server struct {
	Path                 string            `json:"path"                 db:"path"      validate:"required"`
	Namespace            string            `json:"namespace"            db:"namespace" validate:"required"`
	Name                 string            `json:"name"                 db:"name"      validate:"required"`
	Description          string            `json:"description"          db:"description"`
	ProxyURL             string            `json:"proxy_url"            db:"proxy_url" validate:"required,url"`
	SupportedTransports  []Transport       `json:"supported_transports" db:"supported_transports"`
	Tags                 []string          `json:"tags,omitempty"       db:"tags"`
	Tools                []Tool            `json:"tools,omitempty"      db:"tools"`
	Version              string            `json:"version"              db:"version"`
	IsEnabledFlag        bool              `json:"is_enabled"           db:"is_enabled"`
	AuthProviderInfo     map[string]string `json:"auth_provider_info,omitempty" db:"auth_provider_info"`
	Health               *Health           `json:"health,omitempty"     db:"-"`
	CreatedAt            time.Time         `json:"created_at"           db:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"           db:"updated_at"`
}

func (s *Server) GetPath() string           { return s.Path }
func (s *Server) GetNamespace() string      { return s.Namespace }
func (s *Server) GetEntityKind() EntityKind { return EntityKindServer }
func (s *Server) IsEnabled() bool           { return s.IsEnabledFlag }

// TextBlob is the deterministic concatenation of searchable fields consumed
// by the embeddings client. Order is fixed so that re-running it against an
// unchanged entity always yields a byte-identical blob (D relies on this to
// decide whether a re-embed is needed).
func (s *Server) TextBlob() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteString("\n")
	b.WriteString(s.Description)
	b.WriteString("\n")
	b.WriteString(strings.Join(s.Tags, " "))
	for _, t := range s.Tools {
		b.WriteString("\n")
		b.WriteString(t.Name)
		b.WriteString(" ")
		b.WriteString(t.Description)
	}
	return b.String()
}

// Agent is a registered A2A endpoint.
type Agent struct {
	Path                string            `json:"path"                 db:"path"      validate:"required"`
	Namespace           string            `json:"namespace"            db:"namespace" validate:"required"`
	Name                string            `json:"name"                 db:"name"      validate:"required"`
	Description         string            `json:"description"          db:"description"`
	ProxyURL            string            `json:"proxy_url"            db:"proxy_url" validate:"required,url"`
	SupportedTransports []Transport       `json:"supported_transports" db:"supported_transports"`
	Tags                []string          `json:"tags,omitempty"       db:"tags"`
	Skills              []Skill           `json:"skills,omitempty"     db:"skills"`
	Version             string            `json:"version"              db:"version"`
	IsEnabledFlag       bool              `json:"is_enabled"           db:"is_enabled"`
	AuthProviderInfo    map[string]string `json:"auth_provider_info,omitempty" db:"auth_provider_info"`
	Health              *Health           `json:"health,omitempty"     db:"-"`
	CreatedAt           time.Time         `json:"created_at"           db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"           db:"updated_at"`
}

func (a *Agent) GetPath() string           { return a.Path }
func (a *Agent) GetNamespace() string      { return a.Namespace }
func (a *Agent) GetEntityKind() EntityKind { return EntityKindAgent }
func (a *Agent) IsEnabled() bool           { return a.IsEnabledFlag }

func (a *Agent) TextBlob() string {
	var b strings.Builder
	b.WriteString(a.Name)
	b.WriteString("\n")
	b.WriteString(a.Description)
	b.WriteString("\n")
	b.WriteString(strings.Join(a.Tags, " "))
	for _, sk := range a.Skills {
		b.WriteString("\n")
		b.WriteString(sk.Name)
		b.WriteString(" ")
		b.WriteString(sk.Description)
	}
	return b.String()
}

// Permission is a single grant inside a Scope: which server(s), which
// method(s), and (optionally) which tool(s) it authorizes.
type Permission struct {
	Server  string   `json:"server"`
	Methods []string `json:"methods"`
	Tools   []string `json:"tools,omitempty"`
}

// Scope is a declarative, named permission grant. Scope names are matched
// against a caller's group memberships by the policy engine (E).
type Scope struct {
	Name        string       `json:"name"        db:"name" validate:"required"`
	Namespace   string       `json:"namespace"   db:"namespace" validate:"required"`
	Description string       `json:"description" db:"description"`
	Permissions []Permission `json:"permissions" db:"permissions"`
	CreatedAt   time.Time    `json:"created_at"  db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"  db:"updated_at"`
}

// EmbeddingRecord is one row per indexed entity: the vector and the text
// blob that produced it, so the synchronizer can tell whether a re-embed
// is needed without recomputing the vector speculatively.
type EmbeddingRecord struct {
	EntityPath string     `json:"entity_path" db:"entity_path"`
	EntityKind EntityKind `json:"entity_kind" db:"entity_kind"`
	Namespace  string     `json:"namespace"   db:"namespace"`
	Vector     []float64  `json:"vector"      db:"vector"`
	TextBlob   string     `json:"text_blob"   db:"text_blob"`
	UpdatedAt  time.Time  `json:"updated_at"  db:"updated_at"`
}

// ScanStatus is the lifecycle state of a SecurityScanRecord.
type ScanStatus string

const (
	ScanPending ScanStatus = "pending"
	ScanRunning ScanStatus = "running"
	ScanPassed  ScanStatus = "passed"
	ScanFailed  ScanStatus = "failed"
	ScanError   ScanStatus = "error"
)

// SecurityScanRecord is the stored result of a security scan of a registered
// entity. The store persists it (CreateScan, UpdateScan); registration does
// not start a scan, and nothing in this module creates one.
// Retained indefinitely (audit trail); never deleted by the store itself.
type SecurityScanRecord struct {
	ScanID     string     `json:"scan_id"     db:"scan_id"`
	EntityPath string     `json:"entity_path" db:"entity_path"`
	EntityKind EntityKind `json:"entity_kind" db:"entity_kind"`
	Namespace  string     `json:"namespace"   db:"namespace"`
	Status     ScanStatus `json:"status"      db:"status"`
	Findings   []string   `json:"findings,omitempty" db:"findings"`
	ScannedAt  time.Time  `json:"scanned_at"  db:"scanned_at"`
}

// DeadLetterRecord is the audit trail left by the vector index (D) when a
// change event's re-embed keeps failing with a transient EmbeddingsFailed
// past the retry budget (maxUpsertRetries requeues), or fails with a
// non-transient error. Retained indefinitely, same as
// SecurityScanRecord, so an operator can see why an entity's embedding
// never converged without correlating raw log lines.
type DeadLetterRecord struct {
	Namespace  string     `json:"namespace"   db:"namespace"`
	EntityPath string     `json:"entity_path" db:"entity_path"`
	EntityKind EntityKind `json:"entity_kind" db:"entity_kind"`
	Op         ChangeOp   `json:"op"          db:"op"`
	Attempts   int        `json:"attempts"    db:"attempts"`
	Reason     string     `json:"reason"      db:"reason"`
	CreatedAt  time.Time  `json:"created_at"  db:"created_at"`
}

// ChangeOp is the mutation kind carried by a ChangeEvent.
type ChangeOp string

const (
	ChangeCreated ChangeOp = "created"
	ChangeUpdated ChangeOp = "updated"
	ChangeDeleted ChangeOp = "deleted"
	ChangeToggled ChangeOp = "toggled"
)

// ChangeEvent is broadcast by the entity store after every successful
// mutation. The vector index (D) and health supervisor (G) are the two
// built-in subscribers; admin tooling may subscribe over the websocket feed.
type ChangeEvent struct {
	Kind      EntityKind  `json:"kind"`
	Namespace string      `json:"namespace"`
	Path      string      `json:"path"`
	Op        ChangeOp    `json:"op"`
	Snapshot  Registrable `json:"snapshot,omitempty"`
}

// SearchResult is one ranked hit from the vector index's Search operation.
type SearchResult struct {
	Path     string      `json:"path"`
	Score    float64     `json:"score"`
	Snapshot Registrable `json:"snapshot"`
}

// ScoredKey is a single hit from the backend driver's VectorSearch, before
// it has been joined back against the entity store for a full snapshot.
type ScoredKey struct {
	Key   string  `json:"key"`
	Score float64 `json:"score"`
}
