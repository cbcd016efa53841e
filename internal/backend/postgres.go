package backend

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentoven/registry-gateway/control-plane/pkg/contracts"
	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Postgres is the native-ANN Driver implementation: a single `registry_kv`
// table holding collection/key/record/vector columns, queried with pgvector's
// `<=>` cosine-distance operator. Adapted from the control plane's original
// pgvector store, generalized from a single fixed collection to the full
// generic collection/key/Record shape the Driver interface requires, and
// bootstrapped via golang-migrate instead of an inline CREATE TABLE string.
type Postgres struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPostgres opens a pool against connURL and runs the embedded migrations.
// dimensions is the fixed vector width for this process's configured
// embeddings model (§4.C); mismatched-width vectors are rejected by Put.
func NewPostgres(ctx context.Context, connURL string, dimensions int) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, &contracts.BackendUnavailable{Cause: fmt.Errorf("open pool: %w", err)}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, &contracts.BackendUnavailable{Cause: fmt.Errorf("ping: %w", err)}
	}

	p := &Postgres{pool: pool, dimensions: dimensions}
	if err := p.runMigrations(connURL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Int("dimensions", dimensions).Msg("🐘 postgres backend driver connected")
	return p, nil
}

func (p *Postgres) runMigrations(connURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	db, err := pgxmigrate.WithInstance(p.pool)
	if err != nil {
		return err
	}
	_ = connURL // retained for parity with drivers that need a raw DSN
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, collection, key string) (Record, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT record FROM registry_kv WHERE collection=$1 AND key=$2`, collection, key,
	).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, &contracts.NotFound{Entity: collection, Key: key}
	}
	if err != nil {
		return nil, &contracts.BackendUnavailable{Cause: err}
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func (p *Postgres) Put(ctx context.Context, collection, key string, record Record) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	var vecLiteral any
	if v, ok := toFloat64Slice(record["vector"]); ok {
		if p.dimensions > 0 && len(v) != p.dimensions {
			return &contracts.Invalid{Field: "vector", Reason: fmt.Sprintf("expected dimension %d, got %d", p.dimensions, len(v))}
		}
		vecLiteral = pgvectorLiteral(v)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO registry_kv (collection, key, record, vector, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (collection, key) DO UPDATE
		SET record = EXCLUDED.record, vector = EXCLUDED.vector, updated_at = now()
	`, collection, key, raw, vecLiteral)
	if err != nil {
		return &contracts.BackendUnavailable{Cause: err}
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, collection, key string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM registry_kv WHERE collection=$1 AND key=$2`, collection, key)
	if err != nil {
		return false, &contracts.BackendUnavailable{Cause: err}
	}
	return tag.RowsAffected() > 0, nil
}

type postgresIterator struct {
	rows pgx.Rows
}

func (it *postgresIterator) Next(_ context.Context) (string, Record, bool, error) {
	if !it.rows.Next() {
		return "", nil, false, it.rows.Err()
	}
	var key string
	var raw []byte
	if err := it.rows.Scan(&key, &raw); err != nil {
		return "", nil, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", nil, false, err
	}
	return key, rec, true, nil
}

func (it *postgresIterator) Close() error {
	it.rows.Close()
	return nil
}

func (p *Postgres) List(ctx context.Context, collection string, filter Filter, opts ListOptions) (Iterator, error) {
	query := `SELECT key, record FROM registry_kv WHERE collection = $1`
	args := []any{collection}
	// Each predicate becomes a text equality on record->>field, with the
	// wanted value rendered through %v. A list-valued predicate is not
	// treated as set membership here; it is compared as its rendered text.
	for field, want := range filter {
		args = append(args, field, fmt.Sprintf("%v", want))
		query += fmt.Sprintf(` AND record->>$%d = $%d`, len(args)-1, len(args))
	}
	if opts.Sort != "" {
		field := strings.TrimPrefix(opts.Sort, "-")
		dir := "ASC"
		if strings.HasPrefix(opts.Sort, "-") {
			dir = "DESC"
		}
		query += fmt.Sprintf(` ORDER BY record->>'%s' %s`, field, dir)
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &contracts.BackendUnavailable{Cause: err}
	}
	return &postgresIterator{rows: rows}, nil
}

// VectorSearch uses pgvector's native `<=>` cosine-distance operator,
// matching the spec's "uses native ANN when the backend supports it" branch.
func (p *Postgres) VectorSearch(ctx context.Context, collection string, query []float64, k int, filter Filter) ([]ScoredKey, error) {
	sqlQuery := `
		SELECT key, 1 - (vector <=> $1) AS score
		FROM registry_kv
		WHERE collection = $2 AND vector IS NOT NULL
		ORDER BY vector <=> $1
		LIMIT $3`
	rows, err := p.pool.Query(ctx, sqlQuery, pgvectorLiteral(query), collection, k)
	if err != nil {
		return nil, &contracts.BackendUnavailable{Cause: err}
	}
	defer rows.Close()

	var out []ScoredKey
	for rows.Next() {
		var sk ScoredKey
		if err := rows.Scan(&sk.Key, &sk.Score); err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// EnsureSchema is idempotent: the table is created once by the embedded
// migrations (its vector column has no fixed dimension; Put checks vector
// width against the configured dimensions); per-collection setup beyond that
// is unnecessary since all collections share one table, partitioned by the
// `collection` column.
func (p *Postgres) EnsureSchema(_ context.Context, _ CollectionSpec) error { return nil }

func (p *Postgres) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// pgvectorLiteral renders a []float64 as pgvector's text input format "[1,2,3]".
func pgvectorLiteral(v []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

var _ Driver = (*Postgres)(nil)
