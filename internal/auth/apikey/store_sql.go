package apikey

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avauthn/internal/observability"
)

const (
	findByPrefixQuery = `SELECT id, prefix, salt, hash, algorithm, owner, name, scopes, enabled, revoked, expires_at, created_at
FROM api_keys
WHERE prefix = $1`

	revocationQuery = `SELECT revoked, enabled FROM api_keys WHERE id = $1`

	insertRecordQuery = `INSERT INTO api_keys (id, prefix, salt, hash, algorithm, owner, name, scopes, enabled, revoked, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
)

// SQLStore reads records from a PostgreSQL api_keys table.
type SQLStore struct {
	db     *sql.DB
	logger observability.Logger
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, logger observability.Logger) *SQLStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SQLStore{db: db, logger: logger}
}

// OpenSQLStore opens a PostgreSQL connection pool using lib/pq.
func OpenSQLStore(ctx context.Context, cfg *SQLConfig, logger observability.Logger) (*SQLStore, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, errors.New("sql dsn is required")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return NewSQLStore(db, logger), nil
}

// FindByPrefix implements Store.
func (s *SQLStore) FindByPrefix(ctx context.Context, prefix string) ([]*Record, error) {
	ctx, span := otel.Tracer(storeTracerName).Start(ctx, "apikey.store.find",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("store.backend", "postgres"),
			attribute.String("apikey.prefix", prefix),
		),
	)
	defer span.End()

	rows, err := s.db.QueryContext(ctx, findByPrefixQuery, prefix)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("api key query failed: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("api key query failed: %w", err)
	}

	span.SetAttributes(attribute.Int("apikey.candidates", len(records)))
	return records, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var (
		rec       Record
		algorithm string
		name      sql.NullString
		scopes    pq.StringArray
		expiresAt sql.NullTime
	)
	err := rows.Scan(
		&rec.ID, &rec.Prefix, &rec.Salt, &rec.Hash, &algorithm, &rec.Owner,
		&name, &scopes, &rec.Enabled, &rec.Revoked, &expiresAt, &rec.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key row: %w", err)
	}

	rec.Algorithm = HashAlgorithm(algorithm)
	rec.Name = name.String
	rec.Scopes = []string(scopes)
	if expiresAt.Valid {
		t := expiresAt.Time
		rec.ExpiresAt = &t
	}
	return &rec, nil
}

// IsRevoked implements Store. It re-reads the row so that revocations made
// after candidate lookup are honoured.
func (s *SQLStore) IsRevoked(ctx context.Context, record *Record) (bool, error) {
	var revoked, enabled bool
	err := s.db.QueryRowContext(ctx, revocationQuery, record.ID).Scan(&revoked, &enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("revocation query failed: %w", err)
	}
	return revoked || !enabled, nil
}

// Insert persists a newly issued record.
func (s *SQLStore) Insert(ctx context.Context, rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	var expiresAt interface{}
	if rec.ExpiresAt != nil {
		expiresAt = *rec.ExpiresAt
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, insertRecordQuery,
		rec.ID, rec.Prefix, rec.Salt, rec.Hash, string(rec.Algorithm), rec.Owner,
		rec.Name, pq.Array(rec.Scopes), rec.Enabled, rec.Revoked, expiresAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLStore)(nil)
