package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const pgTimeLayout = "2006-01-02 15:04:05"

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Reconciliation runs
	CREATE TABLE IF NOT EXISTS runs (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		network TEXT NOT NULL,
		app_address TEXT NOT NULL,
		block_number BIGINT NOT NULL,
		match_mode TEXT NOT NULL,
		clean BOOLEAN NOT NULL,
		entry_count INTEGER NOT NULL,
		entries JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_runs_network ON runs(network, seq);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// CreateRun stores a run. ID, Seq and CreatedAt are filled in.
func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = generateID()
	}
	query := `
		INSERT INTO runs (id, network, app_address, block_number, match_mode, clean, entry_count, entries)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq, created_at
	`
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query,
		run.ID, run.Network, run.AppAddress, run.BlockNumber, run.MatchMode, run.Clean, run.EntryCount, string(run.Entries),
	).Scan(&run.Seq, &createdAt)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	run.CreatedAt = createdAt.UTC().Format(pgTimeLayout)
	return nil
}

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT seq, id, network, app_address, block_number, match_mode, clean, entry_count, entries, created_at
		FROM runs
		WHERE id::text = $1
	`
	var r Run
	var entries string
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.Seq, &r.ID, &r.Network, &r.AppAddress, &r.BlockNumber, &r.MatchMode, &r.Clean, &r.EntryCount, &entries, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Entries = []byte(entries)
	r.CreatedAt = createdAt.UTC().Format(pgTimeLayout)
	return &r, nil
}

// ListRuns lists runs, newest first, with cursor-based pagination
func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error) {
	cursor, err := parseCursor(pagination.Cursor)
	if err != nil {
		return nil, err
	}

	where, args := runQuery(filter, cursor, func(n int) string { return fmt.Sprintf("$%d", n) })
	query := fmt.Sprintf(`SELECT seq, id, network, app_address, block_number, match_mode, clean, entry_count, created_at FROM runs%s ORDER BY seq DESC LIMIT $%d`,
		where, len(args)+1)
	args = append(args, pagination.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdAt time.Time
		if err := rows.Scan(&r.Seq, &r.ID, &r.Network, &r.AppAddress, &r.BlockNumber, &r.MatchMode, &r.Clean, &r.EntryCount, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = createdAt.UTC().Format(pgTimeLayout)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return paginate(runs, pagination.Limit), nil
}

// CreateAPIKey creates a new API key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	hash := hashAPIKey(key)
	id := generateID()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name) VALUES ($1, $2, $3)", id, hash, name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	hash := hashAPIKey(key)
	var ak APIKey
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hash).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ak.CreatedAt = createdAt.UTC().Format(pgTimeLayout)
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var createdAt time.Time
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt = createdAt.UTC().Format(pgTimeLayout)
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.Time.UTC().Format(pgTimeLayout)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id::text = $1 AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
