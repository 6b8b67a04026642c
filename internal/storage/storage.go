package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pendergraft/appstatus/internal/config"
)

// RunStore handles reconciliation run history
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter, pagination PaginationParams) (*PaginatedResult[Run], error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	RunStore
	APIKeyStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Run is a stored reconciliation run
type Run struct {
	ID          string
	Seq         int64 // insertion order, used as the pagination cursor
	Network     string
	AppAddress  string
	BlockNumber int64
	MatchMode   string
	Clean       bool
	EntryCount  int
	Entries     []byte // JSON encoded report
	CreatedAt   string
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// RunFilter contains filter options for listing runs
type RunFilter struct {
	Network    string
	AppAddress string
	Clean      *bool
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
