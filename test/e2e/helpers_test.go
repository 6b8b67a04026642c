//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/appstatus/internal/config"
	"github.com/pendergraft/appstatus/internal/ledger"
	runsDomain "github.com/pendergraft/appstatus/internal/runs/domain"
	"github.com/pendergraft/appstatus/internal/server"
	"github.com/pendergraft/appstatus/internal/storage"
	"github.com/pendergraft/appstatus/pkg/client"
)

const (
	appAddress       = "0x00000000000000000000000000000000000000a1"
	directoryAddress = "0x00000000000000000000000000000000000000d1"
)

// networkFiles are written to the manifest dir. "stale" records a contract
// the directory never registered and a newer version than the ledger has.
var networkFiles = map[string]string{
	"dev": `{
  "app": {"address": "` + appAddress + `"},
  "version": "1.0.0",
  "provider": {"address": "` + directoryAddress + `"},
  "stdlib": {}
}`,
	"stale": `{
  "app": {"address": "` + appAddress + `"},
  "version": "1.1.0",
  "provider": {"address": "` + directoryAddress + `"},
  "stdlib": {},
  "contracts": {
    "Token": {
      "address": "0x00000000000000000000000000000000000000c1",
      "constructorCode": "0x6080",
      "bytecodeHash": "0x00"
    }
  }
}`,
	"offline": `{
  "app": {"address": "` + appAddress + `"},
  "version": "1.0.0"
}`,
}

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	ManifestDir       string
	TestServer        *httptest.Server
	Store             storage.Store
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("appstatus"),
		postgres.WithUsername("appstatus"),
		postgres.WithPassword("appstatus"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// writeNetworkFilesE writes networkFiles into a fresh temp dir
func writeNetworkFilesE() (string, error) {
	dir, err := os.MkdirTemp("", "appstatus-e2e-")
	if err != nil {
		return "", err
	}
	for network, doc := range networkFiles {
		if err := os.WriteFile(filepath.Join(dir, "zos."+network+".json"), []byte(doc), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

// chainLedger serves a fixed application snapshot.
type chainLedger struct {
	version string
	block   uint64
}

func (l *chainLedger) ResolveApp(ctx context.Context, address common.Address) (*ledger.App, error) {
	return &ledger.App{
		Address:   address,
		Version:   l.version,
		Directory: common.HexToAddress(directoryAddress),
		Block:     l.block,
	}, nil
}

func (l *chainLedger) ProxyImplementation(ctx context.Context, app *ledger.App, proxy common.Address) (common.Address, error) {
	return common.Address{}, nil
}

func (l *chainLedger) ImplementationChanges(ctx context.Context, directory common.Address) ([]ledger.ImplementationChanged, error) {
	return nil, nil
}

func (l *chainLedger) ProxiesCreated(ctx context.Context, factory common.Address) ([]ledger.ProxyCreated, error) {
	return nil, nil
}

func (l *chainLedger) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return nil, nil
}

func (l *chainLedger) Block() uint64 { return l.block }

// chainDialer stands in for JSON-RPC endpoints. "offline" is configured but
// never answers.
type chainDialer struct{}

func (chainDialer) Networks() []string {
	return []string{"dev", "offline", "stale"}
}

func (chainDialer) Open(ctx context.Context, network string) (runsDomain.Ledger, func(), error) {
	switch network {
	case "dev", "stale":
		return &chainLedger{version: "1.0.0", block: 4200}, func() {}, nil
	case "offline":
		return nil, nil, errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
	default:
		return nil, nil, fmt.Errorf("%w: %s", runsDomain.ErrNetworkNotFound, network)
	}
}

// startServerE starts the appstatus server in-process against Postgres
func startServerE(connString, manifestDir string) (*httptest.Server, storage.Store, error) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			Host:           "0.0.0.0",
			RequestTimeout: 30,
			MaxBodySizeKB:  16,
		},
		Storage: config.StorageConfig{
			Type: "postgres",
			Postgres: config.PostgresConfig{
				URL: connString,
			},
		},
		Auth:      config.AuthConfig{Type: "api-key"},
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Proxy:     config.ProxyConfig{TrustProxy: false},
		Ledger:    config.LedgerConfig{Concurrency: 4, Timeout: 10 * time.Second},
		Status:    config.StatusConfig{ManifestDir: manifestDir, MatchMode: "scan"},
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	srv, err := server.New(cfg, store, logger, server.WithDialer(chainDialer{}))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}

	return httptest.NewServer(srv.Handler()), store, nil
}

// newClient creates a new API client for the test server
func newClient(testServer *httptest.Server, apiKey string) *client.Client {
	return client.New(testServer.URL, apiKey)
}

// createTestAPIKey creates a test API key using the store directly
func createTestAPIKey(t *testing.T, store storage.Store, name string) string {
	key, err := store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err, "Failed to create API key")
	return key
}

// assertHTTPError asserts that an error is an APIError with the expected code
func assertHTTPError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "Error should be an APIError")
	require.Equal(t, expectedCode, apiErr.Code, "Error code mismatch")
}
