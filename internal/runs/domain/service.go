package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pendergraft/appstatus/internal/manifest"
	"github.com/pendergraft/appstatus/internal/observability/metrics"
	"github.com/pendergraft/appstatus/internal/status"
	"github.com/pendergraft/appstatus/internal/storage"
	"github.com/pendergraft/appstatus/internal/validation"
)

// Common errors returned by the runs service.
var (
	ErrNotFound        = errors.New("run not found")
	ErrNetworkNotFound = errors.New("network not configured")
	ErrInvalidNetwork  = errors.New("invalid network name")
	ErrInvalidAddress  = errors.New("invalid app address")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrManifest        = errors.New("network file unusable")
	ErrNoManifest      = errors.New("network file not found")
)

// Service defines the runs service interface.
type Service interface {
	// Check reconciles the network file of a network with the ledger and
	// stores the result.
	Check(ctx context.Context, req CheckRequest) (*Run, error)

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*Run, error)

	// List lists runs, newest first.
	List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error)
}

// Store is the storage used by the runs service.
type Store interface {
	CreateRun(ctx context.Context, run *storage.Run) error
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	ListRuns(ctx context.Context, filter storage.RunFilter, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Run], error)
}

// Ledger is a ledger view pinned to a single block.
type Ledger interface {
	status.Ledger
	Block() uint64
}

// Dialer opens a pinned ledger for a configured network. The returned
// function releases the connection.
type Dialer interface {
	Open(ctx context.Context, network string) (Ledger, func(), error)
}

// Options configures the runs service.
type Options struct {
	ManifestDir string
	MatchMode   status.MatchMode
	Concurrency int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// service implements the Service interface.
type service struct {
	store  Store
	dialer Dialer
	opts   Options
}

// NewService creates a new runs service.
func NewService(store Store, dialer Dialer, opts Options) Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MatchMode == "" {
		opts.MatchMode = status.MatchScan
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = status.DefaultConcurrency
	}
	return &service{store: store, dialer: dialer, opts: opts}
}

// Check reconciles a network and records the run.
func (s *service) Check(ctx context.Context, req CheckRequest) (*Run, error) {
	if err := validation.ValidateNetworkName(req.Network); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNetwork, err)
	}
	if req.AppAddress != "" {
		if err := validation.ValidateAddress(req.AppAddress); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
	}

	nf, err := manifest.LoadNetwork(s.opts.ManifestDir, req.Network)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoManifest, manifest.FileName(req.Network))
		}
		return nil, fmt.Errorf("%w: %w", ErrManifest, err)
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	l, release, err := s.dialer.Open(ctx, req.Network)
	if err != nil {
		metrics.Run(req.Network, metrics.RunError, time.Since(start))
		return nil, err
	}
	defer release()

	appAddress := nf.AppAddress()
	opts := []status.Option{
		status.WithLogger(s.opts.Logger.With("network", req.Network)),
		status.WithConcurrency(s.opts.Concurrency),
		status.WithMatchMode(s.opts.MatchMode),
	}
	if req.AppAddress != "" {
		appAddress = req.AppAddress
		opts = append(opts, status.WithAppAddress(req.AppAddress))
	}

	report, err := status.NewComparator(nf, l, opts...).Run(ctx)
	if err != nil {
		metrics.Run(req.Network, metrics.RunError, time.Since(start))
		if errors.Is(err, status.ErrInvalidApp) || errors.Is(err, manifest.ErrInvalid) {
			return nil, fmt.Errorf("%w: %w", ErrManifest, err)
		}
		return nil, fmt.Errorf("reconciling %s: %w", req.Network, err)
	}

	result := metrics.RunClean
	if !report.Empty() {
		result = metrics.RunDiff
	}
	metrics.Run(req.Network, result, time.Since(start))

	entries, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encoding report: %w", err)
	}

	stored := &storage.Run{
		Network:     req.Network,
		AppAddress:  appAddress,
		BlockNumber: int64(l.Block()),
		MatchMode:   string(s.opts.MatchMode),
		Clean:       report.Empty(),
		EntryCount:  report.Len(),
		Entries:     entries,
	}
	if err := s.store.CreateRun(ctx, stored); err != nil {
		return nil, fmt.Errorf("storing run: %w", err)
	}

	return toRun(stored)
}

// Get retrieves a run by ID.
func (s *service) Get(ctx context.Context, id string) (*Run, error) {
	r, err := s.store.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return toRun(r)
}

// List lists runs with filtering and pagination.
func (s *service) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	if filter.AppAddress != "" {
		if err := validation.ValidateAddress(filter.AppAddress); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
	}

	result, err := s.store.ListRuns(ctx, storage.RunFilter{
		Network:    filter.Network,
		AppAddress: filter.AppAddress,
		Clean:      filter.Clean,
	}, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return nil, ErrInvalidCursor
		}
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	runs := make([]Run, 0, len(result.Data))
	for i := range result.Data {
		r, err := toRun(&result.Data[i])
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}

	return &ListResult{
		Runs:       runs,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}, nil
}

func toRun(r *storage.Run) (*Run, error) {
	report := status.NewReport()
	if len(r.Entries) > 0 {
		if err := json.Unmarshal(r.Entries, report); err != nil {
			return nil, fmt.Errorf("decoding entries of run %s: %w", r.ID, err)
		}
	}

	createdAt, _ := time.Parse("2006-01-02 15:04:05", r.CreatedAt)

	return &Run{
		ID:          r.ID,
		Network:     r.Network,
		AppAddress:  r.AppAddress,
		BlockNumber: uint64(r.BlockNumber),
		MatchMode:   r.MatchMode,
		Clean:       r.Clean,
		Entries:     report.Entries(),
		CreatedAt:   createdAt,
	}, nil
}
