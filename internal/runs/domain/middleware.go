package domain

import (
	"context"
	"log/slog"
	"time"

	"github.com/pendergraft/appstatus/internal/auth"
)

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Check(ctx context.Context, req CheckRequest) (*Run, error) {
	start := time.Now()
	run, err := m.next.Check(ctx, req)
	attrs := []any{
		"network", req.Network,
		"app", req.AppAddress,
		"duration", time.Since(start),
	}
	if key := auth.GetAPIKeyFromContext(ctx); key != nil {
		attrs = append(attrs, "key", key.Name)
	}
	if run != nil {
		attrs = append(attrs,
			"run", run.ID,
			"block", run.BlockNumber,
			"discrepancies", len(run.Entries),
		)
	}
	attrs = append(attrs, "error", err)
	m.logger.Info("Check", attrs...)
	return run, err
}

func (m *loggingMiddleware) Get(ctx context.Context, id string) (*Run, error) {
	start := time.Now()
	run, err := m.next.Get(ctx, id)
	m.logger.Debug("Get",
		"id", id,
		"duration", time.Since(start),
		"error", err,
	)
	return run, err
}

func (m *loggingMiddleware) List(ctx context.Context, filter ListFilter, pagination PaginationParams) (*ListResult, error) {
	start := time.Now()
	result, err := m.next.List(ctx, filter, pagination)
	m.logger.Debug("List",
		"network", filter.Network,
		"limit", pagination.Limit,
		"cursor", pagination.Cursor,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}
