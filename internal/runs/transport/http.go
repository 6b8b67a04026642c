// Package transport provides HTTP handlers for the runs domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/appstatus/internal/runs/domain"
	"github.com/pendergraft/appstatus/internal/status"
)

// Service defines the runs service interface for HTTP transport.
type Service interface {
	Check(ctx context.Context, req domain.CheckRequest) (*domain.Run, error)
	Get(ctx context.Context, id string) (*domain.Run, error)
	List(ctx context.Context, filter domain.ListFilter, pagination domain.PaginationParams) (*domain.ListResult, error)
}

// Handler handles HTTP requests for runs.
type Handler struct {
	svc Service
}

// NewHandler creates a new runs HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterReadRoutes registers read-only run routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{id}", h.handleGet)
}

// RegisterWriteRoutes registers routes that start runs (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/", h.handleCheck)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req domain.CheckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
		return
	}

	run, err := h.svc.Check(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidNetwork), errors.Is(err, domain.ErrInvalidAddress):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		case errors.Is(err, domain.ErrNetworkNotFound), errors.Is(err, domain.ErrNoManifest):
			writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		case errors.Is(err, domain.ErrManifest):
			writeError(w, http.StatusUnprocessableEntity, "INVALID_NETWORK_FILE", err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "LEDGER_TIMEOUT", "Ledger did not answer in time")
		default:
			writeError(w, http.StatusBadGateway, "LEDGER_ERROR", "Failed to reconcile network")
		}
		return
	}

	writeJSON(w, http.StatusCreated, toRunResponse(run))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(run))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	limit := 20
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	var clean *bool
	if v := query.Get("clean"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "clean must be true or false")
			return
		}
		clean = &b
	}

	result, err := h.svc.List(r.Context(), domain.ListFilter{
		Network:    query.Get("network"),
		AppAddress: query.Get("app"),
		Clean:      clean,
	}, domain.PaginationParams{
		Limit:  limit,
		Cursor: query.Get("cursor"),
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCursor), errors.Is(err, domain.ErrInvalidAddress):
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs")
		}
		return
	}

	data := make([]RunSummary, len(result.Runs))
	for i, run := range result.Runs {
		data[i] = RunSummary{
			ID:            run.ID,
			Network:       run.Network,
			App:           run.AppAddress,
			BlockNumber:   run.BlockNumber,
			Clean:         run.Clean,
			Discrepancies: len(run.Entries),
			CreatedAt:     formatTime(run.CreatedAt),
		}
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func toRunResponse(run *domain.Run) RunResponse {
	entries := run.Entries
	if entries == nil {
		entries = []status.Entry{}
	}
	return RunResponse{
		ID:          run.ID,
		Network:     run.Network,
		App:         run.AppAddress,
		BlockNumber: run.BlockNumber,
		MatchMode:   run.MatchMode,
		Clean:       run.Clean,
		Entries:     entries,
		CreatedAt:   formatTime(run.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
