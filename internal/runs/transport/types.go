// Package transport provides HTTP request/response types for the runs domain.
package transport

import "github.com/pendergraft/appstatus/internal/status"

// RunResponse is a run with its full report.
type RunResponse struct {
	ID          string         `json:"id"`
	Network     string         `json:"network"`
	App         string         `json:"app"`
	BlockNumber uint64         `json:"blockNumber"`
	MatchMode   string         `json:"matchMode"`
	Clean       bool           `json:"clean"`
	Entries     []status.Entry `json:"entries"`
	CreatedAt   string         `json:"createdAt,omitempty"`
}

// ListResponse is the response for listing runs.
type ListResponse struct {
	Data       []RunSummary `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// RunSummary is a run in a list.
type RunSummary struct {
	ID            string `json:"id"`
	Network       string `json:"network"`
	App           string `json:"app"`
	BlockNumber   uint64 `json:"blockNumber"`
	Clean         bool   `json:"clean"`
	Discrepancies int    `json:"discrepancies"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// Pagination contains pagination info.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}
