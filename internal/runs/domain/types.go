// Package domain contains the business logic for reconciliation runs.
package domain

import (
	"time"

	"github.com/pendergraft/appstatus/internal/status"
)

// Run is a stored reconciliation of one network file against the ledger.
type Run struct {
	ID          string
	Network     string
	AppAddress  string
	BlockNumber uint64
	MatchMode   string
	Clean       bool
	Entries     []status.Entry
	CreatedAt   time.Time
}

// CheckRequest is the request to reconcile a network.
type CheckRequest struct {
	Network    string `json:"network"`
	AppAddress string `json:"app,omitempty"`
}

// ListFilter contains filter options for listing runs.
type ListFilter struct {
	Network    string
	AppAddress string
	Clean      *bool
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult contains paginated list results.
type ListResult struct {
	Runs       []Run
	HasMore    bool
	NextCursor string
}
