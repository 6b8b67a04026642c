// Package client provides a Go client for the appstatus API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is an appstatus API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new appstatus client. Runs can take as long as the ledger
// needs to answer, so the default timeout is generous.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Value is an expected or observed value of a report entry. Counts arrive
// as JSON numbers and are kept as their decimal text.
type Value string

// UnmarshalJSON accepts a string or a number.
func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("report value must be a string or number: %s", data)
	}
	*v = Value(n.String())
	return nil
}

// Entry is a single discrepancy
type Entry struct {
	Expected    Value  `json:"expected"`
	Observed    Value  `json:"observed"`
	Description string `json:"description"`
}

// Run is a reconciliation run with its report
type Run struct {
	ID          string  `json:"id"`
	Network     string  `json:"network"`
	App         string  `json:"app"`
	BlockNumber uint64  `json:"blockNumber"`
	MatchMode   string  `json:"matchMode"`
	Clean       bool    `json:"clean"`
	Entries     []Entry `json:"entries"`
	CreatedAt   string  `json:"createdAt,omitempty"`
}

// RunSummary is a run as listed
type RunSummary struct {
	ID            string `json:"id"`
	Network       string `json:"network"`
	App           string `json:"app"`
	BlockNumber   uint64 `json:"blockNumber"`
	Clean         bool   `json:"clean"`
	Discrepancies int    `json:"discrepancies"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// CheckRequest is the request for starting a run
type CheckRequest struct {
	Network string `json:"network"`
	App     string `json:"app,omitempty"`
}

// ListRunsOptions filters a run listing
type ListRunsOptions struct {
	Network string
	App     string
	Clean   *bool
	Limit   int
	Cursor  string
}

// ListRunsResponse is the response for listing runs
type ListRunsResponse struct {
	Data       []RunSummary `json:"data"`
	Pagination Pagination   `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Check reconciles a network on the server and returns the stored run.
func (c *Client) Check(ctx context.Context, req CheckRequest) (*Run, error) {
	var resp Run
	if err := c.post(ctx, "/api/v1/runs", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun gets a run by ID
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var resp Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns lists runs, newest first
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) (*ListRunsResponse, error) {
	q := url.Values{}
	if opts.Network != "" {
		q.Set("network", opts.Network)
	}
	if opts.App != "" {
		q.Set("app", opts.App)
	}
	if opts.Clean != nil {
		q.Set("clean", strconv.FormatBool(*opts.Clean))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListRunsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Networks lists the networks the server can reconcile
func (c *Client) Networks(ctx context.Context) ([]string, error) {
	var resp struct {
		Data []string `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/networks", &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Health checks that the server is up
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.Status = resp.StatusCode
	return &errResp.Error
}
