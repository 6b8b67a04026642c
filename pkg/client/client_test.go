package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Check(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs" {
			t.Errorf("Expected path /api/v1/runs, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST method, got %s", r.Method)
		}
		if r.Header.Get("X-API-Key") != "my-api-key" {
			t.Errorf("Expected X-API-Key header, got %s", r.Header.Get("X-API-Key"))
		}

		var req CheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req.Network != "mainnet" {
			t.Errorf("Expected network mainnet, got %s", req.Network)
		}

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{
			"id": "run-1",
			"network": "mainnet",
			"app": "0x00000000000000000000000000000000000000a1",
			"blockNumber": 1200,
			"matchMode": "scan",
			"clean": false,
			"entries": [
				{"expected": "1.0.0", "observed": "0.9.0", "description": "App version does not match"},
				{"expected": 1, "observed": 0, "description": "Proxy at 0x01 is pointing to 0x02 but given implementation is not registered in app"}
			]
		}`))
	}))
	defer server.Close()

	client := New(server.URL, "my-api-key")
	run, err := client.Check(context.Background(), CheckRequest{Network: "mainnet"})
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}

	if run.ID != "run-1" || run.BlockNumber != 1200 {
		t.Errorf("Check() = %+v", run)
	}
	if len(run.Entries) != 2 {
		t.Fatalf("Check() returned %d entries, want 2", len(run.Entries))
	}
	if run.Entries[0].Expected != "1.0.0" {
		t.Errorf("Entries[0].Expected = %s, want 1.0.0", run.Entries[0].Expected)
	}
	if run.Entries[1].Expected != "1" || run.Entries[1].Observed != "0" {
		t.Errorf("Entries[1] = %+v, want counts 1 and 0", run.Entries[1])
	}
}

func TestClient_GetRun(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/run-9" {
			t.Errorf("Expected path /api/v1/runs/run-9, got %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "run-9",
			"clean":   true,
			"entries": []any{},
		})
	}))
	defer server.Close()

	run, err := New(server.URL, "").GetRun(context.Background(), "run-9")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if !run.Clean {
		t.Error("GetRun().Clean = false, want true")
	}
}

func TestClient_ListRuns(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("network") != "dev" || q.Get("clean") != "false" || q.Get("limit") != "5" || q.Get("cursor") != "12" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "run-2", "network": "dev", "discrepancies": 3},
			},
			"pagination": map[string]any{"limit": 5, "hasMore": true, "nextCursor": "11"},
		})
	}))
	defer server.Close()

	dirty := false
	resp, err := New(server.URL, "").ListRuns(context.Background(), ListRunsOptions{
		Network: "dev",
		Clean:   &dirty,
		Limit:   5,
		Cursor:  "12",
	})
	if err != nil {
		t.Fatalf("ListRuns() error = %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Discrepancies != 3 {
		t.Errorf("ListRuns().Data = %+v", resp.Data)
	}
	if !resp.Pagination.HasMore || resp.Pagination.NextCursor != "11" {
		t.Errorf("ListRuns().Pagination = %+v", resp.Pagination)
	}
}

func TestClient_Networks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": ["dev", "mainnet"]}`))
	}))
	defer server.Close()

	names, err := New(server.URL, "").Networks(context.Background())
	if err != nil {
		t.Fatalf("Networks() error = %v", err)
	}
	if len(names) != 2 || names[1] != "mainnet" {
		t.Errorf("Networks() = %v", names)
	}
}

func TestClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{
				"code":    "NOT_FOUND",
				"message": "Run not found",
			},
		})
	}))
	defer server.Close()

	_, err := New(server.URL, "").GetRun(context.Background(), "nonexistent")
	if err == nil {
		t.Fatal("Expected error for 404 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.Code != "NOT_FOUND" || apiErr.Status != http.StatusNotFound {
		t.Errorf("Expected NOT_FOUND/404, got %s/%d", apiErr.Code, apiErr.Status)
	}
}

func TestClient_ErrorWithoutEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer server.Close()

	err := New(server.URL, "").Health(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.Code != "HTTP_502" {
		t.Errorf("got %+v", apiErr)
	}
}

func TestValue_UnmarshalJSON(t *testing.T) {
	var e Entry
	if err := json.Unmarshal([]byte(`{"expected": 12, "observed": "none"}`), &e); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if e.Expected != "12" || e.Observed != "none" {
		t.Errorf("got %+v", e)
	}

	if err := json.Unmarshal([]byte(`{"expected": true}`), &e); err == nil {
		t.Error("expected error for boolean value")
	}
}
