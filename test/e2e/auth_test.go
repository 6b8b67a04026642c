//go:build e2e

package e2e

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/appstatus/pkg/client"
)

// TestAuth_UnauthenticatedRead tests that read endpoints work without authentication
func TestAuth_UnauthenticatedRead(t *testing.T) {
	apiKey := createTestAPIKey(t, testCtx.Store, "test-auth-read")
	run, err := newClient(testCtx.TestServer, apiKey).Check(context.Background(), client.CheckRequest{Network: "dev"})
	require.NoError(t, err)

	unauthed := newClient(testCtx.TestServer, "")

	t.Run("get run without auth", func(t *testing.T) {
		got, err := unauthed.GetRun(context.Background(), run.ID)
		require.NoError(t, err)
		assert.Equal(t, run.ID, got.ID)
	})

	t.Run("list runs without auth", func(t *testing.T) {
		resp, err := unauthed.ListRuns(context.Background(), client.ListRunsOptions{Network: "dev"})
		require.NoError(t, err)
		assert.NotEmpty(t, resp.Data)
	})
}

// TestAuth_WriteRejected tests that starting a run requires a valid key
func TestAuth_WriteRejected(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"no key", ""},
		{"malformed key", "not-a-key"},
		{"unknown key", "as_key_000000000000000000000000000000000000000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newClient(testCtx.TestServer, tt.key).Check(context.Background(), client.CheckRequest{Network: "dev"})
			assertHTTPError(t, err, "UNAUTHORIZED")
		})
	}
}

// TestAuth_RevokedKey tests that revoked keys stop working
func TestAuth_RevokedKey(t *testing.T) {
	ctx := context.Background()
	apiKey := createTestAPIKey(t, testCtx.Store, "test-revoke")
	c := newClient(testCtx.TestServer, apiKey)

	_, err := c.Check(ctx, client.CheckRequest{Network: "dev"})
	require.NoError(t, err)

	keys, err := testCtx.Store.ListAPIKeys(ctx)
	require.NoError(t, err)
	var id string
	for _, k := range keys {
		if k.Name == "test-revoke" {
			id = k.ID
		}
	}
	require.NotEmpty(t, id)
	require.NoError(t, testCtx.Store.RevokeAPIKey(ctx, id))

	_, err = c.Check(ctx, client.CheckRequest{Network: "dev"})
	assertHTTPError(t, err, "UNAUTHORIZED")
}
