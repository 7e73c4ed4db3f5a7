//go:build e2e

package e2e

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealth_Endpoints tests all health check endpoints
func TestHealth_Endpoints(t *testing.T) {
	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		t.Run(path+" returns 200", func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, testCtx.TestServer.URL+path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		})
	}

	t.Run("client health", func(t *testing.T) {
		assert.NoError(t, newClient().Health(context.Background()))
	})
}

// TestCORS_Headers tests that CORS headers are set for allowed origins only
func TestCORS_Headers(t *testing.T) {
	t.Run("preflight from allowed origin", func(t *testing.T) {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodOptions, testCtx.TestServer.URL+"/api/v1/verify", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "Content-Type")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("other origin gets no CORS headers", func(t *testing.T) {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, testCtx.TestServer.URL+"/api/v1/compilers/solidity", nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://evil.example.com")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

// TestCompilers lists versions through the client
func TestCompilers(t *testing.T) {
	c := newClient()

	t.Run("solidity", func(t *testing.T) {
		resp, err := c.ListCompilers(context.Background(), "solidity")
		require.NoError(t, err)
		assert.Equal(t, "solidity", resp.Language)
		assert.Equal(t, []string{testVersion}, resp.Versions)
	})

	t.Run("unknown language", func(t *testing.T) {
		_, err := c.ListCompilers(context.Background(), "fortran")
		assertHTTPError(t, err, "INVALID_REQUEST", http.StatusBadRequest)
	})
}

// TestSecurityFilter tests that scanner probes are rejected before routing
func TestSecurityFilter(t *testing.T) {
	for _, path := range []string{"/.env", "/wp-admin/install.php", "/.git/config"} {
		t.Run(path, func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, testCtx.TestServer.URL+path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

// TestNotFoundPaths tests that non-existent paths return 404
func TestNotFoundPaths(t *testing.T) {
	for _, path := range []string{"/api/v1/nonexistent", "/api/v2/verify"} {
		t.Run("path "+path+" returns 404", func(t *testing.T) {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, testCtx.TestServer.URL+path, nil)
			require.NoError(t, err)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	}
}
