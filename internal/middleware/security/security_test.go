package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestFilterMiddleware(t *testing.T) {
	handler := FilterMiddleware(true)(okHandler())

	tests := []struct {
		path string
		want int
	}{
		{"/api/v1/verify", http.StatusOK},
		{"/api/v1/compilers/solidity", http.StatusOK},
		{"/health", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/wp-login.php", http.StatusBadRequest},
		{"/WP-ADMIN/setup.php", http.StatusBadRequest},
		{"/.env", http.StatusBadRequest},
		{"/.git/config", http.StatusBadRequest},
		{"/cgi-bin/test.sh", http.StatusBadRequest},
		{"/api/v1/../../etc/passwd", http.StatusBadRequest},
		{"/api/v1/..%2f..%2fetc/passwd", http.StatusBadRequest},
		{"/api/v1/%2e%2e/secret", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://localhost"+tt.path, nil)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestFilterMiddleware_Disabled(t *testing.T) {
	handler := FilterMiddleware(false)(okHandler())
	req := httptest.NewRequest("GET", "/wp-admin/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestFilterMiddleware_ResponseFormat(t *testing.T) {
	handler := FilterMiddleware(true)(okHandler())
	req := httptest.NewRequest("GET", "/.env", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var resp map[string]map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "BAD_REQUEST", resp["error"]["code"])
	assert.Equal(t, "Invalid request", resp["error"]["message"])
}

func TestSuspicious(t *testing.T) {
	assert.False(t, Suspicious(&url.URL{Path: "/api/v1/search"}))
	assert.True(t, Suspicious(&url.URL{Path: "/a/../b"}))
	assert.True(t, Suspicious(&url.URL{Path: "/a/..\\b"}))
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		w.Write(body)
	})
}

func TestMaxBodySizeMiddleware(t *testing.T) {
	handler := MaxBodySizeMiddleware(1)(echoHandler())

	t.Run("small body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/verify", strings.NewReader("small body"))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "small body", rr.Body.String())
	})

	t.Run("exact limit", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/verify", strings.NewReader(strings.Repeat("x", 1<<20)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("declared length over limit", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/verify", strings.NewReader(strings.Repeat("x", 2<<20)))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Contains(t, rr.Body.String(), "PAYLOAD_TOO_LARGE")
	})

	t.Run("streamed body over limit", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/verify", io.NopCloser(strings.NewReader(strings.Repeat("x", 2<<20))))
		req.ContentLength = -1
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
		assert.Equal(t, "body too large\n", rr.Body.String())
	})
}
