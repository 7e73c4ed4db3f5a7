// Package security provides request filtering and body size limits.
package security

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// exemptPaths are never filtered.
var exemptPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/readyz":  true,
}

// probePrefixes are paths scanners try on every host. The API never serves them.
var probePrefixes = []string{
	"/.env",
	"/.git/",
	"/.htaccess",
	"/.htpasswd",
	"/admin/",
	"/cgi-bin/",
	"/phpinfo",
	"/phpmyadmin",
	"/server-status",
	"/wp-",
	"/xmlrpc.php",
}

// traversalMarkers indicate path traversal or NUL injection, raw or encoded.
var traversalMarkers = []string{
	"../",
	"..\\",
	"..%2f",
	"..%5c",
	"%2e%2e",
	"%00",
}

// FilterMiddleware returns middleware that rejects scanner probes and path
// traversal attempts with a generic 400.
func FilterMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !exemptPaths[r.URL.Path] && Suspicious(r.URL) {
				writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Invalid request")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Suspicious reports whether a URL looks like a probe or traversal attempt.
func Suspicious(u *url.URL) bool {
	candidates := []string{strings.ToLower(u.Path), strings.ToLower(u.EscapedPath())}
	if decoded, err := url.PathUnescape(u.EscapedPath()); err == nil {
		candidates = append(candidates, strings.ToLower(decoded))
	}

	for _, p := range candidates {
		for _, prefix := range probePrefixes {
			if strings.HasPrefix(p, prefix) {
				return true
			}
		}
		for _, marker := range traversalMarkers {
			if strings.Contains(p, marker) {
				return true
			}
		}
	}
	return false
}

// MaxBodySizeMiddleware returns middleware that limits the request body to
// maxSizeMB megabytes. Requests declaring a larger Content-Length are
// rejected before the handler runs.
func MaxBodySizeMiddleware(maxSizeMB int) func(http.Handler) http.Handler {
	limit := int64(maxSizeMB) << 20

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
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
