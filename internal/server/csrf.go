package server

import (
	"net/http"
	"net/url"
	"strings"
)

// csrfMiddleware rejects cross-site state-changing requests (POST, PUT, DELETE, PATCH).
// The Origin header is checked first, then Referer. Requests that carry neither and
// no Sec-Fetch-Site header come from non-browser clients and are let through.
func csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Allow safe methods
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if !isSameOrigin(r) {
			if isAPIPath(r.URL.Path) {
				respondJSON(w, http.StatusForbidden, errorResponse("Forbidden: Invalid origin"))
				return
			}
			http.Error(w, "Forbidden: Invalid origin", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isSameOrigin checks if the request comes from a page served by this host.
func isSameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	if origin == "" {
		site := r.Header.Get("Sec-Fetch-Site")
		return site == "" || site == "same-origin" || site == "none"
	}
	if origin == "null" {
		return false
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	// Extract host from request
	requestHost := r.Host
	if requestHost == "" {
		requestHost = r.URL.Host
	}

	return normalizeHost(originURL.Host) == normalizeHost(requestHost)
}

// normalizeHost treats localhost and 127.0.0.1 as equivalent.
func normalizeHost(host string) string {
	// Remove port if present
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.HasSuffix(host, "]") {
		host = host[:idx]
	}

	// Normalize localhost
	if host == "localhost" || host == "127.0.0.1" || host == "[::1]" {
		return "localhost"
	}

	return strings.ToLower(host)
}

func isAPIPath(p string) bool {
	return strings.HasPrefix(p, "/api/")
}
