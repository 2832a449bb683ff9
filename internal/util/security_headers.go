package util

import (
	"net/http"
	"strings"
)

// apiHeaders are the baseline response headers for a JSON/streaming API
// that serves no HTML of its own.
var apiHeaders = map[string]string{
	"X-Content-Type-Options":  "nosniff",
	"X-Frame-Options":         "DENY",
	"Referrer-Policy":         "no-referrer",
	"Permissions-Policy":      "geolocation=(), camera=(), microphone=()",
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'; base-uri 'none'",
}

// WithSecurityHeaders applies the baseline headers to every response.
// HSTS is added only when the request arrived over TLS, directly or via a
// forwarding proxy, so plain-HTTP local development stays usable.
func WithSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for name, value := range apiHeaders {
			w.Header().Set(name, value)
		}
		if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}
