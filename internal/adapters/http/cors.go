package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/handlers"
)

// corsMaxAge is how long browsers may cache a preflight answer, in seconds.
const corsMaxAge = 86400

// corsMiddleware answers cross-origin requests from the configured origins.
// The dashboard is served same-origin; this is for embedding the API
// elsewhere.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOriginValidator(s.isOriginAllowed),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.MaxAge(corsMaxAge),
		handlers.OptionStatusCode(http.StatusNoContent),
	)(next)
}

// isOriginAllowed checks if the given origin matches any allowed pattern.
func (s *Server) isOriginAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, pattern := range s.config.CORS.AllowedOrigins {
		if matchOrigin(origin, pattern) {
			return true
		}
	}
	return false
}

// matchOrigin checks an origin against an exact pattern or a wildcard
// subdomain pattern like "*.unsa.edu.pe". The wildcard does not match the
// bare domain.
func matchOrigin(origin, pattern string) bool {
	if origin == pattern || pattern == "*" {
		return true
	}

	suffix, ok := strings.CutPrefix(pattern, "*")
	if !ok || !strings.HasPrefix(suffix, ".") {
		return false
	}
	host := extractHost(origin)
	return strings.HasSuffix(host, suffix) && len(host) > len(suffix)
}

// extractHost returns the host of an origin without scheme, port or path.
func extractHost(origin string) string {
	if !strings.Contains(origin, "://") {
		origin = "//" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
