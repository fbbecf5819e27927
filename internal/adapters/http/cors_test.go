package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jobrunner/cuenca/internal/config"
)

func TestExtractHost(t *testing.T) {
	tests := []struct {
		origin string
		want   string
	}{
		{"https://landsat.example.pe", "landsat.example.pe"},
		{"https://landsat.example.pe:8443", "landsat.example.pe"},
		{"http://localhost:3000", "localhost"},
		{"https://example.pe/path/to", "example.pe"},
		{"http://192.168.1.1:8080", "192.168.1.1"},
		{"example.pe", "example.pe"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			if got := extractHost(tt.origin); got != tt.want {
				t.Errorf("extractHost(%q) = %q, want %q", tt.origin, got, tt.want)
			}
		})
	}
}

func TestMatchOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		pattern string
		want    bool
	}{
		{"exact", "https://unsa.edu.pe", "https://unsa.edu.pe", true},
		{"exact mismatch", "https://unsa.edu.pe", "https://other.edu.pe", false},
		{"any", "https://anything.org", "*", true},
		{"wildcard subdomain", "https://geo.unsa.edu.pe", "*.unsa.edu.pe", true},
		{"wildcard deep subdomain", "https://a.b.unsa.edu.pe", "*.unsa.edu.pe", true},
		{"wildcard with port", "http://geo.unsa.edu.pe:8080", "*.unsa.edu.pe", true},
		{"wildcard excludes bare domain", "https://unsa.edu.pe", "*.unsa.edu.pe", false},
		{"wildcard suffix trick", "https://evilunsa.edu.pe", "*.unsa.edu.pe", false},
		{"malformed wildcard", "https://geo.unsa.edu.pe", "*unsa.edu.pe", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchOrigin(tt.origin, tt.pattern); got != tt.want {
				t.Errorf("matchOrigin(%q, %q) = %v, want %v", tt.origin, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	s := &Server{
		config: config.ServerConfig{
			CORS: config.CORSConfig{AllowedOrigins: []string{"https://unsa.edu.pe", "*.example.pe"}},
		},
	}

	tests := []struct {
		name        string
		method      string
		origin      string
		wantOrigin  string
		wantStatus  int
		wantHandled bool
	}{
		{"allowed origin", http.MethodGet, "https://unsa.edu.pe", "https://unsa.edu.pe", http.StatusOK, true},
		{"wildcard origin", http.MethodPost, "https://dash.example.pe", "https://dash.example.pe", http.StatusOK, true},
		{"disallowed origin", http.MethodGet, "https://evil.com", "", http.StatusOK, true},
		{"no origin", http.MethodGet, "", "", http.StatusOK, true},
		{"preflight", http.MethodOptions, "https://unsa.edu.pe", "https://unsa.edu.pe", http.StatusNoContent, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				handled = true
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(tt.method, "/api/v1/indices", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			rr := httptest.NewRecorder()
			s.corsMiddleware(next).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if handled != tt.wantHandled {
				t.Errorf("next called = %v, want %v", handled, tt.wantHandled)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if tt.method == http.MethodOptions {
				if got := rr.Header().Get("Access-Control-Max-Age"); got != "86400" {
					t.Errorf("Access-Control-Max-Age = %q, want 86400", got)
				}
			}
		})
	}
}

func TestCORSConfig_Enabled(t *testing.T) {
	if (&config.CORSConfig{}).Enabled() {
		t.Error("empty CORS config should be disabled")
	}
	if !(&config.CORSConfig{AllowedOrigins: []string{"*"}}).Enabled() {
		t.Error("CORS config with origins should be enabled")
	}
}
