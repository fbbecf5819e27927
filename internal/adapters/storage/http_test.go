package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/cuenca/internal/domain"
)

func newAreaServer(t *testing.T) *httptest.Server {
	t.Helper()
	modified := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/areas/index.txt", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "gis" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, "# study areas\ncuenca.geojson\n\nuchumayo.gpkg\nREADME.md\n")
	})
	mux.HandleFunc("/areas/cuenca.geojson", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"abc123"`)
		w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", "17")
			return
		}
		_, _ = io.WriteString(w, `{"type":"Point"}`+"\n")
	})
	mux.HandleFunc("/areas/broken.geojson", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPStorageList(t *testing.T) {
	srv := newAreaServer(t)
	s := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL + "/areas/", Username: "gis", Password: "secret"})

	objects, err := s.List(context.Background())
	require.NoError(t, err)

	var keys []string
	for _, o := range objects {
		keys = append(keys, o.Key)
	}
	assert.Equal(t, []string{"cuenca.geojson", "uchumayo.gpkg"}, keys)
}

func TestHTTPStorageListUnauthorized(t *testing.T) {
	srv := newAreaServer(t)
	s := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL + "/areas"})

	_, err := s.List(context.Background())
	assert.ErrorContains(t, err, "401")
}

func TestHTTPStorageStat(t *testing.T) {
	srv := newAreaServer(t)
	s := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL + "/areas"})

	obj, err := s.Stat(context.Background(), "cuenca.geojson")
	require.NoError(t, err)
	assert.Equal(t, "abc123", obj.ETag)
	assert.Equal(t, "abc123", obj.Version())
	assert.Equal(t, int64(17), obj.Size)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).Unix(), obj.LastModified)

	_, err = s.Stat(context.Background(), "missing.geojson")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	_, err = s.Stat(context.Background(), "broken.geojson")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestHTTPStorageOpen(t *testing.T) {
	srv := newAreaServer(t)
	s := NewHTTPStorage(HTTPConfig{BaseURL: srv.URL + "/areas"})

	r, err := s.Open(context.Background(), "cuenca.geojson")
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"Point"}`, string(data))
}
