package earthengine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/expr"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordedRequest struct {
	Path          string
	Authorization string
	Body          map[string]any
}

type fakeEngine struct {
	mu       sync.Mutex
	requests []recordedRequest
	tokens   int
	handler  func(w http.ResponseWriter, r *http.Request, body map[string]any)
}

func (f *fakeEngine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		f.mu.Lock()
		f.tokens++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`))
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		Body:          body,
	})
	f.mu.Unlock()

	f.handler(w, r, body)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body map[string]any)) (*Client, *fakeEngine) {
	t.Helper()
	fake := &fakeEngine{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c := New(Config{
		Project:  "demo",
		BaseURL:  srv.URL,
		TokenURL: srv.URL + "/token",
		Timeout:  2 * time.Second,
	}, Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "refresh"}, nil, logger)
	return c, fake
}

func writeJSON(w http.ResponseWriter, status int, v string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(v))
}

func TestInitialize(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusOK, `{"result":1}`)
	})

	require.NoError(t, c.Initialize(context.Background()))

	require.Len(t, fake.requests, 1)
	assert.Equal(t, "/v1/projects/demo/value:compute", fake.requests[0].Path)
	assert.Equal(t, "Bearer access-1", fake.requests[0].Authorization)
	assert.Equal(t, 1, fake.tokens)
}

func TestInitializeFailureWrapsInitializationError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusForbidden, `{"error":{"code":403,"message":"project not registered","status":"PERMISSION_DENIED"}}`)
	})

	err := c.Initialize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemoteInitialization)
	assert.ErrorIs(t, err, domain.ErrUnavailable)

	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 403, re.Code)
	assert.Equal(t, "PERMISSION_DENIED", re.Status)
	assert.Equal(t, "project not registered", re.Message)
}

func TestInitializeMissingCredentials(t *testing.T) {
	c := New(Config{Project: "demo"}, Credentials{ClientID: "id"}, nil, logger)

	err := c.Initialize(context.Background())
	assert.ErrorIs(t, err, domain.ErrRemoteInitialization)
	assert.Contains(t, err.Error(), "client_secret, refresh_token")
}

func TestCompute(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusOK, `{"result":{"NDVI_mean":0.31,"NDVI_min":null}}`)
	})

	node := expr.LoadImageCollection("LANDSAT/LC08/C02/T1_L2").Size()
	got, err := c.Compute(context.Background(), node)
	require.NoError(t, err)

	stats := domain.StatsFromResult(domain.NDVI, 2015, got)
	require.NotNil(t, stats.Mean)
	assert.InDelta(t, 0.31, *stats.Mean, 1e-12)
	assert.Nil(t, stats.Min)

	body := fake.requests[0].Body
	expression, ok := body["expression"].(map[string]any)
	require.True(t, ok, "request carries an expression")
	assert.Equal(t, "0", expression["result"])
	values := expression["values"].(map[string]any)
	root := values["0"].(map[string]any)["functionInvocationValue"].(map[string]any)
	assert.Equal(t, "Collection.size", root["functionName"])
}

func TestComputeRemoteError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusTooManyRequests, `{"error":{"code":429,"message":"Too many concurrent aggregations.","status":"RESOURCE_EXHAUSTED"}}`)
	})

	_, err := c.Compute(context.Background(), expr.Constant(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRemote)
	assert.NotErrorIs(t, err, domain.ErrRemoteInitialization)

	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "compute", re.Operation)
	assert.Equal(t, "RESOURCE_EXHAUSTED", re.Status)
}

func TestComputeNonJSONError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	})

	_, err := c.Compute(context.Background(), expr.Constant(1))
	var re *domain.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusBadGateway, re.Code)
	assert.Equal(t, "upstream exploded", re.Message)
}

func TestComputeDoesNotRetry(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusServiceUnavailable, `{"error":{"code":503,"message":"busy","status":"UNAVAILABLE"}}`)
	})

	_, err := c.Compute(context.Background(), expr.Constant(1))
	require.Error(t, err)
	assert.Len(t, fake.requests, 1)
}

func TestComputeTimeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		<-release
		writeJSON(w, http.StatusOK, `{"result":1}`)
	})
	defer close(release)
	c.config.Timeout = 50 * time.Millisecond

	_, err := c.Compute(context.Background(), expr.Constant(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestCreateMap(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusOK, `{"name":"projects/demo/maps/abc123"}`)
	})

	vis := domain.VisParams{Min: -0.2, Max: 0.9, Palette: []string{"brown", "yellow", "green"}}
	tiles, err := c.CreateMap(context.Background(), expr.ImageConstant(1), vis)
	require.NoError(t, err)

	assert.Equal(t, "projects/demo/maps/abc123", tiles.MapID)
	assert.Equal(t, c.config.BaseURL+"/v1/projects/demo/maps/abc123/tiles/{z}/{x}/{y}", tiles.URL)
	assert.Equal(t, vis, tiles.Vis)

	req := fake.requests[0]
	assert.Equal(t, "/v1/projects/demo/maps", req.Path)
	opts := req.Body["visualizationOptions"].(map[string]any)
	assert.Equal(t, []any{"brown", "yellow", "green"}, opts["paletteColors"])
	ranges := opts["ranges"].([]any)
	require.Len(t, ranges, 1)
	assert.InDelta(t, -0.2, ranges[0].(map[string]any)["min"], 1e-12)
}

func TestCreateMapWithoutName(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request, _ map[string]any) {
		writeJSON(w, http.StatusOK, `{}`)
	})

	_, err := c.CreateMap(context.Background(), expr.ImageConstant(1), domain.VisParams{})
	assert.ErrorIs(t, err, domain.ErrRemote)
}

func TestTileURL(t *testing.T) {
	assert.Equal(t,
		"https://earthengine.googleapis.com/v1/projects/p/maps/m/tiles/{z}/{x}/{y}",
		TileURL("https://earthengine.googleapis.com/", "projects/p/maps/m"),
	)
}
