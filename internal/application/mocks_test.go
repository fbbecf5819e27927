package application

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/expr"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockBackend implements output.ComputeBackend. It reads the year and the
// index band out of the submitted graph and answers from fixed tables.
type mockBackend struct {
	mu sync.Mutex

	initErr    error
	computeErr error
	mapErr     error

	// scenes per year; missing years have 10
	scenes map[int]int
	// mean per year; missing years use 0.1 * (year - 2000)
	means map[int]float64
	// years whose reduction omits the index key
	omit map[int]bool

	inits   int
	sizes   map[int]int
	reduces map[int]int
	maps    int
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		scenes:  map[int]int{},
		means:   map[int]float64{},
		omit:    map[int]bool{},
		sizes:   map[int]int{},
		reduces: map[int]int{},
	}
}

func (m *mockBackend) Initialize(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inits++
	return m.initErr
}

func (m *mockBackend) Compute(_ context.Context, n expr.Node) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.computeErr != nil {
		return nil, m.computeErr
	}

	year := graphYear(n)
	switch n.Function() {
	case "Collection.size":
		m.sizes[year]++
		if c, ok := m.scenes[year]; ok {
			return float64(c), nil
		}
		return float64(10), nil

	case "Image.reduceRegion":
		m.reduces[year]++
		if m.omit[year] {
			return map[string]any{}, nil
		}
		band := graphBand(n)
		mean := m.meanFor(year)
		if isCombined(n) {
			return map[string]any{
				band + domain.SuffixMean: mean,
				band + domain.SuffixMin:  mean - 0.5,
				band + domain.SuffixMax:  mean + 0.5,
			}, nil
		}
		return map[string]any{band: mean}, nil
	}
	return nil, errors.New("unexpected graph " + n.Function())
}

func (m *mockBackend) CreateMap(_ context.Context, img expr.Image, vis domain.VisParams) (*domain.MapTiles, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mapErr != nil {
		return nil, m.mapErr
	}
	m.maps++
	id := "projects/p/maps/" + img.Digest()[:12]
	return &domain.MapTiles{
		MapID:       id,
		URL:         "https://tiles.test/v1/" + id + "/tiles/{z}/{x}/{y}",
		Vis:         vis,
		Attribution: "test",
	}, nil
}

func (m *mockBackend) meanFor(year int) float64 {
	if v, ok := m.means[year]; ok {
		return v
	}
	return 0.1 * float64(year-2000)
}

func (m *mockBackend) reduceCount(year int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reduces[year]
}

func (m *mockBackend) totalReduces() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.reduces {
		total += c
	}
	return total
}

// graphYear returns the year of the first date range in the graph.
func graphYear(n expr.Node) int {
	year := 0
	n.Walk(func(c expr.Node) bool {
		if year != 0 {
			return false
		}
		if c.Function() == "DateRange" {
			if start, ok := c.Arg("start"); ok {
				if s, ok := start.Value().(string); ok && len(s) >= 4 {
					year, _ = strconv.Atoi(s[:4])
				}
			}
		}
		return true
	})
	return year
}

// graphBand returns the outermost single-band rename, which is the index.
func graphBand(n expr.Node) string {
	band := ""
	n.Walk(func(c expr.Node) bool {
		if band != "" {
			return false
		}
		if c.Function() == "Image.rename" {
			if names, ok := c.Arg("names"); ok && len(names.Items()) == 1 {
				band, _ = names.Items()[0].Value().(string)
			}
		}
		return true
	})
	return band
}

func isCombined(n expr.Node) bool {
	for _, f := range n.Functions() {
		if f == "Reducer.combine" {
			return true
		}
	}
	return false
}

// mockSource implements output.StudyAreaSource.
type mockSource struct {
	mu    sync.Mutex
	area  *domain.StudyArea
	err   error
	loads int
}

func newMockSource() *mockSource {
	return &mockSource{area: domain.NewAssetStudyArea("Río Chili", "projects/p/assets/uchumayo")}
}

func (m *mockSource) Load(_ context.Context) (*domain.StudyArea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.err != nil {
		return nil, m.err
	}
	copied := *m.area
	return &copied, nil
}

func (m *mockSource) Describe() string { return "mock:uchumayo" }

func (m *mockSource) set(area *domain.StudyArea, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.area, m.err = area, err
}

// mapCache implements output.ResultCache without expiry.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	group   singleflight.Group
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string][]byte{}}
}

func (c *mapCache) Do(ctx context.Context, key string, compute func(context.Context) ([]byte, error)) ([]byte, bool, error) {
	c.mu.Lock()
	if v, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return v, true, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		if v, ok := c.entries[key]; ok {
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		data, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = data
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

func (c *mapCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *mapCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
}

// countingMetrics records cache hits and misses.
type countingMetrics struct {
	output.NoOpMetrics
	mu     sync.Mutex
	hits   map[string]int
	misses map[string]int
	ready  bool
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{hits: map[string]int{}, misses: map[string]int{}}
}

func (m *countingMetrics) IncCacheHit(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits[op]++
}

func (m *countingMetrics) IncCacheMiss(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses[op]++
}

func (m *countingMetrics) SetSessionReady(ready bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = ready
}

// fixture wires an open session and an index service over the mocks.
type fixture struct {
	backend  *mockBackend
	source   *mockSource
	sessions *SessionManager
	cache    *mapCache
	metrics  *countingMetrics
	index    *IndexService
}

func newFixture(ctx context.Context, open bool) *fixture {
	f := &fixture{
		backend: newMockBackend(),
		source:  newMockSource(),
		cache:   newMapCache(),
		metrics: newCountingMetrics(),
	}
	f.sessions = NewSessionManager(f.backend, f.source, f.metrics, testLogger(), SessionConfig{})
	if open {
		if err := f.sessions.Open(ctx); err != nil {
			panic(err)
		}
	}
	f.index = NewIndexService(f.sessions, f.backend, f.cache, newMapCache(), f.metrics, testLogger(), IndexServiceConfig{})
	return f
}
