package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/input"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// Cached operations, used as cache key prefixes and metric labels.
const (
	opSize      = "size"
	opStats     = "stats"
	opMean      = "mean"
	opComposite = "composite"
)

// DefaultParallelism bounds concurrent remote requests of a series.
const DefaultParallelism = 4

// IndexServiceConfig holds configuration for the index service.
type IndexServiceConfig struct {
	Parallelism  int
	StartYear    int
	EndYear      int
	CompareYears []int
	MaxYears     int // longest series range; 0 means domain.MaxSeriesYears
}

// IndexService answers spectral-index queries over the session's study area.
// Every remote result is memoized by content address.
type IndexService struct {
	sessions input.SessionManager
	backend  output.ComputeBackend
	results  output.ResultCache
	tiles    output.ResultCache
	metrics  output.MetricsCollector
	logger   *slog.Logger
	config   IndexServiceConfig
}

// NewIndexService creates a new index service. Map tiles are cached
// separately because tile endpoints expire while values do not.
func NewIndexService(
	sessions input.SessionManager,
	backend output.ComputeBackend,
	results output.ResultCache,
	tiles output.ResultCache,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	cfg IndexServiceConfig,
) *IndexService {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	if cfg.StartYear == 0 {
		cfg.StartYear = domain.DefaultStartYear
	}
	if cfg.EndYear == 0 {
		cfg.EndYear = domain.DefaultEndYear
	}
	if len(cfg.CompareYears) == 0 {
		cfg.CompareYears = domain.DefaultCompareYears
	}

	return &IndexService{
		sessions: sessions,
		backend:  backend,
		results:  results,
		tiles:    tiles,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}
}

// Range returns the configured series range.
func (s *IndexService) Range() (start, end int) {
	return s.config.StartYear, s.config.EndYear
}

// CompareYears returns the default comparison years.
func (s *IndexService) CompareYears() []int {
	return s.config.CompareYears
}

// ListIndices implements input.IndexService.
func (s *IndexService) ListIndices() []domain.IndexDefinition {
	return domain.Definitions()
}

// Composite implements input.IndexService.
func (s *IndexService) Composite(ctx context.Context, year int, index string) (*domain.MapTiles, error) {
	name, err := domain.ParseIndexName(index)
	if err != nil {
		return nil, err
	}
	area, err := s.area()
	if err != nil {
		return nil, err
	}

	req := domain.CompositeRequest{Year: year, Index: name}
	def, err := domain.Lookup(name)
	if err != nil {
		return nil, err
	}

	key := domain.CacheKey(opComposite, area, year, name)
	tiles, err := memo(ctx, s, s.tiles, opComposite, key, func(ctx context.Context) (*domain.MapTiles, error) {
		img, err := domain.BuildComposite(req, area)
		if err != nil {
			return nil, err
		}
		t, err := s.backend.CreateMap(ctx, img, def.Vis)
		if err != nil {
			return nil, err
		}
		t.Index = name
		t.Year = year
		t.Sensor = req.Sensor().Name
		return t, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("composite ready", "index", name, "year", year, "map_id", tiles.MapID)
	return tiles, nil
}

// Stats implements input.IndexService. A year without cloud-filtered scenes
// yields all-absent statistics and no reduction is requested.
func (s *IndexService) Stats(ctx context.Context, year int, index string) (domain.Stats, error) {
	name, err := domain.ParseIndexName(index)
	if err != nil {
		return domain.Stats{}, err
	}
	area, err := s.area()
	if err != nil {
		return domain.Stats{}, err
	}
	return s.yearStats(ctx, area, year, name)
}

// Series implements input.IndexService. The result always holds one point
// per year of the range.
func (s *IndexService) Series(ctx context.Context, index string, start, end int) (*domain.Series, error) {
	name, err := domain.ParseIndexName(index)
	if err != nil {
		return nil, err
	}
	if start == 0 && end == 0 {
		start, end = s.config.StartYear, s.config.EndYear
	}
	if err := domain.ValidateYearRange(start, end, s.config.MaxYears); err != nil {
		return nil, err
	}
	series, err := domain.NewSeries(name, start, end)
	if err != nil {
		return nil, err
	}
	area, err := s.area()
	if err != nil {
		return nil, err
	}

	began := time.Now()
	values := make([]*float64, len(series.Points))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for i, year := range series.Years() {
		g.Go(func() error {
			v, err := s.yearMean(gctx, area, year, name)
			if err != nil {
				return err
			}
			values[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, year := range series.Years() {
		series.Set(year, values[i])
	}

	s.logger.Debug("series computed",
		"index", name,
		"start", start,
		"end", end,
		"present", len(series.Present()),
		"duration_ms", time.Since(began).Milliseconds(),
	)
	return series, nil
}

// Compare implements input.IndexService. An empty selection compares the
// default years.
func (s *IndexService) Compare(ctx context.Context, index string, years []int) ([]domain.Stats, error) {
	name, err := domain.ParseIndexName(index)
	if err != nil {
		return nil, err
	}
	if len(years) == 0 {
		years = s.config.CompareYears
	}
	area, err := s.area()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Stats, len(years))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for i, year := range years {
		g.Go(func() error {
			st, err := s.yearStats(gctx, area, year, name)
			if err != nil {
				return err
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Analyze implements input.IndexService. The analysis is computed over the
// full configured range; the selected years bound the highlighted range.
func (s *IndexService) Analyze(ctx context.Context, index string, years []int) (*domain.Analysis, error) {
	if len(years) == 0 {
		years = s.config.CompareYears
	}
	series, err := s.Series(ctx, index, s.config.StartYear, s.config.EndYear)
	if err != nil {
		return nil, err
	}
	return domain.Analyze(series, years, domain.DefaultPeriods), nil
}

func (s *IndexService) area() (*domain.StudyArea, error) {
	session, err := s.sessions.Current()
	if err != nil {
		return nil, err
	}
	return session.Area, nil
}

func (s *IndexService) yearStats(ctx context.Context, area *domain.StudyArea, year int, name domain.IndexName) (domain.Stats, error) {
	ok, err := s.yearHasData(ctx, area, year)
	if err != nil {
		return domain.Stats{}, err
	}
	if !ok {
		return domain.EmptyStats(name, year), nil
	}

	key := domain.CacheKey(opStats, area, year, name)
	return memo(ctx, s, s.results, opStats, key, func(ctx context.Context) (domain.Stats, error) {
		img, err := domain.BuildComposite(domain.CompositeRequest{Year: year, Index: name}, area)
		if err != nil {
			return domain.Stats{}, err
		}
		result, err := s.backend.Compute(ctx, domain.RegionStats(img, area))
		if err != nil {
			return domain.Stats{}, err
		}
		return domain.StatsFromResult(name, year, result), nil
	})
}

func (s *IndexService) yearMean(ctx context.Context, area *domain.StudyArea, year int, name domain.IndexName) (*float64, error) {
	ok, err := s.yearHasData(ctx, area, year)
	if err != nil || !ok {
		return nil, err
	}

	key := domain.CacheKey(opMean, area, year, name)
	return memo(ctx, s, s.results, opMean, key, func(ctx context.Context) (*float64, error) {
		img, err := domain.BuildComposite(domain.CompositeRequest{Year: year, Index: name}, area)
		if err != nil {
			return nil, err
		}
		result, err := s.backend.Compute(ctx, domain.RegionMean(img, area))
		if err != nil {
			return nil, err
		}
		return domain.MeanFromResult(name, result), nil
	})
}

// yearHasData reports whether the year's filtered collection is non-empty.
// The scene count does not depend on the index, so it is shared by all.
func (s *IndexService) yearHasData(ctx context.Context, area *domain.StudyArea, year int) (bool, error) {
	key := domain.CacheKey(opSize, area, year)
	n, err := memo(ctx, s, s.results, opSize, key, func(ctx context.Context) (float64, error) {
		result, err := s.backend.Compute(ctx, domain.FilteredCollection(year, area).Size())
		if err != nil {
			return 0, err
		}
		if v := domain.Number(result); v != nil {
			return *v, nil
		}
		return 0, nil
	})
	if err != nil {
		return false, err
	}
	if n == 0 {
		s.logger.Debug("no scenes for year", "year", year)
	}
	return n > 0, nil
}

// memo runs compute through cache, encoding the result as JSON.
func memo[T any](
	ctx context.Context,
	s *IndexService,
	cache output.ResultCache,
	op, key string,
	compute func(context.Context) (T, error),
) (T, error) {
	var out T
	data, hit, err := cache.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}

	if hit {
		s.metrics.IncCacheHit(op)
	} else {
		s.metrics.IncCacheMiss(op)
	}
	s.metrics.SetCacheEntries(s.results.Len())

	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
