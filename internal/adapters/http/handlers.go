package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/cuenca/internal/adapters/chart"
	"github.com/jobrunner/cuenca/internal/adapters/export"
	"github.com/jobrunner/cuenca/internal/application"
	"github.com/jobrunner/cuenca/internal/domain"
)

// handleListIndices returns the registered indices in display order.
func (s *Server) handleListIndices(w http.ResponseWriter, _ *http.Request) {
	defs := s.index.ListIndices()

	indices := make([]map[string]interface{}, len(defs))
	for i, d := range defs {
		indices[i] = map[string]interface{}{
			"name":     d.Name,
			"title":    d.Title,
			"category": d.Category,
			"formula":  d.Formula.String(),
			"vis":      d.Vis,
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"indices": indices,
		"count":   len(indices),
	})
}

// handleComposite returns the tile layer of an annual composite.
func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	year, err := requiredInt(r, "year")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tiles, err := s.index.Composite(r.Context(), year, mux.Vars(r)["index"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, tiles)
}

// handleStats returns the regional statistics of one year.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	year, err := requiredInt(r, "year")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := s.index.Stats(r.Context(), year, mux.Vars(r)["index"])
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, formatStats(st))
}

// handleSeries returns the annual mean series.
func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	series, ok := s.series(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, series)
}

// handleSeriesCSV returns the series as a CSV download.
func (s *Server) handleSeriesCSV(w http.ResponseWriter, r *http.Request) {
	series, ok := s.series(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := export.WriteSeries(&buf, series); err != nil {
		s.logger.Error("failed to encode series", "index", series.Index, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to encode series")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s_%d-%d.csv"`, series.Index, series.Start, series.End))
	_, _ = w.Write(buf.Bytes())
}

// handleSeriesPNG renders the series as a line chart. The selected years,
// if any, are highlighted.
func (s *Server) handleSeriesPNG(w http.ResponseWriter, r *http.Request) {
	years, err := intList(r, "years")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	series, ok := s.series(w, r)
	if !ok {
		return
	}

	opts := chart.Options{Mean: domain.Analyze(series, years, nil).Mean}
	if len(years) > 0 {
		opts.HighlightFrom, opts.HighlightTo = slices.Min(years), slices.Max(years)
	}

	var buf bytes.Buffer
	if err := chart.WritePNG(&buf, series, opts); err != nil {
		s.logger.Error("failed to render chart", "index", series.Index, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// handleCompare returns the statistics of each selected year.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	years, err := intList(r, "years")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.index.Compare(r.Context(), mux.Vars(r)["index"], years)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	results := make([]map[string]interface{}, len(stats))
	for i, st := range stats {
		results[i] = formatStats(st)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// handleAnalysis returns the multi-year analysis.
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	years, err := intList(r, "years")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	analysis, err := s.index.Analyze(r.Context(), mux.Vars(r)["index"], years)
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, analysis)
}

// handleStudyArea returns the study area with its outline as GeoJSON.
func (s *Server) handleStudyArea(w http.ResponseWriter, _ *http.Request) {
	session, err := s.sessions.Current()
	if err != nil {
		s.handleServiceError(w, err)
		return
	}
	area := session.Area

	var outline *geojson.FeatureCollection
	if area.HasOutline() {
		f := geojson.NewFeature(area.Outline)
		f.Properties["name"] = area.Name
		f.Properties["source"] = area.Source
		outline = geojson.NewFeatureCollection().Append(f)
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        area.Name,
		"source":      area.Source,
		"ref":         area.Ref,
		"fingerprint": area.Fingerprint,
		"center":      []float64{area.Center.Lat(), area.Center.Lon()},
		"zoom":        area.Zoom,
		"loaded_at":   area.LoadedAt,
		"outline":     outline,
	})
}

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":        boolToStatus(details.Healthy),
		"ready":         details.Ready,
		"session":       details.Session,
		"cache_entries": details.CacheEntries,
		"components":    details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleWarmup handles the warmup trigger endpoint.
func (s *Server) handleWarmup(w http.ResponseWriter, r *http.Request) {
	if s.warmup == nil {
		s.writeError(w, http.StatusNotFound, "Warmup not available")
		return
	}

	result, err := s.warmup.TriggerWarmup(r.Context())
	if err != nil {
		s.handleServiceError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := loadOpenAPI()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// series parses the range and computes the series, writing the error
// response itself when it fails.
func (s *Server) series(w http.ResponseWriter, r *http.Request) (*domain.Series, bool) {
	start, err := optionalInt(r, "start")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	end, err := optionalInt(r, "end")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if (start == 0) != (end == 0) {
		s.writeError(w, http.StatusBadRequest, "start and end must be given together")
		return nil, false
	}

	series, err := s.index.Series(r.Context(), mux.Vars(r)["index"], start, end)
	if err != nil {
		s.handleServiceError(w, err)
		return nil, false
	}
	return series, true
}

// formatStats keys the statistics the way the reducer names them.
func formatStats(st domain.Stats) map[string]interface{} {
	return map[string]interface{}{
		"index": st.Index,
		"year":  st.Year,
		"stats": st.Keyed(),
	}
}

// requiredInt parses a mandatory integer query parameter.
func requiredInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s parameter required", name)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter", name)
	}
	return v, nil
}

// optionalInt parses an integer query parameter; missing is zero.
func optionalInt(r *http.Request, name string) (int, error) {
	if r.URL.Query().Get(name) == "" {
		return 0, nil
	}
	return requiredInt(r, name)
}

// intList parses a comma-separated list of integers; missing is nil.
func intList(r *http.Request, name string) ([]int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid %s parameter: %q", name, part)
		}
		out = append(out, v)
	}
	return out, nil
}

// handleServiceError maps service errors to HTTP status codes. Unavailable
// sessions carry their cause to the client.
func (s *Server) handleServiceError(w http.ResponseWriter, err error) {
	var unsupported *domain.UnsupportedIndexError
	if errors.As(err, &unsupported) {
		s.writeError(w, http.StatusBadRequest, unsupported.Error())
		return
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnsupported):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, application.ErrRateLimited):
		w.Header().Set("Retry-After", "30")
		s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
	case errors.Is(err, domain.ErrUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrRemote):
		s.logger.Error("remote computation failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Request failed")
	}
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
