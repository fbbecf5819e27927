package application

import (
	"context"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/input"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// HealthService provides health check functionality.
type HealthService struct {
	sessions input.SessionManager
	cache    output.ResultCache
}

// NewHealthService creates a new health service.
func NewHealthService(sessions input.SessionManager, cache output.ResultCache) *HealthService {
	return &HealthService{
		sessions: sessions,
		cache:    cache,
	}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(ctx context.Context) bool {
	return true // Basic health check
}

// IsReady returns true once the session is open.
func (s *HealthService) IsReady(ctx context.Context) bool {
	_, err := s.sessions.Current()
	return err == nil
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	status := s.sessions.Status()

	components := map[string]string{
		"session": string(status.State),
		"cache":   "ok",
	}
	switch status.State {
	case domain.SessionOpen:
		components["remote"] = "ok"
		components["study_area"] = "ok"
	case domain.SessionFailed:
		components["remote"] = "unavailable"
		components["study_area"] = "unknown"
	default:
		components["remote"] = "pending"
		components["study_area"] = "pending"
	}

	entries := 0
	if s.cache != nil {
		entries = s.cache.Len()
	}

	return input.HealthDetails{
		Healthy:      s.IsHealthy(ctx),
		Ready:        s.IsReady(ctx),
		Session:      status,
		CacheEntries: entries,
		Components:   components,
	}
}
