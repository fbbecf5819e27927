// Package input defines the primary/driving ports of the application.
package input

import (
	"context"
	"time"

	"github.com/jobrunner/cuenca/internal/domain"
)

// IndexService defines the primary port for spectral-index queries. The
// index name is validated before any remote request is issued.
type IndexService interface {
	// ListIndices returns the registered indices in display order.
	ListIndices() []domain.IndexDefinition

	// Composite renders the annual composite of an index as map tiles.
	Composite(ctx context.Context, year int, index string) (*domain.MapTiles, error)

	// Stats returns mean, min and max of an index over the study area.
	Stats(ctx context.Context, year int, index string) (domain.Stats, error)

	// Series returns the annual mean of an index for every year in range.
	Series(ctx context.Context, index string, start, end int) (*domain.Series, error)

	// Compare returns the statistics of an index for each selected year.
	Compare(ctx context.Context, index string, years []int) ([]domain.Stats, error)

	// Analyze returns range, period and anomaly analysis for the selected years.
	Analyze(ctx context.Context, index string, years []int) (*domain.Analysis, error)
}

// SessionManager defines the primary port for the session lifecycle.
type SessionManager interface {
	// Current returns the open session or an error wrapping domain.ErrNotReady.
	Current() (*domain.Session, error)

	// Status reports the session state.
	Status() SessionStatus

	// Reload reloads the study area of an open session.
	Reload(ctx context.Context) error
}

// SessionStatus describes the session for health output.
type SessionStatus struct {
	State     domain.SessionState `json:"state"`
	Source    string              `json:"source"`
	StudyArea string              `json:"study_area,omitempty"`
	OpenedAt  time.Time           `json:"opened_at,omitempty"`
	LastError string              `json:"last_error,omitempty"`
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy      bool              // Overall health status
	Ready        bool              // Ready to accept requests
	Session      SessionStatus     // Session state and last error
	CacheEntries int               // Number of memoized results
	Components   map[string]string // Component statuses
}
