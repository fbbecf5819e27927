package output

import (
	"context"

	"github.com/jobrunner/cuenca/internal/domain"
)

// StudyAreaSource loads the study-area boundary.
type StudyAreaSource interface {
	// Load returns the study area. Failures wrap domain.ErrStudyAreaUnavailable.
	Load(ctx context.Context) (*domain.StudyArea, error)

	// Describe names the source for logs and health output.
	Describe() string
}
