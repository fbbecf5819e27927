package output

import (
	"context"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/expr"
)

// ComputeBackend defines the secondary port for the remote imagery engine.
// Implementations do not retry; failures propagate to the caller.
type ComputeBackend interface {
	// Initialize verifies credentials and connectivity.
	Initialize(ctx context.Context) error

	// Compute evaluates a graph and returns its decoded JSON value.
	Compute(ctx context.Context, node expr.Node) (any, error)

	// CreateMap registers a rendered layer and returns its tile endpoint.
	CreateMap(ctx context.Context, img expr.Image, vis domain.VisParams) (*domain.MapTiles, error)
}
