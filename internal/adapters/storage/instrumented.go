package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// studyAreaExtensions lists the file types a study area can be loaded from.
var studyAreaExtensions = map[string]bool{
	".geojson": true,
	".json":    true,
	".gpkg":    true,
}

// IsStudyAreaFile reports whether name has a study-area file extension.
func IsStudyAreaFile(name string) bool {
	return studyAreaExtensions[strings.ToLower(filepath.Ext(name))]
}

// Instrumented decorates an ObjectStorage with metrics and uniform errors.
type Instrumented struct {
	next    output.ObjectStorage
	metrics output.MetricsCollector
}

// NewInstrumented wraps next. A nil collector disables metrics.
func NewInstrumented(next output.ObjectStorage, metrics output.MetricsCollector) *Instrumented {
	if metrics == nil {
		metrics = &output.NoOpMetrics{}
	}
	return &Instrumented{next: next, metrics: metrics}
}

// Unwrap returns the decorated storage.
func (s *Instrumented) Unwrap() output.ObjectStorage {
	return s.next
}

// List implements output.ObjectStorage.
func (s *Instrumented) List(ctx context.Context) ([]output.StorageObject, error) {
	start := time.Now()
	objects, err := s.next.List(ctx)
	s.observe("list", start, err)
	return objects, wrap("list", "", err)
}

// Stat implements output.ObjectStorage.
func (s *Instrumented) Stat(ctx context.Context, key string) (output.StorageObject, error) {
	start := time.Now()
	obj, err := s.next.Stat(ctx, key)
	s.observe("stat", start, err)
	return obj, wrap("stat", key, err)
}

// Open implements output.ObjectStorage.
func (s *Instrumented) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	r, err := s.next.Open(ctx, key)
	s.observe("read", start, err)
	return r, wrap("read", key, err)
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	s.metrics.IncStorageOperations(op, err == nil)
	s.metrics.ObserveStorageDuration(op, time.Since(start))
}

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *domain.StorageError
	if errors.As(err, &se) {
		return err
	}
	return &domain.StorageError{Operation: op, Key: key, Err: err}
}
