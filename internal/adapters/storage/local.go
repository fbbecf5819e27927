// Package storage provides object storage adapters for study-area files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// LocalStorage implements ObjectStorage for local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local storage adapter.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

// List returns all study-area files below the base directory.
func (s *LocalStorage) List(ctx context.Context) ([]output.StorageObject, error) {
	var objects []output.StorageObject

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !IsStudyAreaFile(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		objects = append(objects, objectFromInfo(relPath, info))
		return nil
	})
	if err != nil {
		return nil, &domain.StorageError{Operation: "list", Key: s.basePath, Err: err}
	}

	return objects, nil
}

// Stat implements output.ObjectStorage.
func (s *LocalStorage) Stat(_ context.Context, key string) (output.StorageObject, error) {
	info, err := os.Stat(s.FullPath(key))
	if err != nil {
		return output.StorageObject{}, &domain.StorageError{Operation: "stat", Key: key, Err: notFound(err)}
	}
	if info.IsDir() {
		return output.StorageObject{}, &domain.StorageError{
			Operation: "stat",
			Key:       key,
			Err:       fmt.Errorf("%w: is a directory", domain.ErrNotFound),
		}
	}
	return objectFromInfo(key, info), nil
}

// Open implements output.ObjectStorage.
func (s *LocalStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(s.FullPath(key)) //#nosec G304 -- key resolved below the configured base path
	if err != nil {
		return nil, &domain.StorageError{Operation: "read", Key: key, Err: notFound(err)}
	}
	return f, nil
}

// FullPath returns the full path for a key.
func (s *LocalStorage) FullPath(key string) string {
	if filepath.IsAbs(key) {
		return key
	}
	return filepath.Join(s.basePath, key)
}

func objectFromInfo(key string, info fs.FileInfo) output.StorageObject {
	return output.StorageObject{
		Key:          filepath.ToSlash(key),
		Size:         info.Size(),
		LastModified: info.ModTime().Unix(),
	}
}

// notFound adds domain.ErrNotFound to errors reporting a missing file.
func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	}
	return err
}
