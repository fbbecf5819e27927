// Package output defines the secondary/driven ports of the application.
package output

import (
	"context"
	"io"
	"strconv"
)

// ObjectStorage defines the secondary port for study-area file storage.
// Missing objects are reported with errors wrapping domain.ErrNotFound.
type ObjectStorage interface {
	// List returns the study-area files (GeoJSON, GeoPackage) in the storage.
	List(ctx context.Context) ([]StorageObject, error)

	// Stat returns the metadata of one object.
	Stat(ctx context.Context, key string) (StorageObject, error)

	// Open returns a reader for the content of one object.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// StorageObject represents a file in object storage.
type StorageObject struct {
	Key          string // Object key/path
	Size         int64  // Size in bytes
	LastModified int64  // Unix timestamp
	ETag         string // Content hash, empty when the backend has none
}

// Version identifies the object content. Backends without an ETag fall back
// to size and modification time; an empty version means unknown.
func (o StorageObject) Version() string {
	if o.ETag != "" {
		return o.ETag
	}
	if o.LastModified == 0 {
		return ""
	}
	return strconv.FormatInt(o.Size, 10) + "-" + strconv.FormatInt(o.LastModified, 10)
}
