package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// versionSuffix names the file next to a fetched copy that records the
// version it was downloaded at.
const versionSuffix = ".version"

// Fetch copies key from store to dest unless dest already holds the current
// version of the object. The copy is written to a temporary file and renamed
// into place, so readers never see a partial file. It reports whether a
// download took place.
func Fetch(ctx context.Context, store output.ObjectStorage, key, dest string) (bool, error) {
	obj, err := store.Stat(ctx, key)
	if err != nil {
		return false, err
	}

	version := obj.Version()
	if version != "" && upToDate(dest, version) {
		return false, nil
	}

	if err := download(ctx, store, key, dest); err != nil {
		return false, &domain.StorageError{Operation: "download", Key: key, Err: err}
	}

	if version != "" {
		if err := os.WriteFile(dest+versionSuffix, []byte(version), 0600); err != nil {
			return true, &domain.StorageError{Operation: "download", Key: key, Err: err}
		}
	} else {
		_ = os.Remove(dest + versionSuffix)
	}
	return true, nil
}

func upToDate(dest, version string) bool {
	recorded, err := os.ReadFile(dest + versionSuffix) //#nosec G304 -- dest is a controlled local path
	if err != nil || string(recorded) != version {
		return false
	}
	_, err = os.Stat(dest)
	return err == nil
}

func download(ctx context.Context, store output.ObjectStorage, key, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	r, err := store.Open(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}
