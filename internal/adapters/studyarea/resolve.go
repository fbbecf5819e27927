package studyarea

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jobrunner/cuenca/internal/domain"
	"github.com/jobrunner/cuenca/internal/ports/output"
)

// resolveKey returns key, or the first listed object with one of exts when
// key is empty.
func resolveKey(ctx context.Context, store output.ObjectStorage, key string, exts ...string) (string, error) {
	if key != "" {
		return key, nil
	}

	objects, err := store.List(ctx)
	if err != nil {
		return "", err
	}

	var keys []string
	for _, obj := range objects {
		ext := strings.ToLower(filepath.Ext(obj.Key))
		for _, want := range exts {
			if ext == want {
				keys = append(keys, obj.Key)
				break
			}
		}
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("%w: no %s file in storage", domain.ErrNotFound, strings.Join(exts, "/"))
	}

	sort.Strings(keys)
	return keys[0], nil
}
