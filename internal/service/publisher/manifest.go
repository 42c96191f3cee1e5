package publisher

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/beta-publisher/internal/logger"
)

// ManifestStub is the minimal application manifest the tool requires.
const ManifestStub = `<?xml version="1.0" encoding="utf-8"?><manifest></manifest>`

// writeManifestStub creates the manifest in dir and returns its path.
func writeManifestStub(dir string) (string, error) {
	f, err := os.CreateTemp(dir, "AndroidManifest-*.xml")
	if err != nil {
		return "", fmt.Errorf("create manifest stub: %w", err)
	}

	_, err = f.WriteString(ManifestStub)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(f.Name())

		return "", fmt.Errorf("write manifest stub: %w", err)
	}

	return f.Name(), nil
}

// deleteFile removes a temporary file owned by the run and logs the result.
func deleteFile(ctx context.Context, path string) {
	if path == "" {
		return
	}

	if err := os.Remove(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warnf(ctx, "Could not delete %s: %v", path, err)
		}

		return
	}

	logger.Infof(ctx, "Deleted %s", path)
}
