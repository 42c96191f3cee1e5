package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/beta-publisher/internal/logger"
)

const (
	// MarkerFilename is created in the cache directory while a run installs the tool.
	MarkerFilename = ".provisioning"

	// markerLifetime bounds how long a marker is honoured when its owner
	// cannot be checked. A marker of a live owner is honoured regardless of age.
	markerLifetime = 5 * time.Minute

	// markerPollInterval is the delay between two marker checks while waiting.
	markerPollInterval = 500 * time.Millisecond
)

// acquireMarker waits for a concurrent provisioning to finish and then claims
// the cache directory. The returned function releases the claim.
func acquireMarker(ctx context.Context, dir string) (func(), error) {
	markerPath := filepath.Join(dir, MarkerFilename)

	for isProvisioningNow(ctx, markerPath) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(markerPollInterval):
		}
	}

	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(markerPath, []byte(pid), markerFileMode); err != nil {
		return nil, fmt.Errorf("create provisioning marker: %w", err)
	}

	return func() {
		if err := os.Remove(markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warnf(ctx, "Unable to remove provisioning marker: %v", err)
		}
	}, nil
}

// isProvisioningNow reports whether another live process holds the marker.
// Markers whose owner is gone, or that expired while the owner could not be
// checked, get removed.
func isProvisioningNow(ctx context.Context, markerPath string) bool {
	fileInfo, err := os.Stat(markerPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Infof(ctx, "Unable to read provisioning marker: %v", err)
		}

		return false
	}

	owner, err := markerOwner(markerPath)
	if err != nil {
		logger.Infof(ctx, "Provisioning marker is unreadable, attempting cleanup: %v", err)
		removeStaleMarker(ctx, markerPath)

		return false
	}

	alive, err := isPeerAlive(owner)
	if err != nil {
		logger.Warnf(ctx, "Unable to list processes: %v", err)

		// Cannot tell, so trust the marker until it expires.
		if time.Since(fileInfo.ModTime()) > markerLifetime {
			logger.Info(ctx, "The provisioning marker is too old, attempting cleanup")
			removeStaleMarker(ctx, markerPath)

			return false
		}

		return true
	}

	if !alive {
		logger.InfoKV(ctx, "The provisioning marker owner is gone, attempting cleanup", "pid", owner)
		removeStaleMarker(ctx, markerPath)

		return false
	}

	logger.InfoKV(ctx, "Waiting for another run to finish provisioning", "pid", owner)

	return true
}

func markerOwner(markerPath string) (int, error) {
	contents, err := os.ReadFile(filepath.Clean(markerPath))
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(strings.TrimSpace(string(contents)))
}

// isPeerAlive checks that pid belongs to a running process of the same
// executable as the current one. Our own PID never counts as a peer.
func isPeerAlive(pid int) (bool, error) {
	if pid == os.Getpid() {
		return false, nil
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	if process == nil {
		return false, nil
	}

	self, err := ps.FindProcess(os.Getpid())
	if err != nil || self == nil {
		// Without our own name any live owner counts.
		return true, err
	}

	return process.Executable() == self.Executable(), nil
}

func removeStaleMarker(ctx context.Context, markerPath string) {
	if err := os.Remove(markerPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf(ctx, "Unable to remove provisioning marker: %v", err)
	}
}
