package remote

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	// ScratchDirTemplate is passed to mktemp for the per-deploy scratch dir.
	ScratchDirTemplate = "/tmp/vm_spawner.XXXXXXXX"

	probeTimeout = 30 * time.Second
)

// Host is a typed set of small remote filesystem and identity commands.
type Host struct {
	runner Runner
}

// NewHost wraps runner.
func NewHost(runner Runner) *Host {
	return &Host{runner: runner}
}

// MakeTempDir creates a scratch directory on the remote host and returns its path.
func (h *Host) MakeTempDir(ctx context.Context) (string, error) {
	res, err := h.runner.Run(ctx, []string{"mktemp", "-d", ScratchDirTemplate})
	if err != nil {
		return "", fmt.Errorf("failed to create remote temp dir: %w", err)
	}
	if res.Stdout == "" {
		return "", fmt.Errorf("failed to create remote temp dir: mktemp printed no path")
	}
	return res.Stdout, nil
}

// RemoveAll runs rm -rf on path. The exit status is ignored; only transport
// failures are returned.
func (h *Host) RemoveAll(ctx context.Context, path string) error {
	if path == "" || path == "/" {
		return fmt.Errorf("refusing to remove %q", path)
	}
	if _, err := h.runner.Run(ctx, []string{"rm", "-rf", path}, WithoutCheck()); err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// RemoveFiles runs rm -f on paths with the same error policy as RemoveAll.
func (h *Host) RemoveFiles(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	argv := append([]string{"rm", "-f"}, paths...)
	if _, err := h.runner.Run(ctx, argv, WithoutCheck()); err != nil {
		return fmt.Errorf("failed to remove files: %w", err)
	}
	return nil
}

// GroupID returns the primary group id of the remote login user.
func (h *Host) GroupID(ctx context.Context) (string, error) {
	res, err := h.runner.Run(ctx, []string{"id", "-g"})
	if err != nil {
		return "", fmt.Errorf("failed to query remote group id: %w", err)
	}
	if _, err := strconv.ParseUint(res.Stdout, 10, 32); err != nil {
		return "", fmt.Errorf("unexpected output from id -g: %q", res.Stdout)
	}
	return res.Stdout, nil
}

// FileExists probes for a regular file. Exit 0 is present, exit 1 is absent,
// any other status is an error.
func (h *Host) FileExists(ctx context.Context, path string) (bool, error) {
	res, err := h.runner.Run(ctx, []string{"test", "-f", path}, WithoutCheck(), WithTimeout(probeTimeout))
	if err != nil {
		return false, fmt.Errorf("failed to probe %s: %w", path, err)
	}

	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("probe of %s exited with code %d: %s", path, res.ExitCode, FilterNoise(res.Stderr))
	}
}
