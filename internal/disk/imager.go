// Package disk creates disk images on the remote hypervisor host with
// qemu-img. Callers pass typed arguments; argv is assembled here.
package disk

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/jbweber/vmspawner/internal/remote"
)

const (
	// QemuImg is the imaging tool invoked on the remote host.
	QemuImg = "qemu-img"

	// createTimeout bounds qemu-img create, which only writes metadata.
	createTimeout = 120 * time.Second
)

// runner is the subset of remote.Executor used here.
type runner interface {
	Run(ctx context.Context, argv []string, opts ...remote.Option) (*remote.Result, error)
}

// Imager allocates overlay and blank images on the remote host.
type Imager struct {
	runner runner
}

// NewImager creates an Imager that runs qemu-img through r.
func NewImager(r runner) *Imager {
	return &Imager{runner: r}
}

// OverlayArgs returns the qemu-img argv for a qcow2 overlay of base.
func OverlayArgs(base, baseFormat, dst string) []string {
	return []string{QemuImg, "create", "-f", "qcow2", "-F", baseFormat, "-b", base, dst}
}

// BlankArgs returns the qemu-img argv for an empty image of sizeGB.
func BlankArgs(dst, format string, sizeGB uint64) []string {
	return []string{QemuImg, "create", "-f", format, dst, fmt.Sprintf("%dG", sizeGB)}
}

// CreateOverlay creates a copy-on-write qcow2 image at dst backed by base.
func (i *Imager) CreateOverlay(ctx context.Context, base, baseFormat, dst string) error {
	if !path.IsAbs(base) || !path.IsAbs(dst) {
		return fmt.Errorf("overlay paths must be absolute: base=%q dst=%q", base, dst)
	}
	if baseFormat == "" {
		return fmt.Errorf("backing format is required")
	}

	if _, err := i.runner.Run(ctx, OverlayArgs(base, baseFormat, dst), remote.WithTimeout(createTimeout)); err != nil {
		return fmt.Errorf("failed to create overlay %s: %w", dst, err)
	}
	return nil
}

// CreateBlank allocates an empty image of the given format and size at dst.
func (i *Imager) CreateBlank(ctx context.Context, dst, format string, sizeGB uint64) error {
	if !path.IsAbs(dst) {
		return fmt.Errorf("image path must be absolute: %q", dst)
	}
	if sizeGB == 0 {
		return fmt.Errorf("image size must be greater than 0")
	}
	if format != "qcow2" && format != "raw" {
		return fmt.Errorf("invalid image format: %s (must be qcow2 or raw)", format)
	}

	if _, err := i.runner.Run(ctx, BlankArgs(dst, format, sizeGB), remote.WithTimeout(createTimeout)); err != nil {
		return fmt.Errorf("failed to create image %s: %w", dst, err)
	}
	return nil
}
