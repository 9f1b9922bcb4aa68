package vm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/vmspawner/internal/install"
	virt "github.com/jbweber/vmspawner/internal/libvirt"
	"github.com/jbweber/vmspawner/internal/logging"
	"github.com/jbweber/vmspawner/internal/metrics"
)

const (
	// DefaultSettleDelay is the pause after a forced stop so libvirt can
	// release the domain's resources.
	DefaultSettleDelay = 2 * time.Second

	// DefaultDataDiskGB sizes the blank disk for installs from media when
	// the descriptor does not.
	DefaultDataDiskGB = 20

	cleanupTimeout = 30 * time.Second
)

// Orchestrator runs deploys and destroys. It holds no per-operation state;
// every call opens and closes its own connection.
type Orchestrator struct {
	log         logrus.FieldLogger
	metrics     *metrics.Collector
	connect     func(ctx context.Context, t virt.Target) (*virt.Client, error)
	installOpts []install.Option
	settle      time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records operation outcomes and stage durations in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithInstallOptions passes opts to every Installer the orchestrator builds.
func WithInstallOptions(opts ...install.Option) Option {
	return func(o *Orchestrator) { o.installOpts = append(o.installOpts, opts...) }
}

// WithSettleDelay replaces DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.settle = d }
}

// New creates an Orchestrator.
func New(log logrus.FieldLogger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:     logging.OrDiscard(log),
		connect: virt.ConnectRemote,
		settle:  DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// closeClient releases the connection, logging failures.
func closeClient(c *virt.Client, log logrus.FieldLogger) {
	if err := c.Close(); err != nil {
		log.WithError(err).Warn("Failed to close libvirt connection")
		return
	}
	log.Debug("Disconnected from libvirt")
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
