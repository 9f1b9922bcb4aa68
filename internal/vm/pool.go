package vm

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/vmspawner/internal/config"
	"github.com/jbweber/vmspawner/internal/disk"
	"github.com/jbweber/vmspawner/internal/image"
	virt "github.com/jbweber/vmspawner/internal/libvirt"
	"github.com/jbweber/vmspawner/internal/remote"
	"github.com/jbweber/vmspawner/internal/storage"
)

// EnsurePool creates, builds, starts and autostarts the pool on host unless
// it is already active. It is the first stage of Deploy, run on its own.
func (o *Orchestrator) EnsurePool(ctx context.Context, host, sshKey string, p config.PoolConfig) (pool *storage.Pool, err error) {
	defer func() { o.metrics.ObserveOperation("ensure_pool", err) }()

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool: %w", err)
	}
	log := o.log.WithFields(logrus.Fields{"host": host, "pool": p.Name})

	client, err := o.connect(ctx, virt.Target{Host: host, KeyFile: sshKey})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	defer closeClient(client, log)

	exec := remote.NewExecutor(host, sshKey, o.log)
	mgr := storage.NewManager(client.Hypervisor(), remote.NewHost(exec), disk.NewImager(exec), image.NewFetcher(o.log), o.log)

	done := o.metrics.StartStage("pool")
	defer done()
	return mgr.EnsurePool(ctx, p.Name, storage.PoolType(p.Type), p.Path)
}
