package vm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/vmspawner/internal/cloudinit"
	"github.com/jbweber/vmspawner/internal/config"
	"github.com/jbweber/vmspawner/internal/disk"
	"github.com/jbweber/vmspawner/internal/image"
	"github.com/jbweber/vmspawner/internal/install"
	virt "github.com/jbweber/vmspawner/internal/libvirt"
	"github.com/jbweber/vmspawner/internal/naming"
	"github.com/jbweber/vmspawner/internal/network"
	"github.com/jbweber/vmspawner/internal/remote"
	"github.com/jbweber/vmspawner/internal/storage"
)

// Result identifies a deployed domain.
type Result struct {
	Name string
	IP   string
	// InstallationType is "cloud-init" or "iso".
	InstallationType string
	// Created is false when the domain already existed.
	Created bool
}

// Deploy creates the domain described by d on d.Host and returns its name
// and address.
//
// This orchestrates the entire deploy:
//  1. Connect to libvirt over SSH
//  2. Create a remote scratch directory
//  3. Ensure the storage pool and base volume
//  4. Create a linked clone, or a blank disk plus install media
//  5. Run virt-install (skipped when the domain exists)
//  6. Wait for a DHCP lease on the address network
//
// The first failure aborts the deploy. The connection, the scratch directory
// and local temporary files are released on every path.
func (o *Orchestrator) Deploy(ctx context.Context, d *config.Descriptor) (result *Result, err error) {
	defer func() { o.metrics.ObserveOperation("deploy", err) }()

	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deployment: %w", err)
	}
	log := o.log.WithFields(logrus.Fields{"host": d.Host, "domain": d.Name})

	log.Info("Connecting to libvirt")
	done := o.metrics.StartStage("connect")
	client, err := o.connect(ctx, virt.Target{Host: d.Host, KeyFile: d.SSHKey})
	done()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	defer closeClient(client, log)

	exec := remote.NewExecutor(d.Host, d.SSHKey, o.log)
	host := remote.NewHost(exec)
	hv := client.Hypervisor()

	installOpts := append([]install.Option{}, o.installOpts...)
	if d.InstallCommand != nil {
		installOpts = append(installOpts, install.WithCommandPrefix(d.InstallCommand))
	}

	deps := deployDeps{
		host:      host,
		storage:   storage.NewManager(hv, host, disk.NewImager(exec), image.NewFetcher(o.log), o.log),
		installer: install.NewInstaller(hv, exec, remote.NewUploader(exec, o.log), host, o.log, installOpts...),
		resolver:  network.NewResolver(hv, o.log),
	}
	return o.deployWithDeps(ctx, d, deps)
}

// deployWithDeps runs the deploy with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func (o *Orchestrator) deployWithDeps(ctx context.Context, d *config.Descriptor, deps deployDeps) (*Result, error) {
	log := o.log.WithFields(logrus.Fields{"host": d.Host, "domain": d.Name})

	localDir, removeLocal, err := localWorkDir(d.Image.DownloadDir)
	if err != nil {
		return nil, err
	}
	defer removeLocal()

	// Step 1: remote scratch directory
	remoteTmp, err := deps.host.MakeTempDir(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote scratch directory: %w", err)
	}
	log.WithField("dir", remoteTmp).Debug("Created remote scratch directory")
	defer o.removeScratch(ctx, deps.host, remoteTmp, log)

	// Step 2: storage pool
	done := o.metrics.StartStage("pool")
	pool, err := deps.storage.EnsurePool(ctx, d.Pool.Name, storage.PoolType(d.Pool.Type), d.Pool.Path)
	done()
	if err != nil {
		return nil, err
	}

	// Step 3: base volume
	done = o.metrics.StartStage("base_volume")
	base, err := deps.storage.EnsureBaseVolume(ctx, pool, storage.BaseVolumeSpec{
		Name:      d.Image.Volume,
		LocalPath: filepath.Join(localDir, naming.ImageFileName(d.Image.Source)),
		Format:    storage.VolumeFormat(d.Image.Format),
		Source:    d.Image.Source,
		Checksum:  d.Image.Checksum,
	})
	done()
	if err != nil {
		return nil, err
	}
	o.metrics.AddUploaded(base.Uploaded)

	req := install.Request{
		Name:         d.Name,
		MemoryMB:     d.Machine.MemoryMB,
		VCPUs:        d.Machine.VCPUs,
		Networks:     d.Networks(),
		OSVariant:    d.Machine.OSVariant,
		RemoteTmpDir: remoteTmp,
		ExtraArgs:    d.ExtraArgs,
	}

	// Step 4: domain disk
	installType := "cloud-init"
	done = o.metrics.StartStage("disk")
	if d.InstallFromMedia() || base.Format.Installable() {
		installType = "iso"
		size := d.DataDiskGB
		if size == 0 {
			size = DefaultDataDiskGB
		}
		vol, err := deps.storage.CreateBlankDisk(ctx, pool, naming.BlankVolumeName(d.Name), size)
		if err != nil {
			done()
			return nil, err
		}
		req.Disk = install.VolumeRef{Pool: vol.Pool, Volume: vol.Name}
		req.InstallMedia = &install.VolumeRef{Pool: base.Pool, Volume: base.Name}
	} else {
		vol, err := deps.storage.CreateLinkedClone(ctx, pool, base, naming.CloneVolumeName(d.Name))
		if err != nil {
			done()
			return nil, err
		}
		req.Disk = install.VolumeRef{Pool: vol.Pool, Volume: vol.Name}

		req.UserDataPath, req.NetworkConfigPath, err = cloudInitFiles(d, localDir)
		if err != nil {
			done()
			return nil, err
		}
	}
	done()

	// Step 5: virt-install
	done = o.metrics.StartStage("install")
	created, err := deps.installer.Install(ctx, req)
	done()
	if err != nil {
		return nil, err
	}

	// Step 6: address
	addrNet := d.AddressNetwork()
	log.WithField("network", addrNet).Info("Waiting for DHCP lease")
	retries, delay := d.Network.IPRetries, d.Network.IPDelay
	if retries == 0 {
		retries = network.DefaultRetries
	}
	if delay == 0 {
		delay = network.DefaultDelay
	}
	start := time.Now()
	ip, err := deps.resolver.ResolveIP(ctx, d.Name, addrNet, retries, delay)
	if err != nil {
		return nil, err
	}
	o.metrics.ObserveIPResolve(time.Since(start))

	log.WithField("ip", ip).Info("Deployment complete")
	return &Result{Name: d.Name, IP: ip, InstallationType: installType, Created: created}, nil
}

// removeScratch deletes the remote scratch directory even after ctx is
// cancelled.
func (o *Orchestrator) removeScratch(ctx context.Context, host scratchHost, dir string, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := host.RemoveAll(ctx, dir); err != nil {
		log.WithError(err).Warn("Failed to remove remote scratch directory")
	}
}

// localWorkDir returns dir, creating it if needed, or a fresh temp dir that
// the returned func removes.
func localWorkDir(dir string) (string, func(), error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, fmt.Errorf("failed to create download directory: %w", err)
		}
		return dir, func() {}, nil
	}

	tmp, err := os.MkdirTemp("", "vmspawner-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create local temp directory: %w", err)
	}
	return tmp, func() { _ = os.RemoveAll(tmp) }, nil
}

// cloudInitFiles returns the configured payload paths, or writes the
// defaults into dir.
func cloudInitFiles(d *config.Descriptor, dir string) (string, string, error) {
	if d.CloudInit.UserData != "" {
		return d.CloudInit.UserData, d.CloudInit.NetworkConfig, nil
	}
	userData, networkConfig, err := cloudinit.WriteDefaults(dir, cloudinit.Options{
		Hostname: d.Name,
		SSHKeys:  d.CloudInit.SSHKeys,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to write default cloud-init files: %w", err)
	}
	return userData, networkConfig, nil
}
