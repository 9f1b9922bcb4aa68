// Package install defines and boots new domains on the remote hypervisor by
// running virt-install there.
package install

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"

	virt "github.com/jbweber/vmspawner/internal/libvirt"
	"github.com/jbweber/vmspawner/internal/logging"
	"github.com/jbweber/vmspawner/internal/naming"
	"github.com/jbweber/vmspawner/internal/remote"
)

const (
	// DefaultTimeout bounds one virt-install run.
	DefaultTimeout = 600 * time.Second

	// DefaultConnectURI is the libvirt URI virt-install uses on the remote host.
	DefaultConnectURI = "qemu:///system"

	cleanupTimeout = 30 * time.Second
)

// DefaultCommandPrefix runs virt-install from nixpkgs so the remote host
// needs only nix.
var DefaultCommandPrefix = []string{"nix", "shell", "nixpkgs#virt-manager", "--command"}

var (
	ErrInstallFailed  = errors.New("virt-install failed")
	ErrInstallTimeout = errors.New("virt-install timed out")
	ErrUploadFailed   = errors.New("cloud-init upload failed")
)

type domainLookup interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
}

type runner interface {
	Run(ctx context.Context, argv []string, opts ...remote.Option) (*remote.Result, error)
}

type uploader interface {
	Upload(ctx context.Context, localSrc, remoteDest string, opts remote.UploadOptions) error
}

type fileRemover interface {
	RemoveFiles(ctx context.Context, paths ...string) error
}

// VolumeRef names a volume by pool and volume name.
type VolumeRef struct {
	Pool   string
	Volume string
}

func (v VolumeRef) String() string {
	return v.Pool + "/" + v.Volume
}

// Request is everything needed to install one domain.
type Request struct {
	Name     string
	MemoryMB uint
	VCPUs    uint
	Disk     VolumeRef
	// InstallMedia is attached read-only as a CD-ROM when set. Cloud-init is
	// only used when it is nil.
	InstallMedia *VolumeRef
	// Networks are attached in order; the first is the primary network.
	Networks  []string
	OSVariant string

	UserDataPath      string
	NetworkConfigPath string
	RemoteTmpDir      string

	ExtraArgs []string
}

// CloudInit reports whether the request boots an imported disk with cloud-init.
func (r Request) CloudInit() bool {
	return r.InstallMedia == nil
}

// Validate checks the fields Install relies on.
func (r Request) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("domain name is required")
	}
	if r.MemoryMB == 0 || r.VCPUs == 0 {
		return fmt.Errorf("memory and vcpus must be greater than 0")
	}
	if r.Disk.Pool == "" || r.Disk.Volume == "" {
		return fmt.Errorf("disk volume is required")
	}
	if len(r.Networks) == 0 {
		return fmt.Errorf("at least one network is required")
	}
	if r.CloudInit() {
		if r.UserDataPath == "" || r.NetworkConfigPath == "" {
			return fmt.Errorf("user-data and network-config are required without install media")
		}
		if !path.IsAbs(r.RemoteTmpDir) {
			return fmt.Errorf("remote scratch directory must be absolute: %q", r.RemoteTmpDir)
		}
	}
	return nil
}

// Installer runs virt-install on the remote host.
type Installer struct {
	domains  domainLookup
	runner   runner
	uploader uploader
	host     fileRemover
	log      logrus.FieldLogger

	prefix     []string
	connectURI string
	timeout    time.Duration
	uploadOpts remote.UploadOptions
}

// Option configures an Installer.
type Option func(*Installer)

// WithCommandPrefix replaces DefaultCommandPrefix. An empty prefix runs
// virt-install from PATH.
func WithCommandPrefix(prefix []string) Option {
	return func(i *Installer) { i.prefix = prefix }
}

// WithTimeout replaces DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Installer) { i.timeout = d }
}

// WithUploadOptions sets ownership and modes of the uploaded cloud-init files.
func WithUploadOptions(opts remote.UploadOptions) Option {
	return func(i *Installer) { i.uploadOpts = opts }
}

// NewInstaller creates an Installer.
func NewInstaller(domains domainLookup, r runner, u uploader, host fileRemover, log logrus.FieldLogger, opts ...Option) *Installer {
	i := &Installer{
		domains:    domains,
		runner:     r,
		uploader:   u,
		host:       host,
		log:        logging.OrDiscard(log),
		prefix:     DefaultCommandPrefix,
		connectURI: DefaultConnectURI,
		timeout:    DefaultTimeout,
		uploadOpts: remote.UploadOptions{
			Owner:    "root",
			Group:    "root",
			DirMode:  0o700,
			FileMode: 0o400,
		},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install creates and starts the domain described by req. It returns
// created=false without doing anything when a domain of that name exists.
func (i *Installer) Install(ctx context.Context, req Request) (created bool, err error) {
	if err := req.Validate(); err != nil {
		return false, fmt.Errorf("invalid install request: %w", err)
	}
	log := i.log.WithField("domain", req.Name)

	_, err = i.domains.DomainLookupByName(req.Name)
	switch {
	case err == nil:
		log.Info("Domain already exists, skipping virt-install")
		return false, nil
	case errors.Is(err, virt.ErrDomainNotFound):
	default:
		log.WithError(err).Warn("Domain lookup failed, attempting install anyway")
	}

	var userData, networkConfig string
	if req.CloudInit() {
		userData = path.Join(req.RemoteTmpDir, naming.RemoteUserDataName(req.Name))
		networkConfig = path.Join(req.RemoteTmpDir, naming.RemoteNetworkConfigName(req.Name))
		defer i.cleanup(ctx, log, userData, networkConfig)

		if err := i.uploader.Upload(ctx, req.UserDataPath, userData, i.uploadOpts); err != nil {
			return false, fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		if err := i.uploader.Upload(ctx, req.NetworkConfigPath, networkConfig, i.uploadOpts); err != nil {
			return false, fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
	}

	argv := i.Command(req, userData, networkConfig)
	log.Infof("Running %s", shellquote.Join(argv...))

	if _, err := i.runner.Run(ctx, argv, remote.WithTimeout(i.timeout)); err != nil {
		switch {
		case errors.Is(err, remote.ErrTimeout):
			return false, fmt.Errorf("%w after %s: %w", ErrInstallTimeout, i.timeout, err)
		case errors.Is(err, remote.ErrCommandFailed):
			return false, fmt.Errorf("%w for domain %s: %w", ErrInstallFailed, req.Name, err)
		default:
			return false, fmt.Errorf("failed to run virt-install: %w", err)
		}
	}

	log.Info("Domain installed")
	return true, nil
}

// Command builds the full remote argv. userData and networkConfig are the
// remote cloud-init paths and are ignored when install media is attached.
func (i *Installer) Command(req Request, userData, networkConfig string) []string {
	argv := append([]string{}, i.prefix...)
	argv = append(argv,
		"virt-install",
		"--connect="+i.connectURI,
		"--name="+req.Name,
		fmt.Sprintf("--memory=%d", req.MemoryMB),
		fmt.Sprintf("--vcpus=%d", req.VCPUs),
		fmt.Sprintf("--disk=vol=%s,device=disk,bus=virtio", req.Disk),
	)
	if req.InstallMedia != nil {
		argv = append(argv, fmt.Sprintf("--disk=vol=%s,device=cdrom,readonly=on", *req.InstallMedia))
	}
	for _, network := range req.Networks {
		argv = append(argv, fmt.Sprintf("--network=network=%s,model=virtio", network))
	}
	argv = append(argv, "--os-variant="+req.OSVariant)

	if req.CloudInit() {
		argv = append(argv,
			"--import",
			fmt.Sprintf("--cloud-init=user-data=%s,network-config=%s", userData, networkConfig),
			"--boot=hd",
		)
	} else {
		argv = append(argv, "--boot=hd,cdrom")
	}

	argv = append(argv,
		"--graphics=none",
		"--console=pty,target_type=serial",
		"--machine=q35",
		"--noautoconsole",
		"--check=disk_size=off",
		"--video=qxl",
		"--rng=/dev/urandom,model=virtio",
	)
	return append(argv, req.ExtraArgs...)
}

// cleanup removes the uploaded cloud-init files. It runs even when ctx has
// been cancelled and only logs failures.
func (i *Installer) cleanup(ctx context.Context, log logrus.FieldLogger, paths ...string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := i.host.RemoveFiles(ctx, paths...); err != nil {
		log.WithError(err).Warn("Failed to remove remote cloud-init files")
	}
}
