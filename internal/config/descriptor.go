// Package config defines the deployment descriptor: every parameter of one
// deploy, validated once and not modified afterwards.
package config

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/jbweber/vmspawner/internal/naming"
)

// Descriptor is the full set of parameters for one deploy.
type Descriptor struct {
	Host    string        `yaml:"host"` // user@host
	SSHKey  string        `yaml:"ssh_key,omitempty"`
	Name    string        `yaml:"name,omitempty"`
	Pool    PoolConfig    `yaml:"pool"`
	Image   ImageConfig   `yaml:"image"`
	Machine MachineConfig `yaml:"machine"`
	Network NetworkConfig `yaml:"network"`

	CloudInit CloudInitConfig `yaml:"cloud_init,omitempty"`

	// DataDiskGB sizes the blank disk created when installing from media.
	DataDiskGB uint64   `yaml:"data_disk_gb,omitempty"`
	ExtraArgs  []string `yaml:"virt_install_extra_args,omitempty"`

	// InstallCommand replaces the remote command prefix used to run virt-install.
	InstallCommand []string `yaml:"install_command,omitempty"`
}

// PoolConfig names the storage pool holding base and derived volumes.
type PoolConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Path string `yaml:"path"`
}

// ImageConfig describes the base image and how it is fetched.
type ImageConfig struct {
	Source   string `yaml:"source"` // URL or local path
	Checksum string `yaml:"checksum,omitempty"`
	Volume   string `yaml:"volume"`
	// Format is qcow2, raw or iso. Empty means detect from content.
	Format string `yaml:"format,omitempty"`
	// DownloadDir holds the local copy. Empty means a per-run temp dir.
	DownloadDir string `yaml:"download_dir,omitempty"`
}

// MachineConfig is the guest hardware.
type MachineConfig struct {
	MemoryMB  uint   `yaml:"memory_mb"`
	VCPUs     uint   `yaml:"vcpus"`
	OSVariant string `yaml:"os_variant"`
}

// NetworkConfig lists the libvirt networks the guest is attached to and
// bounds the wait for its address.
type NetworkConfig struct {
	Primary  string `yaml:"primary"`
	Isolated string `yaml:"isolated,omitempty"`

	IPRetries int           `yaml:"ip_retries,omitempty"`
	IPDelay   time.Duration `yaml:"ip_delay,omitempty"`
}

// CloudInitConfig points at local user-data and network-config files.
// SSHKeys are added to the generated default user-data.
type CloudInitConfig struct {
	UserData      string   `yaml:"user_data,omitempty"`
	NetworkConfig string   `yaml:"network_config,omitempty"`
	SSHKeys       []string `yaml:"ssh_keys,omitempty"`
}

var (
	hostPattern    = regexp.MustCompile(`^([A-Za-z0-9._-]+@)?[A-Za-z0-9.:\[\]_-]+$`)
	networkPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)
)

var validFormats = map[string]bool{"": true, "qcow2": true, "raw": true, "iso": true}

// Validate checks the descriptor for errors. It does not contact the host.
func (d *Descriptor) Validate() error {
	if d.Host == "" {
		return fmt.Errorf("host is required")
	}
	if !hostPattern.MatchString(d.Host) {
		return fmt.Errorf("host must be [user@]hostname, got %q", d.Host)
	}
	if err := naming.ValidateName(d.Name); err != nil {
		return fmt.Errorf("name: %w", err)
	}

	if err := d.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := d.Image.Validate(); err != nil {
		return fmt.Errorf("image: %w", err)
	}

	if d.Machine.MemoryMB == 0 {
		return fmt.Errorf("machine.memory_mb must be > 0")
	}
	if d.Machine.VCPUs == 0 {
		return fmt.Errorf("machine.vcpus must be > 0")
	}
	if d.Machine.OSVariant == "" {
		return fmt.Errorf("machine.os_variant is required")
	}

	if err := d.Network.Validate(); err != nil {
		return fmt.Errorf("network: %w", err)
	}

	if d.InstallFromMedia() {
		if d.DataDiskGB == 0 {
			return fmt.Errorf("data_disk_gb must be > 0 when installing from an ISO")
		}
	} else {
		if err := d.CloudInit.Validate(); err != nil {
			return fmt.Errorf("cloud_init: %w", err)
		}
	}

	return nil
}

// Validate checks the pool settings.
func (p *PoolConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Type != "dir" {
		return fmt.Errorf("only dir pools are supported, got %q", p.Type)
	}
	if !path.IsAbs(p.Path) {
		return fmt.Errorf("path must be absolute, got %q", p.Path)
	}
	return nil
}

// Validate checks the image settings.
func (i *ImageConfig) Validate() error {
	if i.Source == "" {
		return fmt.Errorf("source is required")
	}
	if strings.Contains(i.Source, "://") {
		u, err := url.Parse(i.Source)
		if err != nil {
			return fmt.Errorf("invalid source URL %q: %w", i.Source, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("unsupported source scheme %q", u.Scheme)
		}
	}
	if i.Volume == "" {
		return fmt.Errorf("volume is required")
	}
	if strings.Contains(i.Volume, "/") {
		return fmt.Errorf("volume must be a plain name, got %q", i.Volume)
	}
	if !validFormats[i.Format] {
		return fmt.Errorf("format must be qcow2, raw or iso, got %q", i.Format)
	}
	if i.Checksum != "" {
		sum := strings.TrimPrefix(strings.ToLower(i.Checksum), "sha256:")
		if len(sum) != 64 || strings.Trim(sum, "0123456789abcdef") != "" {
			return fmt.Errorf("checksum must be a hex SHA-256 digest")
		}
	}
	return nil
}

// Validate checks the network settings.
func (n *NetworkConfig) Validate() error {
	if n.Primary == "" {
		return fmt.Errorf("primary is required")
	}
	for _, name := range []string{n.Primary, n.Isolated} {
		if name != "" && !networkPattern.MatchString(name) {
			return fmt.Errorf("invalid network name %q", name)
		}
	}
	if n.Isolated != "" && n.Isolated == n.Primary {
		return fmt.Errorf("isolated network must differ from primary")
	}
	if n.IPRetries < 0 {
		return fmt.Errorf("ip_retries must be >= 0")
	}
	if n.IPDelay < 0 {
		return fmt.Errorf("ip_delay must be >= 0")
	}
	return nil
}

// Validate checks the cloud-init file references and SSH keys.
func (c *CloudInitConfig) Validate() error {
	if (c.UserData == "") != (c.NetworkConfig == "") {
		return fmt.Errorf("user_data and network_config must be set together")
	}
	for i, key := range c.SSHKeys {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("ssh_keys[%d] is not a valid SSH public key: %w", i, err)
		}
	}
	return nil
}

// InstallFromMedia reports whether the image is installer media rather than
// a bootable disk.
func (d *Descriptor) InstallFromMedia() bool {
	if d.Image.Format != "" {
		return d.Image.Format == "iso"
	}
	return IsISOSource(d.Image.Source)
}

// IsISOSource reports whether source names an .iso file.
func IsISOSource(source string) bool {
	return strings.HasSuffix(strings.ToLower(naming.ImageFileName(source)), ".iso")
}

// Networks returns the networks to attach, primary first.
func (d *Descriptor) Networks() []string {
	if d.Network.Isolated == "" {
		return []string{d.Network.Primary}
	}
	return []string{d.Network.Primary, d.Network.Isolated}
}

// AddressNetwork is the network whose lease identifies the guest. The
// isolated network is preferred when configured.
func (d *Descriptor) AddressNetwork() string {
	if d.Network.Isolated != "" {
		return d.Network.Isolated
	}
	return d.Network.Primary
}

// InstallationType is "iso" or "cloud-init".
func (d *Descriptor) InstallationType() string {
	if d.InstallFromMedia() {
		return "iso"
	}
	return "cloud-init"
}
