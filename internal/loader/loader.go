// Package loader builds deployment descriptors from built-in defaults, an
// optional YAML profile and the environment.
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/vmspawner/internal/config"
	"github.com/jbweber/vmspawner/internal/naming"
)

// Defaults of an unconfigured deploy.
const (
	DefaultPoolName  = "ubuntu_pool_py"
	DefaultPoolPath  = "/var/lib/libvirt/images/ubuntu-pool-py"
	DefaultImage     = "https://cloud-images.ubuntu.com/minimal/releases/noble/release/ubuntu-24.04-minimal-cloudimg-amd64.img"
	DefaultChecksum  = "a8e8b39f8c76d51cdf1544b71d5096b0df22a2ef3576d8cbfcbf7351df10602e"
	DefaultVolume    = "ubuntu-24.04-minimal-cloudimg-amd64.qcow2"
	DefaultMemoryMB  = 2048
	DefaultVCPUs     = 2
	DefaultOSVariant = "ubuntu24.04"
	DefaultNetwork   = "default"
	DefaultIsolated  = "isolated"
	DefaultDataDisk  = 20
)

// ImageEnvVars override the image source, first non-empty wins.
var ImageEnvVars = []string{"VMSPAWNER_BASE_IMAGE", "CLAN_BASE_IMAGE"}

// Defaults returns the descriptor of an unconfigured deploy with a freshly
// generated domain name. Host is left empty.
func Defaults() *config.Descriptor {
	return &config.Descriptor{
		Name: naming.DomainName(""),
		Pool: config.PoolConfig{
			Name: DefaultPoolName,
			Type: "dir",
			Path: DefaultPoolPath,
		},
		Image: config.ImageConfig{
			Source:   DefaultImage,
			Checksum: DefaultChecksum,
			Volume:   DefaultVolume,
			Format:   "qcow2",
		},
		Machine: config.MachineConfig{
			MemoryMB:  DefaultMemoryMB,
			VCPUs:     DefaultVCPUs,
			OSVariant: DefaultOSVariant,
		},
		Network: config.NetworkConfig{
			Primary:  DefaultNetwork,
			Isolated: DefaultIsolated,
		},
		DataDiskGB: DefaultDataDisk,
	}
}

// Load returns the defaults overlaid with the profile at path (if any) and
// then the image environment variables. The result is not validated; more
// overrides usually follow.
func Load(path string) (*config.Descriptor, error) {
	d := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
		if err := Overlay(d, data); err != nil {
			return nil, fmt.Errorf("failed to load profile %s: %w", path, err)
		}
	}
	ApplyEnv(d)
	return d, nil
}

// LoadFromYAML decodes a complete descriptor with no defaults applied and
// validates it.
func LoadFromYAML(data []byte) (*config.Descriptor, error) {
	d := &config.Descriptor{}
	if err := Overlay(d, data); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return d, nil
}

// Overlay decodes a YAML profile onto d. Keys absent from the profile keep
// their current values; unknown keys are rejected.
func Overlay(d *config.Descriptor, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	normalize(d)
	return nil
}

// SaveToFile writes d as a YAML profile.
func SaveToFile(d *config.Descriptor, path string) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}

// ApplyEnv applies the first non-empty ImageEnvVars value as image source.
func ApplyEnv(d *config.Descriptor) {
	for _, key := range ImageEnvVars {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			SetImage(d, v)
			return
		}
	}
}

// SetImage replaces the image source. The base volume is renamed after the
// source file and the checksum is dropped since it described the previous
// image. An .iso source selects installation from media.
func SetImage(d *config.Descriptor, source string) {
	if source == d.Image.Source {
		return
	}
	d.Image.Source = source
	d.Image.Checksum = ""
	d.Image.Volume = naming.ImageFileName(source)
	if config.IsISOSource(source) {
		d.Image.Format = "iso"
	} else {
		d.Image.Format = ""
	}
}

// normalize trims fields that are commonly pasted with stray whitespace.
func normalize(d *config.Descriptor) {
	d.Host = strings.TrimSpace(d.Host)
	d.Name = strings.TrimSpace(d.Name)
	d.Image.Checksum = strings.ToLower(strings.TrimSpace(d.Image.Checksum))
}
