// Package cloudinit renders the default cloud-init payloads used when a
// deploy does not bring its own user-data and network-config.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
package cloudinit

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultRootPassword is the console and SSH password set for root.
	DefaultRootPassword = "terraform"

	UserDataFile      = "cloud_init.cfg"
	NetworkConfigFile = "network_config.cfg"
)

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
type UserData struct {
	Hostname          string    `yaml:"hostname,omitempty"`
	DisableRoot       bool      `yaml:"disable_root"`
	SSHAuthorizedKeys []string  `yaml:"ssh_authorized_keys,omitempty"`
	Chpasswd          *Chpasswd `yaml:"chpasswd,omitempty"`
	SSHPasswordAuth   bool      `yaml:"ssh_pwauth"`
	Output            *Output   `yaml:"output,omitempty"`
}

// Chpasswd configures user password settings.
type Chpasswd struct {
	Expire bool   `yaml:"expire"`
	List   string `yaml:"list"` // Format: "username:password"
}

// Output configures cloud-init output logging.
type Output struct {
	All string `yaml:"all"`
}

// NetworkConfig represents the netplan v2 network configuration.
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig represents a single ethernet interface configuration.
type EthernetConfig struct {
	Match MatchConfig `yaml:"match"`
	DHCP4 bool        `yaml:"dhcp4"`
	DHCP6 bool        `yaml:"dhcp6"`
}

// MatchConfig matches interfaces by name glob.
type MatchConfig struct {
	Name string `yaml:"name"`
}

// Options customise the default payloads.
type Options struct {
	Hostname string
	SSHKeys  []string
}

// GenerateUserData returns the default user-data: root login with
// DefaultRootPassword over console and SSH, plus any authorized keys.
func GenerateUserData(opts Options) (string, error) {
	userData := UserData{
		Hostname:          opts.Hostname,
		DisableRoot:       false,
		SSHAuthorizedKeys: opts.SSHKeys,
		Chpasswd: &Chpasswd{
			Expire: false,
			List:   "root:" + DefaultRootPassword,
		},
		SSHPasswordAuth: true,
		Output: &Output{
			All: "| tee -a /var/log/cloud-init-output.log",
		},
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// Prepend #cloud-config header (required by cloud-init)
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateNetworkConfig returns a netplan v2 config running DHCPv4 on every
// en* interface, so each attached libvirt network gets a lease.
func GenerateNetworkConfig() (string, error) {
	networkConfig := NetworkConfig{
		Version: 2,
		Ethernets: map[string]EthernetConfig{
			"all-en": {
				Match: MatchConfig{Name: "en*"},
				DHCP4: true,
			},
		},
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}
	return string(yamlBytes), nil
}

// WriteDefaults writes both default payloads into dir and returns their paths.
func WriteDefaults(dir string, opts Options) (userDataPath, networkConfigPath string, err error) {
	userData, err := GenerateUserData(opts)
	if err != nil {
		return "", "", err
	}
	networkConfig, err := GenerateNetworkConfig()
	if err != nil {
		return "", "", err
	}

	userDataPath = filepath.Join(dir, UserDataFile)
	networkConfigPath = filepath.Join(dir, NetworkConfigFile)

	if err := os.WriteFile(userDataPath, []byte(userData), 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write user-data: %w", err)
	}
	if err := os.WriteFile(networkConfigPath, []byte(networkConfig), 0o600); err != nil {
		return "", "", fmt.Errorf("failed to write network-config: %w", err)
	}
	return userDataPath, networkConfigPath, nil
}
