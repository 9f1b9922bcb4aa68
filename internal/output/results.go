package output

import "fmt"

// StatusDeleted is the destroy status reported for every successful destroy,
// including one that found nothing to remove.
const StatusDeleted = "deleted"

// Created describes a deployed domain and how to reach it.
type Created struct {
	Name             string `json:"name" yaml:"name"`
	IP               string `json:"ip" yaml:"ip"`
	Host             string `json:"host" yaml:"host"`
	InstallationType string `json:"installation_type" yaml:"installation_type"`
	// ConsoleCommand is set for installs from media, SSHCommand otherwise.
	ConsoleCommand string `json:"console_command,omitempty" yaml:"console_command,omitempty"`
	SSHCommand     string `json:"ssh_command,omitempty" yaml:"ssh_command,omitempty"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
}

// NewCreated fills in the access command for the installation type.
func NewCreated(name, ip, host, installationType string) *Created {
	c := &Created{
		Name:             name,
		IP:               ip,
		Host:             host,
		InstallationType: installationType,
	}
	if installationType == "iso" {
		c.ConsoleCommand = fmt.Sprintf("ssh -t %s virsh --connect qemu:///system console %s", host, name)
	} else {
		c.SSHCommand = "ssh root@" + ip
	}
	return c
}

// Destroyed describes a destroyed domain.
type Destroyed struct {
	Name           string   `json:"name" yaml:"name"`
	Host           string   `json:"host" yaml:"host"`
	Status         string   `json:"status" yaml:"status"`
	DeletedVolumes []string `json:"deleted_volumes,omitempty" yaml:"deleted_volumes,omitempty"`
	FailedVolumes  []string `json:"failed_volumes,omitempty" yaml:"failed_volumes,omitempty"`
}

// Connection describes a reachable libvirt daemon.
type Connection struct {
	Host           string `json:"host" yaml:"host"`
	URI            string `json:"uri" yaml:"uri"`
	Hostname       string `json:"hostname" yaml:"hostname"`
	LibvirtVersion string `json:"libvirt_version" yaml:"libvirt_version"`
}
