// Package naming holds the naming rules for everything vmspawner creates:
// domains, per-domain volumes, cached images and remote cloud-init files.
package naming

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// DefaultDomainPrefix is used for generated domain names.
const DefaultDomainPrefix = "ubuntu"

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// DomainName returns a fresh <prefix>-<uuid> domain name.
func DomainName(prefix string) string {
	if prefix == "" {
		prefix = DefaultDomainPrefix
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// ValidateName rejects names that are unsafe as libvirt object names or
// file names on the remote host.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid name %q: use letters, digits, '.', '_' and '-'", name)
	}
	return nil
}

// CloneVolumeName returns the linked-clone volume name of a domain.
// Format: {domain}.qcow2
func CloneVolumeName(domain string) string {
	return domain + ".qcow2"
}

// BlankVolumeName returns the blank data disk name of a domain installed
// from install media.
// Format: {domain}-data.qcow2
func BlankVolumeName(domain string) string {
	return domain + "-data.qcow2"
}

// RemoteUserDataName is the user-data file name in the remote scratch dir.
func RemoteUserDataName(domain string) string {
	return domain + "-user-data.cfg"
}

// RemoteNetworkConfigName is the network-config file name in the remote
// scratch dir.
func RemoteNetworkConfigName(domain string) string {
	return domain + "-network-config.cfg"
}

// ImageFileName returns the last path element of a URL or local path, which
// names both the local cache file and, by default, the base volume.
func ImageFileName(source string) string {
	p := source
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	}
	base := path.Base(strings.TrimRight(p, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return base
}
