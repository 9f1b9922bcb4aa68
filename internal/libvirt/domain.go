package libvirt

import (
	"fmt"
	"strings"

	"libvirt.org/go/libvirtxml"
)

// DiskRef identifies a storage volume backing a domain disk, either by
// pool and volume name or by file path.
type DiskRef struct {
	Pool   string
	Volume string
	Path   string
}

// Key is stable across equivalent references and used for de-duplication.
func (d DiskRef) Key() string {
	if d.Pool != "" && d.Volume != "" {
		return "vol:" + d.Pool + "/" + d.Volume
	}
	return "path:" + d.Path
}

func (d DiskRef) String() string {
	if d.Pool != "" && d.Volume != "" {
		return d.Pool + "/" + d.Volume
	}
	return d.Path
}

// ParseDomain decodes a domain XML description.
func ParseDomain(xml string) (*libvirtxml.Domain, error) {
	dom := &libvirtxml.Domain{}
	if err := dom.Unmarshal(xml); err != nil {
		return nil, fmt.Errorf("failed to parse domain XML: %w", err)
	}
	return dom, nil
}

// InterfaceMACs returns the lower-cased MAC addresses of interfaces attached
// to network. An empty network matches every interface.
func InterfaceMACs(dom *libvirtxml.Domain, network string) []string {
	if dom == nil || dom.Devices == nil {
		return nil
	}

	var macs []string
	for _, iface := range dom.Devices.Interfaces {
		if iface.MAC == nil || iface.MAC.Address == "" {
			continue
		}
		if network != "" {
			if iface.Source == nil || iface.Source.Network == nil || iface.Source.Network.Network != network {
				continue
			}
		}
		macs = append(macs, strings.ToLower(iface.MAC.Address))
	}
	return macs
}

// DiskRefs lists the storage behind the domain's disk devices. CD-ROM and
// floppy devices are skipped. Duplicates are removed, keeping first-seen order.
func DiskRefs(dom *libvirtxml.Domain) []DiskRef {
	if dom == nil || dom.Devices == nil {
		return nil
	}

	seen := map[string]bool{}
	var refs []DiskRef
	for _, disk := range dom.Devices.Disks {
		if disk.Device != "" && disk.Device != "disk" {
			continue
		}
		if disk.Source == nil {
			continue
		}

		var ref DiskRef
		switch {
		case disk.Source.Volume != nil && disk.Source.Volume.Pool != "" && disk.Source.Volume.Volume != "":
			ref = DiskRef{Pool: disk.Source.Volume.Pool, Volume: disk.Source.Volume.Volume}
		case disk.Source.File != nil && disk.Source.File.File != "":
			ref = DiskRef{Path: disk.Source.File.File}
		default:
			continue
		}

		if seen[ref.Key()] {
			continue
		}
		seen[ref.Key()] = true
		refs = append(refs, ref)
	}
	return refs
}
