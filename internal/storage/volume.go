package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
	libvirtxml "libvirt.org/go/libvirtxml"
)

// CreateLinkedClone creates a qcow2 overlay named cloneName next to base,
// backed by it. An overlay that already exists is reused.
func (m *Manager) CreateLinkedClone(ctx context.Context, pool *Pool, base *Volume, cloneName string) (*Volume, error) {
	dst := path.Join(path.Dir(base.Path), cloneName)
	log := m.log.WithFields(logrus.Fields{"pool": pool.Name, "volume": cloneName})

	create := func() error {
		log.WithField("backing", base.Path).Info("Creating linked clone")
		return m.imager.CreateOverlay(ctx, base.Path, base.Format.driverType(), dst)
	}
	return m.ensureDerived(ctx, pool, cloneName, dst, VolumeFormatQCOW2, create, log)
}

// CreateBlankDisk allocates an empty qcow2 image named name in the pool
// directory. An image that already exists is reused.
func (m *Manager) CreateBlankDisk(ctx context.Context, pool *Pool, name string, sizeGB uint64) (*Volume, error) {
	dst := path.Join(pool.Path, name)
	log := m.log.WithFields(logrus.Fields{"pool": pool.Name, "volume": name})

	create := func() error {
		log.WithField("sizeGB", sizeGB).Info("Creating blank disk")
		return m.imager.CreateBlank(ctx, dst, string(VolumeFormatQCOW2), sizeGB)
	}
	return m.ensureDerived(ctx, pool, name, dst, VolumeFormatQCOW2, create, log)
}

// ensureDerived checks for dst, runs create when it is absent and refreshes
// the pool either way. The volume is only returned once the refreshed pool
// lists it. When the existence check itself fails, dst is never written: the
// pool is refreshed and an already listed volume is reused, anything else is
// an error.
func (m *Manager) ensureDerived(ctx context.Context, pool *Pool, name, dst string, format VolumeFormat, create func() error, log logrus.FieldLogger) (*Volume, error) {
	exists, err := m.host.FileExists(ctx, dst)
	switch {
	case err != nil:
		log.WithError(err).Warn("Existence check failed, looking for a listed volume")
		return m.lookupDerived(pool, name, dst, format, err)
	case exists:
		log.Info("Disk already exists, skipping creation")
	default:
		if err := create(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrVolumeProvision, dst, err)
		}
	}

	return m.lookupDerived(pool, name, dst, format, nil)
}

// lookupDerived refreshes pool and resolves name in it. checkErr is the
// failed existence check that led here, if any.
func (m *Manager) lookupDerived(pool *Pool, name, dst string, format VolumeFormat, checkErr error) (*Volume, error) {
	if err := m.refresh(pool); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolumeProvision, err)
	}

	handle, err := m.client.StorageVolLookupByName(pool.Handle, name)
	if err != nil {
		if checkErr != nil {
			return nil, fmt.Errorf("%w: cannot tell whether %s exists: %w", ErrVolumeProvision, dst, checkErr)
		}
		return nil, fmt.Errorf("%w: volume %s not listed in pool %s after refresh: %w", ErrVolumeProvision, name, pool.Name, err)
	}

	return &Volume{Handle: handle, Pool: pool.Name, Name: name, Path: dst, Format: format}, nil
}

// generateVolumeXML generates XML for a file volume of exactly capacity bytes.
func generateVolumeXML(name string, format VolumeFormat, capacity uint64, gid string) (string, error) {
	vol := &libvirtxml.StorageVolume{
		Type: "file",
		Name: name,
		Capacity: &libvirtxml.StorageVolumeSize{
			Value: capacity,
			Unit:  "bytes",
		},
		Target: &libvirtxml.StorageVolumeTarget{
			Format: &libvirtxml.StorageVolumeTargetFormat{
				Type: string(format),
			},
			Permissions: &libvirtxml.StorageVolumeTargetPermissions{
				Owner: VolumeOwner,
				Group: gid,
				Mode:  VolumeMode,
			},
		},
	}

	xml, err := vol.Marshal()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(strings.TrimPrefix(xml, xmlHeader)), nil
}
