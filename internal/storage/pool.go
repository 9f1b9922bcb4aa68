package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/digitalocean/go-libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"

	virt "github.com/jbweber/vmspawner/internal/libvirt"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`

// EnsurePool returns the named pool, activating it if it is defined but
// inactive, or defining and starting it at path if it does not exist.
func (m *Manager) EnsurePool(ctx context.Context, name string, poolType PoolType, path string) (*Pool, error) {
	log := m.log.WithField("pool", name)

	pool, err := m.client.StoragePoolLookupByName(name)
	if err == nil {
		active, err := m.client.StoragePoolIsActive(pool)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to query pool %s state: %w", ErrPoolProvision, name, err)
		}
		if active == 0 {
			log.Info("Activating inactive pool")
			if err := m.client.StoragePoolCreate(pool, 0); err != nil {
				return nil, fmt.Errorf("%w: failed to activate pool %s: %w", ErrPoolProvision, name, err)
			}
		}
		return &Pool{Handle: pool, Name: name, Path: m.poolPath(pool, path)}, nil
	}
	if !virt.IsNotFound(err) {
		log.WithError(err).Warn("Pool lookup failed, attempting to define it")
	}

	return m.createPool(ctx, name, poolType, path)
}

// createPool defines, builds, autostarts and starts a new pool. Any failure
// after the definition undefines the pool again.
func (m *Manager) createPool(ctx context.Context, name string, poolType PoolType, path string) (*Pool, error) {
	log := m.log.WithField("pool", name)

	if poolType != PoolTypeDir {
		return nil, fmt.Errorf("%w: unsupported pool type: %s", ErrPoolProvision, poolType)
	}

	gid, err := m.groupID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPoolProvision, err)
	}

	poolXML, err := generateDirPoolXML(name, path, gid)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate pool XML: %w", ErrPoolProvision, err)
	}

	log.WithField("path", path).Info("Defining storage pool")
	pool, err := m.client.StoragePoolDefineXML(poolXML, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to define pool %s: %w", ErrPoolProvision, name, err)
	}

	// Build creates the directory; it fails harmlessly when it already exists.
	if err := m.client.StoragePoolBuild(pool, 0); err != nil {
		log.WithError(err).Warn("Failed to build pool, continuing")
	}

	if err := m.client.StoragePoolSetAutostart(pool, 1); err != nil {
		m.undefinePool(pool)
		return nil, fmt.Errorf("%w: failed to set autostart on pool %s: %w", ErrPoolProvision, name, err)
	}

	if err := m.client.StoragePoolCreate(pool, 0); err != nil {
		m.undefinePool(pool)
		return nil, fmt.Errorf("%w: failed to start pool %s: %w", ErrPoolProvision, name, err)
	}

	log.Info("Storage pool created and active")
	return &Pool{Handle: pool, Name: name, Path: path}, nil
}

func (m *Manager) undefinePool(pool libvirt.StoragePool) {
	if err := m.client.StoragePoolUndefine(pool); err != nil {
		m.log.WithField("pool", pool.Name).WithError(err).Warn("Failed to undefine pool after error")
	}
}

// poolPath reads the target path from the pool's XML, falling back to
// fallback when it cannot be read.
func (m *Manager) poolPath(pool libvirt.StoragePool, fallback string) string {
	xmlDesc, err := m.client.StoragePoolGetXMLDesc(pool, 0)
	if err != nil {
		m.log.WithField("pool", pool.Name).WithError(err).Warn("Failed to read pool XML")
		return fallback
	}

	var poolDef libvirtxml.StoragePool
	if err := poolDef.Unmarshal(xmlDesc); err != nil || poolDef.Target == nil || poolDef.Target.Path == "" {
		return fallback
	}
	return poolDef.Target.Path
}

// refresh rescans the pool so the hypervisor sees files created behind its back.
func (m *Manager) refresh(pool *Pool) error {
	if err := m.client.StoragePoolRefresh(pool.Handle, 0); err != nil {
		return fmt.Errorf("failed to refresh pool %s: %w", pool.Name, err)
	}
	return nil
}

// generateDirPoolXML generates XML for a directory-based storage pool.
func generateDirPoolXML(name, path, gid string) (string, error) {
	pool := &libvirtxml.StoragePool{
		Type: "dir",
		Name: name,
		Target: &libvirtxml.StoragePoolTarget{
			Path: path,
			Permissions: &libvirtxml.StoragePoolTargetPermissions{
				Owner: PoolOwner,
				Group: gid,
				Mode:  PoolMode,
				Label: PoolLabel,
			},
		},
	}

	xml, err := pool.Marshal()
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(strings.TrimPrefix(xml, xmlHeader)), nil
}
