package vm

import (
	"context"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/vmspawner/internal/install"
	"github.com/jbweber/vmspawner/internal/storage"
)

// libvirtClient defines the libvirt operations needed to destroy a domain.
//
// In production, this is satisfied by *libvirt.Hypervisor.
// In tests, this is satisfied by mock implementations.
type libvirtClient interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainIsActive(dom libvirt.Domain) (int32, error)
	DomainDestroy(dom libvirt.Domain) error
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error

	StoragePoolLookupByName(name string) (libvirt.StoragePool, error)
	StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error)
	StorageVolLookupByPath(path string) (libvirt.StorageVol, error)
	StorageVolDelete(vol libvirt.StorageVol, flags libvirt.StorageVolDeleteFlags) error
}

// storageManager provisions pools and volumes.
//
// In production, this is satisfied by *storage.Manager.
type storageManager interface {
	EnsurePool(ctx context.Context, name string, poolType storage.PoolType, path string) (*storage.Pool, error)
	EnsureBaseVolume(ctx context.Context, pool *storage.Pool, spec storage.BaseVolumeSpec) (*storage.Volume, error)
	CreateLinkedClone(ctx context.Context, pool *storage.Pool, base *storage.Volume, cloneName string) (*storage.Volume, error)
	CreateBlankDisk(ctx context.Context, pool *storage.Pool, name string, sizeGB uint64) (*storage.Volume, error)
}

// domainInstaller is satisfied by *install.Installer.
type domainInstaller interface {
	Install(ctx context.Context, req install.Request) (bool, error)
}

// ipResolver is satisfied by *network.Resolver.
type ipResolver interface {
	ResolveIP(ctx context.Context, domain, network string, retries int, delay time.Duration) (string, error)
}

// scratchHost manages the per-deploy remote scratch directory.
//
// In production, this is satisfied by *remote.Host.
type scratchHost interface {
	MakeTempDir(ctx context.Context) (string, error)
	RemoveAll(ctx context.Context, path string) error
}

// deployDeps are the collaborators of one deploy, all bound to the same host
// and connection.
type deployDeps struct {
	host      scratchHost
	storage   storageManager
	installer domainInstaller
	resolver  ipResolver
}
