package storage

import (
	"context"
	"io"
	"sync"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/vmspawner/internal/logging"
)

// LibvirtClient is the interface for libvirt operations.
// This allows for dependency injection and testing.
type LibvirtClient interface {
	StoragePoolLookupByName(Name string) (libvirt.StoragePool, error)
	StoragePoolDefineXML(XML string, Flags uint32) (libvirt.StoragePool, error)
	StoragePoolCreate(Pool libvirt.StoragePool, Flags libvirt.StoragePoolCreateFlags) error
	StoragePoolBuild(Pool libvirt.StoragePool, Flags libvirt.StoragePoolBuildFlags) error
	StoragePoolSetAutostart(Pool libvirt.StoragePool, Autostart int32) error
	StoragePoolUndefine(Pool libvirt.StoragePool) error
	StoragePoolIsActive(Pool libvirt.StoragePool) (int32, error)
	StoragePoolGetXMLDesc(Pool libvirt.StoragePool, Flags libvirt.StorageXMLFlags) (string, error)
	StoragePoolRefresh(Pool libvirt.StoragePool, Flags uint32) error
	StorageVolLookupByName(Pool libvirt.StoragePool, Name string) (libvirt.StorageVol, error)
	StorageVolCreateXML(Pool libvirt.StoragePool, XML string, Flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error)
	StorageVolDelete(Vol libvirt.StorageVol, Flags libvirt.StorageVolDeleteFlags) error
	StorageVolGetPath(Vol libvirt.StorageVol) (string, error)
	StorageVolGetXMLDesc(Vol libvirt.StorageVol, Flags uint32) (string, error)
	StorageVolUpload(Vol libvirt.StorageVol, outStream io.Reader, Offset uint64, Length uint64, Flags libvirt.StorageVolUploadFlags) error
}

// RemoteHost answers questions about the hypervisor's filesystem.
type RemoteHost interface {
	GroupID(ctx context.Context) (string, error)
	FileExists(ctx context.Context, path string) (bool, error)
}

// Imager creates images on the hypervisor with qemu-img.
type Imager interface {
	CreateOverlay(ctx context.Context, base, baseFormat, dst string) error
	CreateBlank(ctx context.Context, dst, format string, sizeGB uint64) error
}

// Fetcher makes an image available locally.
type Fetcher interface {
	Ensure(ctx context.Context, src, dst, checksum string) error
}

// Manager coordinates storage operations for pools and volumes.
type Manager struct {
	client  LibvirtClient
	host    RemoteHost
	imager  Imager
	fetcher Fetcher
	log     logrus.FieldLogger

	mu  sync.Mutex
	gid string
}

// NewManager creates a new storage manager.
func NewManager(client LibvirtClient, host RemoteHost, imager Imager, fetcher Fetcher, log logrus.FieldLogger) *Manager {
	return &Manager{
		client:  client,
		host:    host,
		imager:  imager,
		fetcher: fetcher,
		log:     logging.OrDiscard(log),
	}
}
