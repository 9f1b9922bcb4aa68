package storage

import (
	"errors"

	"github.com/digitalocean/go-libvirt"
)

var (
	ErrPoolProvision   = errors.New("storage pool provisioning failed")
	ErrVolumeProvision = errors.New("storage volume provisioning failed")
	ErrUnknownFormat   = errors.New("unknown disk image format")
)

// PoolType represents the type of storage pool backend.
type PoolType string

const (
	PoolTypeDir PoolType = "dir" // Directory-based storage
)

// VolumeFormat represents the disk format.
type VolumeFormat string

const (
	VolumeFormatQCOW2 VolumeFormat = "qcow2"
	VolumeFormatRaw   VolumeFormat = "raw"
	VolumeFormatISO   VolumeFormat = "iso"
)

// Installable reports whether images of this format are install media
// rather than bootable disks.
func (f VolumeFormat) Installable() bool {
	return f == VolumeFormatISO
}

// driverType is the qemu format name; ISO images are read as raw.
func (f VolumeFormat) driverType() string {
	if f == VolumeFormatISO {
		return string(VolumeFormatRaw)
	}
	return string(f)
}

// Permission policy applied to everything this package creates.
const (
	PoolMode    = "0770"
	PoolOwner   = "0"
	PoolLabel   = "virt_image_t"
	VolumeMode  = "0644"
	VolumeOwner = "0"
)

// Pool is an active storage pool.
type Pool struct {
	Handle libvirt.StoragePool
	Name   string
	Path   string
}

// Volume is a storage volume whose creation has been confirmed by a pool
// refresh.
type Volume struct {
	Handle libvirt.StorageVol
	Pool   string
	Name   string
	Path   string
	Format VolumeFormat
	// Uploaded is the number of bytes streamed by the call that returned
	// this volume; zero for volumes that already existed.
	Uploaded int64
}

// BaseVolumeSpec describes the golden image backing new VMs.
type BaseVolumeSpec struct {
	// Name of the volume in the pool.
	Name string
	// LocalPath is where the image is cached on this machine.
	LocalPath string
	// Format is detected from LocalPath's content when empty.
	Format VolumeFormat
	// Source is a URL or local path fetched into LocalPath when missing.
	Source   string
	Checksum string
}
