package libvirt

import (
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
)

var (
	ErrDomainNotFound  = errors.New("domain not found")
	ErrPoolNotFound    = errors.New("storage pool not found")
	ErrVolumeNotFound  = errors.New("storage volume not found")
	ErrNetworkNotFound = errors.New("network not found")
)

// notFoundByCode maps libvirt error numbers onto this package's sentinels.
var notFoundByCode = map[uint32]error{
	uint32(libvirt.ErrNoDomain):      ErrDomainNotFound,
	uint32(libvirt.ErrNoStoragePool): ErrPoolNotFound,
	uint32(libvirt.ErrNoStorageVol):  ErrVolumeNotFound,
	uint32(libvirt.ErrNoNetwork):     ErrNetworkNotFound,
}

// Code extracts the libvirt error number from err.
func Code(err error) (uint32, bool) {
	var lerr libvirt.Error
	if errors.As(err, &lerr) {
		return lerr.Code, true
	}
	var perr *libvirt.Error
	if errors.As(err, &perr) && perr != nil {
		return perr.Code, true
	}
	return 0, false
}

// Classify wraps libvirt "no such object" errors with the matching sentinel
// so callers can use errors.Is. Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	code, ok := Code(err)
	if !ok {
		return err
	}
	if sentinel, found := notFoundByCode[code]; found {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}

// IsNotFound reports whether err means the looked-up object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDomainNotFound) ||
		errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrVolumeNotFound) ||
		errors.Is(err, ErrNetworkNotFound) ||
		isNotFoundCode(err)
}

func isNotFoundCode(err error) bool {
	code, ok := Code(err)
	if !ok {
		return false
	}
	_, found := notFoundByCode[code]
	return found
}
