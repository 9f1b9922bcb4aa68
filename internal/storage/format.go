package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/kdomanski/iso9660"
)

// Magic bytes and signatures for disk image format detection
var (
	// qcow2Magic is the magic bytes at the start of QCOW2 files: "QFI" + 0xfb
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// isoMagic is the standard identifier of an ISO9660 volume descriptor.
	// The first descriptor starts at sector 16 (byte 32768); the identifier
	// follows its one-byte type code.
	isoMagic       = []byte("CD001")
	isoMagicOffset = int64(16*2048 + 1)

	// mbrSignature is the boot sector signature at offset 510 in bootable disks.
	// GPT disks carry it too, in their protective MBR.
	// Reference: https://en.wikipedia.org/wiki/Master_boot_record
	mbrSignature = []byte{0x55, 0xaa}
)

// DetectImageFormat identifies a disk image from its content:
//   - QCOW2: magic bytes "QFI\xfb" at offset 0
//   - ISO: an ISO9660 volume descriptor with a readable root directory
//   - RAW: MBR signature 0x55 0xaa at offset 510
//
// ISO is checked before RAW because hybrid installer images carry both an
// ISO9660 filesystem and an MBR. Anything else fails with ErrUnknownFormat;
// the file extension is never consulted.
func DetectImageFormat(filePath string) (VolumeFormat, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", fmt.Errorf("%w: %s is smaller than 4 bytes", ErrUnknownFormat, filePath)
	}
	if bytes.Equal(magic, qcow2Magic) {
		return VolumeFormatQCOW2, nil
	}

	if isISO9660(f) {
		return VolumeFormatISO, nil
	}

	sig := make([]byte, 2)
	if _, err := f.ReadAt(sig, 510); err != nil {
		return "", fmt.Errorf("%w: %s is smaller than a boot sector", ErrUnknownFormat, filePath)
	}
	if bytes.Equal(sig, mbrSignature) {
		return VolumeFormatRaw, nil
	}

	return "", fmt.Errorf("%w: %s is not qcow2, ISO9660 or a bootable raw disk", ErrUnknownFormat, filePath)
}

// isISO9660 checks the descriptor identifier and then confirms the image
// parses as ISO9660.
func isISO9660(f *os.File) bool {
	id := make([]byte, len(isoMagic))
	if _, err := f.ReadAt(id, isoMagicOffset); err != nil || !bytes.Equal(id, isoMagic) {
		return false
	}

	img, err := iso9660.OpenImage(f)
	if err != nil {
		return false
	}
	_, err = img.RootDir()
	return err == nil
}
