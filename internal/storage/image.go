package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"
	libvirtxml "libvirt.org/go/libvirtxml"

	virt "github.com/jbweber/vmspawner/internal/libvirt"
)

const (
	uploadChunkSize = 1 << 20
	reportInterval  = 64 << 20
	mebibyte        = 1 << 20
)

// EnsureBaseVolume returns the base volume named spec.Name in pool. An
// existing volume is trusted as is. Otherwise the image is fetched into
// spec.LocalPath, a volume of exactly its size is created and the bytes are
// streamed into it; a failed upload deletes the volume again.
func (m *Manager) EnsureBaseVolume(ctx context.Context, pool *Pool, spec BaseVolumeSpec) (*Volume, error) {
	log := m.log.WithFields(logrus.Fields{"pool": pool.Name, "volume": spec.Name})

	vol, err := m.client.StorageVolLookupByName(pool.Handle, spec.Name)
	if err == nil {
		log.Info("Base volume already exists")
		return m.describeVolume(pool, vol, spec.Format)
	}
	if !virt.IsNotFound(err) {
		log.WithError(err).Warn("Base volume lookup failed, attempting to create it")
	}

	if spec.Source != "" {
		if err := m.fetcher.Ensure(ctx, spec.Source, spec.LocalPath, spec.Checksum); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVolumeProvision, err)
		}
	}

	info, err := os.Stat(spec.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolumeProvision, err)
	}
	size := uint64(info.Size())

	format := spec.Format
	if format == "" {
		if format, err = DetectImageFormat(spec.LocalPath); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrVolumeProvision, err)
		}
		log.WithField("format", format).Info("Detected image format")
	}

	gid, err := m.groupID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVolumeProvision, err)
	}

	volXML, err := generateVolumeXML(spec.Name, format, size, gid)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to generate volume XML: %w", ErrVolumeProvision, err)
	}

	log.WithField("bytes", size).Info("Creating base volume")
	vol, err = m.client.StorageVolCreateXML(pool.Handle, volXML, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create volume %s: %w", ErrVolumeProvision, spec.Name, err)
	}

	if err := m.upload(ctx, vol, spec.LocalPath, size, log); err != nil {
		m.deleteVolume(vol, log)
		return nil, fmt.Errorf("%w: failed to upload %s: %w", ErrVolumeProvision, spec.LocalPath, err)
	}

	if err := m.refresh(pool); err != nil {
		m.deleteVolume(vol, log)
		return nil, fmt.Errorf("%w: %w", ErrVolumeProvision, err)
	}

	result, err := m.describeVolume(pool, vol, format)
	if err != nil {
		return nil, err
	}
	result.Uploaded = int64(size)
	return result, nil
}

func (m *Manager) upload(ctx context.Context, vol libvirt.StorageVol, localPath string, size uint64, log logrus.FieldLogger) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	r := newUploadReader(ctx, f, int64(size), log)
	if err := m.client.StorageVolUpload(vol, r, 0, size, 0); err != nil {
		return err
	}
	r.report()
	return nil
}

func (m *Manager) deleteVolume(vol libvirt.StorageVol, log logrus.FieldLogger) {
	if err := m.client.StorageVolDelete(vol, 0); err != nil {
		log.WithError(err).Warn("Failed to delete partially created volume")
	}
}

// describeVolume resolves the path and format of vol. The format is read
// from the volume XML, falling back to want.
func (m *Manager) describeVolume(pool *Pool, vol libvirt.StorageVol, want VolumeFormat) (*Volume, error) {
	volPath, err := m.client.StorageVolGetPath(vol)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get path of volume %s: %w", ErrVolumeProvision, vol.Name, err)
	}

	format := want
	if xmlDesc, err := m.client.StorageVolGetXMLDesc(vol, 0); err == nil {
		var def libvirtxml.StorageVolume
		if err := def.Unmarshal(xmlDesc); err == nil && def.Target != nil && def.Target.Format != nil && def.Target.Format.Type != "" {
			format = VolumeFormat(def.Target.Format.Type)
		}
	}
	if format == "" {
		format = VolumeFormatRaw
	}

	return &Volume{
		Handle: vol,
		Pool:   pool.Name,
		Name:   vol.Name,
		Path:   volPath,
		Format: format,
	}, nil
}

// uploadReader hands StorageVolUpload at most one chunk per read, stops when
// ctx is cancelled and logs throughput every reportInterval bytes.
type uploadReader struct {
	ctx        context.Context
	r          io.Reader
	total      int64
	sent       int64
	nextReport int64
	start      time.Time
	log        logrus.FieldLogger
}

func newUploadReader(ctx context.Context, r io.Reader, total int64, log logrus.FieldLogger) *uploadReader {
	return &uploadReader{
		ctx:        ctx,
		r:          r,
		total:      total,
		nextReport: reportInterval,
		start:      time.Now(),
		log:        log,
	}
}

func (u *uploadReader) Read(p []byte) (int, error) {
	if err := u.ctx.Err(); err != nil {
		return 0, err
	}
	if len(p) > uploadChunkSize {
		p = p[:uploadChunkSize]
	}
	n, err := u.r.Read(p)
	u.sent += int64(n)
	if u.sent >= u.nextReport {
		u.report()
		u.nextReport += reportInterval
	}
	return n, err
}

func (u *uploadReader) report() {
	elapsed := time.Since(u.start).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(u.sent) / mebibyte / elapsed
	}
	u.log.Infof("Uploaded %d/%d MiB (%.1f MiB/s)", u.sent/mebibyte, u.total/mebibyte, rate)
}
