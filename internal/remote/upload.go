package remote

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/vmspawner/internal/logging"
)

const (
	// DefaultUploadTimeout bounds the transfer and extraction of one archive.
	DefaultUploadTimeout = 10 * time.Minute

	extractDirScript  = `rm -rf "$0" && mkdir -m "$1" -p "$0" && tar -C "$0" -xzf -`
	extractFileScript = `rm -f "$0" && tar -C "$(dirname "$0")" -xzf -`
)

// safeShallowPrefixes may receive directory uploads two levels deep.
var safeShallowPrefixes = []string{"/tmp/", "/root/", "/etc/"}

// UploadOptions controls the ownership and modes recorded in the archive.
// Local file metadata is never used.
type UploadOptions struct {
	Owner    string
	Group    string
	DirMode  os.FileMode
	FileMode os.FileMode
	Timeout  time.Duration
}

// DefaultUploadOptions returns kvm:kvm, 0700 directories and 0400 files.
func DefaultUploadOptions() UploadOptions {
	return UploadOptions{
		Owner:    "kvm",
		Group:    "kvm",
		DirMode:  0o700,
		FileMode: 0o400,
		Timeout:  DefaultUploadTimeout,
	}
}

// Uploader copies local files and directories to the remote host as a
// gzipped tar stream extracted in place.
type Uploader struct {
	runner Runner
	log    logrus.FieldLogger
}

// NewUploader creates an Uploader that sends archives through runner.
func NewUploader(runner Runner, log logrus.FieldLogger) *Uploader {
	return &Uploader{runner: runner, log: logging.OrDiscard(log)}
}

// PathDepth counts the components of an absolute remote path: "/" is 0,
// "/a/b" is 2.
func PathDepth(p string) int {
	cleaned := path.Clean(p)
	if cleaned == "/" {
		return 0
	}
	return len(strings.Split(strings.TrimPrefix(cleaned, "/"), "/"))
}

// CheckDirectoryDestination rejects remote directories that would be
// dangerous to rm -rf: depth below 3, except depth 2 under /tmp, /root or /etc.
func CheckDirectoryDestination(dest string) error {
	if !path.IsAbs(dest) {
		return fmt.Errorf("%w: %q is not an absolute path", ErrUnsafeDestination, dest)
	}

	cleaned := path.Clean(dest)
	depth := PathDepth(cleaned)
	if depth >= 3 {
		return nil
	}
	if depth >= 2 {
		for _, prefix := range safeShallowPrefixes {
			if strings.HasPrefix(cleaned, prefix) {
				return nil
			}
		}
	}

	return fmt.Errorf("%w: %q has depth %d; directory uploads need depth 3, or depth 2 under /tmp, /root or /etc, because the destination is removed first",
		ErrUnsafeDestination, dest, depth)
}

// Upload copies localSrc to remoteDest. A directory replaces remoteDest
// entirely; a file replaces the single file at remoteDest.
func (u *Uploader) Upload(ctx context.Context, localSrc, remoteDest string, opts UploadOptions) error {
	info, err := os.Stat(localSrc)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	var argv []string
	switch {
	case info.IsDir():
		if err := CheckDirectoryDestination(remoteDest); err != nil {
			return err
		}
		argv = []string{"bash", "-c", extractDirScript, remoteDest, fmt.Sprintf("%o", opts.DirMode.Perm())}
	case info.Mode().IsRegular():
		argv = []string{"bash", "-c", extractFileScript, remoteDest}
	default:
		return fmt.Errorf("%w: unsupported source type for %s", ErrUploadFailed, localSrc)
	}

	archive, err := os.CreateTemp("", "vmspawner-upload-*.tar.gz")
	if err != nil {
		return fmt.Errorf("%w: failed to create archive: %w", ErrUploadFailed, err)
	}
	defer func() {
		_ = archive.Close()
		_ = os.Remove(archive.Name())
	}()

	if info.IsDir() {
		err = writeDirArchive(archive, localSrc, opts)
	} else {
		err = writeFileArchive(archive, localSrc, path.Base(remoteDest), info, opts)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to package %s: %w", ErrUploadFailed, localSrc, err)
	}

	if _, err := archive.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultUploadTimeout
	}

	u.log.WithField("dest", remoteDest).Infof("Uploading %s", localSrc)
	if _, err := u.runner.Run(ctx, argv, WithStdin(archive), WithTimeout(timeout)); err != nil {
		return fmt.Errorf("%w: %s to %s: %w", ErrUploadFailed, localSrc, remoteDest, err)
	}

	return nil
}

func newHeader(name string, mode os.FileMode, opts UploadOptions, modTime time.Time) *tar.Header {
	return &tar.Header{
		Name:    name,
		Mode:    int64(mode.Perm()),
		Uname:   opts.Owner,
		Gname:   opts.Group,
		ModTime: modTime,
	}
}

func writeFileArchive(w io.Writer, src, name string, info fs.FileInfo, opts UploadOptions) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	hdr := newHeader(name, opts.FileMode, opts, info.ModTime())
	hdr.Typeflag = tar.TypeReg
	hdr.Size = info.Size()
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if err := copyFile(tw, src); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func writeDirArchive(w io.Writer, root string, opts UploadOptions) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.IsDir():
			hdr := newHeader(name+"/", opts.DirMode, opts, info.ModTime())
			hdr.Typeflag = tar.TypeDir
			return tw.WriteHeader(hdr)
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			hdr := newHeader(name, opts.FileMode, opts, info.ModTime())
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = target
			return tw.WriteHeader(hdr)
		case info.Mode().IsRegular():
			hdr := newHeader(name, opts.FileMode, opts, info.ModTime())
			hdr.Typeflag = tar.TypeReg
			hdr.Size = info.Size()
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			return copyFile(tw, p)
		default:
			return fmt.Errorf("unsupported file type: %s", p)
		}
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func copyFile(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = io.Copy(w, f)
	return err
}
