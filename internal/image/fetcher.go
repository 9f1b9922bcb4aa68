// Package image makes a base disk image available as a local file, either
// by copying it from the local filesystem or by downloading it over HTTP(S),
// and verifies its SHA-256 digest.
package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/vmspawner/internal/logging"
)

const (
	// UserAgent is sent with every download request.
	UserAgent = "vm-spawner/1.0"

	// DefaultHTTPTimeout bounds a whole download.
	DefaultHTTPTimeout = 300 * time.Second

	copyBufferSize = 1 << 20
)

var (
	ErrSourceNotFound   = errors.New("image source not found")
	ErrChecksumMismatch = errors.New("image checksum mismatch")
	ErrTransfer         = errors.New("image transfer failed")
)

// Fetcher implements Ensure for local paths and http(s) URLs.
type Fetcher struct {
	client *http.Client
	log    logrus.FieldLogger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// NewFetcher creates a Fetcher logging to log.
func NewFetcher(log logrus.FieldLogger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: DefaultHTTPTimeout},
		log:    logging.OrDiscard(log),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsRemote reports whether src is an http or https URL.
func IsRemote(src string) bool {
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Ensure makes dst a verified copy of src. An existing dst is kept when it
// matches checksum (or when no checksum is given); a mismatching dst is
// removed and fetched again once. A freshly fetched file that fails
// verification is removed before returning ErrChecksumMismatch.
func (f *Fetcher) Ensure(ctx context.Context, src, dst, checksum string) error {
	log := f.log.WithField("image", dst)

	if _, err := os.Stat(dst); err == nil {
		if checksum == "" {
			log.Debug("Using existing image without checksum")
			return nil
		}
		ok, err := Matches(dst, checksum)
		if err != nil {
			return fmt.Errorf("%w: failed to hash %s: %w", ErrTransfer, dst, err)
		}
		if ok {
			log.Info("Existing image matches checksum")
			return nil
		}
		log.Warn("Existing image does not match checksum, fetching again")
		if err := os.Remove(dst); err != nil {
			return fmt.Errorf("%w: failed to remove stale %s: %w", ErrTransfer, dst, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}

	var err error
	if IsRemote(src) {
		err = f.download(ctx, src, dst)
	} else {
		err = copyLocal(src, dst)
	}
	if err != nil {
		return err
	}

	if checksum == "" {
		return nil
	}
	ok, err := Matches(dst, checksum)
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("%w: failed to hash %s: %w", ErrTransfer, dst, err)
	}
	if !ok {
		_ = os.Remove(dst)
		return fmt.Errorf("%w: %s does not match %s", ErrChecksumMismatch, src, checksum)
	}
	log.Info("Image checksum verified")
	return nil
}

// copyLocal copies src to dst keeping the permission bits and mtime.
func copyLocal(src, dst string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, src)
		}
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrSourceNotFound, src)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err = io.CopyBuffer(out, in, make([]byte, copyBufferSize)); err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: copying %s: %w", ErrTransfer, src, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	if err = os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	if err = os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, src, dst string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrTransfer, src, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: GET %s: %s", ErrSourceNotFound, src, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: GET %s: %s", ErrTransfer, src, resp.Status)
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	log := f.log.WithField("url", src)
	log.Infof("Downloading to %s", dst)

	progress := newProgressWriter(resp.ContentLength, log)
	written, err := io.CopyBuffer(io.MultiWriter(out, progress), resp.Body, make([]byte, copyBufferSize))
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("%w: GET %s: %w", ErrTransfer, src, err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		err = fmt.Errorf("%w: GET %s: short body, got %d of %d bytes", ErrTransfer, src, written, resp.ContentLength)
		return err
	}

	log.WithField("bytes", written).Info("Download complete")
	return nil
}

// progressWriter logs each additional 10% of a download with a known length.
type progressWriter struct {
	total   int64
	written int64
	nextPct int64
	log     logrus.FieldLogger
}

func newProgressWriter(total int64, log logrus.FieldLogger) *progressWriter {
	return &progressWriter{total: total, nextPct: 10, log: log}
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total <= 0 {
		return len(b), nil
	}
	pct := p.written * 100 / p.total
	if pct >= p.nextPct {
		p.log.Infof("Download progress: %d%% (%d/%d bytes)", pct, p.written, p.total)
		p.nextPct = (pct/10 + 1) * 10
	}
	return len(b), nil
}
