package image

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"
)

// SHA256File returns the lower-case hex SHA-256 digest of the file at p.
func SHA256File(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, copyBufferSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches compares the file digest against want, ignoring case and an
// optional "sha256:" prefix.
func Matches(p, want string) (bool, error) {
	got, err := SHA256File(p)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(got, NormalizeChecksum(want)), nil
}

// NormalizeChecksum strips surrounding space and a "sha256:" prefix.
func NormalizeChecksum(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 7 && strings.EqualFold(s[:7], "sha256:") {
		s = s[7:]
	}
	return s
}
