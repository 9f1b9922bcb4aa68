package libvirt

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/digitalocean/go-libvirt"
	"golang.org/x/crypto/ssh"
)

// TestConnectRemote is an integration test against a real hypervisor. Set
// VMSPAWNER_TEST_HOST to user@host to run it.
func TestConnectRemote(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	host := os.Getenv("VMSPAWNER_TEST_HOST")
	if host == "" {
		t.Skip("VMSPAWNER_TEST_HOST not set")
	}

	c, err := ConnectRemote(context.Background(), Target{Host: host, KeyFile: os.Getenv("VMSPAWNER_TEST_KEY")})
	if err != nil {
		t.Skipf("libvirt not available: %v", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	}()

	if err := c.Ping(); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if _, err := c.Info(); err != nil {
		t.Fatalf("Info failed: %v", err)
	}
}

func TestConnectRemote_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// 192.0.2.0/24 is reserved for documentation and never answers.
	_, err := ConnectRemote(ctx, Target{Host: "root@192.0.2.1", KeyFile: writeTestKey(t), Timeout: time.Second})
	if err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on unconnected client error = %v", err)
	}
	if err := c.Ping(); err == nil {
		t.Error("Ping() on unconnected client expected error")
	}
}

func TestParseHost(t *testing.T) {
	tests := []struct {
		in       string
		wantUser string
		wantHost string
		wantPort string
		wantErr  bool
	}{
		{in: "root@hv1", wantUser: "root", wantHost: "hv1", wantPort: "22"},
		{in: "admin@10.0.0.4:2222", wantUser: "admin", wantHost: "10.0.0.4", wantPort: "2222"},
		{in: "ops@[fd00::1]:22", wantUser: "ops", wantHost: "fd00::1", wantPort: "22"},
		{in: "", wantErr: true},
		{in: "root@", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			u, h, p, err := ParseHost(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHost() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if u != tt.wantUser || h != tt.wantHost || p != tt.wantPort {
				t.Errorf("ParseHost() = %q %q %q, want %q %q %q", u, h, p, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

func TestParseHost_DefaultsUser(t *testing.T) {
	u, h, _, err := ParseHost("hv1")
	if err != nil {
		t.Fatalf("ParseHost() error = %v", err)
	}
	if u == "" || h != "hv1" {
		t.Errorf("ParseHost() = %q %q", u, h)
	}
}

func TestURI(t *testing.T) {
	if got := URI("root@hv1", ""); got != "qemu+ssh://root@hv1/system" {
		t.Errorf("URI() = %q", got)
	}
	if got := URI("root@hv1", "/k"); got != "qemu+ssh://root@hv1/system?keyfile=/k" {
		t.Errorf("URI() = %q", got)
	}
}

func TestFormatVersion(t *testing.T) {
	if got := FormatVersion(10000000); got != "10.0.0" {
		t.Errorf("FormatVersion() = %q", got)
	}
	if got := FormatVersion(9007002); got != "9.7.2" {
		t.Errorf("FormatVersion() = %q", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "domain", err: libvirt.Error{Code: uint32(libvirt.ErrNoDomain), Message: "no domain"}, want: ErrDomainNotFound},
		{name: "pool", err: libvirt.Error{Code: uint32(libvirt.ErrNoStoragePool)}, want: ErrPoolNotFound},
		{name: "volume", err: libvirt.Error{Code: uint32(libvirt.ErrNoStorageVol)}, want: ErrVolumeNotFound},
		{name: "network", err: libvirt.Error{Code: uint32(libvirt.ErrNoNetwork)}, want: ErrNetworkNotFound},
		{name: "wrapped", err: fmt.Errorf("lookup: %w", libvirt.Error{Code: uint32(libvirt.ErrNoDomain)}), want: ErrDomainNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("Classify() = %v, want errors.Is %v", got, tt.want)
			}
			if !IsNotFound(got) || !IsNotFound(tt.err) {
				t.Error("IsNotFound() = false, want true")
			}
		})
	}

	other := errors.New("connection reset")
	if Classify(other) != other {
		t.Error("Classify() changed an unrelated error")
	}
	if IsNotFound(other) {
		t.Error("IsNotFound() = true for unrelated error")
	}
	if Classify(nil) != nil {
		t.Error("Classify(nil) != nil")
	}
}

func TestAuthMethods_KeyFile(t *testing.T) {
	methods, err := authMethods(writeTestKey(t))
	if err != nil {
		t.Fatalf("authMethods() error = %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("authMethods() returned %d methods, want 1", len(methods))
	}

	if _, err := authMethods(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("authMethods() expected error for missing key")
	}
}

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "test")
	if err != nil {
		t.Fatalf("MarshalPrivateKey() error = %v", err)
	}
	p := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(p, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return p
}
