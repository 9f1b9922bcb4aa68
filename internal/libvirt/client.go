package libvirt

import (
	"context"
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
)

const defaultTimeout = 10 * time.Second

// Client wraps a go-libvirt connection to a remote libvirtd.
type Client struct {
	libvirt *libvirt.Libvirt
	uri     string
}

// ConnectRemote dials libvirtd on t.Host over SSH and completes the RPC
// handshake. The returned Client must be closed.
func ConnectRemote(ctx context.Context, t Target) (*Client, error) {
	if t.Timeout == 0 {
		t.Timeout = defaultTimeout
	}

	dialer, err := newSSHDialer(t)
	if err != nil {
		return nil, err
	}

	type result struct {
		client *Client
		err    error
	}
	resultCh := make(chan result, 1)

	go func() {
		l := libvirt.NewWithDialer(dialer)
		if err := l.Connect(); err != nil {
			resultCh <- result{err: fmt.Errorf("failed to connect to libvirt on %s: %w", t.Host, err)}
			return
		}
		resultCh <- result{client: &Client{libvirt: l, uri: URI(t.Host, t.KeyFile)}}
	}()

	select {
	case <-ctx.Done():
		// Drop a connection that completes after cancellation.
		go func() {
			if res := <-resultCh; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		return res.client, res.err
	}
}

// Close disconnects from libvirtd. It is safe to call more than once.
func (c *Client) Close() error {
	if c == nil || c.libvirt == nil {
		return nil
	}
	l := c.libvirt
	c.libvirt = nil
	if err := l.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from libvirt: %w", err)
	}
	return nil
}

// URI returns the qemu+ssh URI equivalent to this connection.
func (c *Client) URI() string {
	return c.uri
}

// Libvirt returns the raw go-libvirt client.
func (c *Client) Libvirt() *libvirt.Libvirt {
	return c.libvirt
}

// Hypervisor returns the connection with not-found errors classified.
func (c *Client) Hypervisor() *Hypervisor {
	return &Hypervisor{Libvirt: c.libvirt}
}

// Ping verifies the connection is still alive.
func (c *Client) Ping() error {
	if c.libvirt == nil {
		return fmt.Errorf("client not connected")
	}
	if _, err := c.libvirt.ConnectGetLibVersion(); err != nil {
		return fmt.Errorf("libvirt connection is dead: %w", err)
	}
	return nil
}

// HostInfo is what test-conn reports about the remote daemon.
type HostInfo struct {
	Hostname string `json:"hostname"`
	Version  string `json:"libvirtVersion"`
	URI      string `json:"uri"`
}

// Info queries the remote hostname and libvirt version.
func (c *Client) Info() (*HostInfo, error) {
	if c.libvirt == nil {
		return nil, fmt.Errorf("client not connected")
	}
	version, err := c.libvirt.ConnectGetLibVersion()
	if err != nil {
		return nil, fmt.Errorf("failed to get libvirt version: %w", err)
	}
	hostname, err := c.libvirt.ConnectGetHostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}
	return &HostInfo{
		Hostname: hostname,
		Version:  FormatVersion(version),
		URI:      c.uri,
	}, nil
}

// FormatVersion renders libvirt's packed major*1e6+minor*1e3+patch version.
func FormatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1000000, (v/1000)%1000, v%1000)
}

// URI builds qemu+ssh://host/system, adding keyfile when set.
func URI(host, keyFile string) string {
	uri := fmt.Sprintf("qemu+ssh://%s/system", host)
	if keyFile != "" {
		uri += "?keyfile=" + keyFile
	}
	return uri
}

// Hypervisor is a *libvirt.Libvirt whose lookups return errors that match
// ErrDomainNotFound, ErrPoolNotFound, ErrVolumeNotFound and
// ErrNetworkNotFound.
type Hypervisor struct {
	*libvirt.Libvirt
}

// DomainLookupByName looks up a domain; a missing one matches ErrDomainNotFound.
func (h *Hypervisor) DomainLookupByName(name string) (libvirt.Domain, error) {
	dom, err := h.Libvirt.DomainLookupByName(name)
	return dom, Classify(err)
}

// StoragePoolLookupByName looks up a pool; a missing one matches ErrPoolNotFound.
func (h *Hypervisor) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	pool, err := h.Libvirt.StoragePoolLookupByName(name)
	return pool, Classify(err)
}

// StorageVolLookupByName looks up a volume in pool; a missing one matches ErrVolumeNotFound.
func (h *Hypervisor) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	vol, err := h.Libvirt.StorageVolLookupByName(pool, name)
	return vol, Classify(err)
}

// StorageVolLookupByPath looks up a volume by file path; a missing one matches ErrVolumeNotFound.
func (h *Hypervisor) StorageVolLookupByPath(path string) (libvirt.StorageVol, error) {
	vol, err := h.Libvirt.StorageVolLookupByPath(path)
	return vol, Classify(err)
}

// NetworkLookupByName looks up a network; a missing one matches ErrNetworkNotFound.
func (h *Hypervisor) NetworkLookupByName(name string) (libvirt.Network, error) {
	network, err := h.Libvirt.NetworkLookupByName(name)
	return network, Classify(err)
}
