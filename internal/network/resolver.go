// Package network finds the DHCP address of a domain on a libvirt network.
package network

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	virt "github.com/jbweber/vmspawner/internal/libvirt"
	"github.com/jbweber/vmspawner/internal/logging"
)

const (
	// DefaultRetries and DefaultDelay bound the lease poll to about a minute.
	DefaultRetries = 60
	DefaultDelay   = time.Second
)

var (
	// ErrNotFound means the domain or network is missing or inactive.
	ErrNotFound = errors.New("domain or network not available")

	// ErrDomainUnreachable means no matching lease appeared within the poll budget,
	// or the network cannot hand out leases at all.
	ErrDomainUnreachable = errors.New("domain unreachable")
)

// leaseQueryFatal are lease query failures that will not go away by waiting.
var leaseQueryFatal = []string{
	"network is not active",
	"DHCP server is not running",
}

type libvirtClient interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainIsActive(dom libvirt.Domain) (int32, error)
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
	NetworkLookupByName(name string) (libvirt.Network, error)
	NetworkIsActive(net libvirt.Network) (int32, error)
	NetworkGetDhcpLeases(net libvirt.Network, mac libvirt.OptString, needResults int32, flags uint32) ([]libvirt.NetworkDhcpLease, uint32, error)
}

// Resolver polls a network's DHCP lease table for a domain's address.
type Resolver struct {
	client libvirtClient
	log    logrus.FieldLogger
}

// NewResolver creates a Resolver.
func NewResolver(client libvirtClient, log logrus.FieldLogger) *Resolver {
	return &Resolver{client: client, log: logging.OrDiscard(log)}
}

// ResolveIP returns the first IPv4 lease on network held by one of domain's
// interfaces on that network. Missing or inactive objects fail immediately
// with ErrNotFound; otherwise the lease table is queried up to retries times,
// delay apart.
func (r *Resolver) ResolveIP(ctx context.Context, domain, network string, retries int, delay time.Duration) (string, error) {
	log := r.log.WithFields(logrus.Fields{"domain": domain, "network": network})

	dom, net, err := r.lookup(domain, network)
	if err != nil {
		return "", err
	}

	xml, err := r.client.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return "", fmt.Errorf("failed to get domain XML for %s: %w", domain, err)
	}
	desc, err := virt.ParseDomain(xml)
	if err != nil {
		return "", err
	}
	macs := virt.InterfaceMACs(desc, network)
	if len(macs) == 0 {
		return "", fmt.Errorf("%w: %s has no interface on network %s", ErrNotFound, domain, network)
	}

	if retries < 1 {
		retries = 1
	}

	for attempt := 1; attempt <= retries; attempt++ {
		leases, _, err := r.client.NetworkGetDhcpLeases(net, nil, 1, 0)
		if err != nil {
			if isFatalLeaseError(err) {
				return "", fmt.Errorf("%w: %s: %w", ErrDomainUnreachable, network, err)
			}
			log.WithError(err).Debugf("Lease query failed (attempt %d/%d)", attempt, retries)
		} else if ip := matchLease(leases, macs); ip != "" {
			log.WithField("ip", ip).Infof("Found DHCP lease after %d attempt(s)", attempt)
			return ip, nil
		}

		if attempt == retries {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("waiting for lease: %w", err)
		}
	}

	return "", fmt.Errorf("%w: no IPv4 lease for %s on %s after %d attempts", ErrDomainUnreachable, domain, network, retries)
}

func (r *Resolver) lookup(domain, network string) (libvirt.Domain, libvirt.Network, error) {
	dom, err := r.client.DomainLookupByName(domain)
	if err != nil {
		return libvirt.Domain{}, libvirt.Network{}, fmt.Errorf("%w: domain %s: %w", ErrNotFound, domain, err)
	}
	if active, err := r.client.DomainIsActive(dom); err != nil || active == 0 {
		return libvirt.Domain{}, libvirt.Network{}, fmt.Errorf("%w: domain %s is not running", ErrNotFound, domain)
	}

	net, err := r.client.NetworkLookupByName(network)
	if err != nil {
		return libvirt.Domain{}, libvirt.Network{}, fmt.Errorf("%w: network %s: %w", ErrNotFound, network, err)
	}
	if active, err := r.client.NetworkIsActive(net); err != nil || active == 0 {
		return libvirt.Domain{}, libvirt.Network{}, fmt.Errorf("%w: network %s is not active", ErrNotFound, network)
	}

	return dom, net, nil
}

// matchLease returns the address of the first IPv4 lease whose MAC is in macs.
// macs must be lower-case.
func matchLease(leases []libvirt.NetworkDhcpLease, macs []string) string {
	for _, lease := range leases {
		if lease.Type != int32(libvirt.IPAddrTypeIpv4) || len(lease.Mac) == 0 {
			continue
		}
		mac := strings.ToLower(lease.Mac[0])
		for _, want := range macs {
			if mac == want {
				return lease.Ipaddr
			}
		}
	}
	return ""
}

func isFatalLeaseError(err error) bool {
	msg := err.Error()
	for _, s := range leaseQueryFatal {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
