// Package libvirt connects to a remote libvirtd and interprets the objects
// it returns.
//
// The connection is go-libvirt's RPC protocol carried over an SSH stream to
// the daemon's unix socket, so the hypervisor host needs nothing beyond
// sshd and libvirtd:
//
//	client, err := libvirt.ConnectRemote(ctx, libvirt.Target{Host: "root@hv1"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// Consumer-Side Interfaces:
//
// This package does not define interfaces. Consumers (internal/storage,
// internal/network, internal/install, internal/vm) declare the operations
// they need and receive client.Hypervisor(), which embeds *libvirt.Libvirt
// and classifies lookup failures so that errors.Is(err, ErrDomainNotFound)
// and friends work across package boundaries.
package libvirt
