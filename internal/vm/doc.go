// Package vm sequences the full deploy and destroy of a domain on a remote
// KVM host.
//
// Deploy provisions the storage pool and base volume, derives the domain's
// disk (a linked clone, or a blank disk plus install media), runs
// virt-install and waits for a DHCP lease. Destroy stops the domain,
// undefines it and deletes the volumes its disks referenced.
//
// Error Handling:
//
// The first failing stage aborts the operation and its error is returned.
// Cleanup steps (the remote scratch directory, the libvirt connection and
// volume deletion after undefine) are best-effort: failures are logged and
// never replace the primary result. A failed deploy can leave the pool,
// base volume or derived disk behind; Destroy removes what the domain
// references.
package vm
