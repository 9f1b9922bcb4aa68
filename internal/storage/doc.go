// Package storage provisions libvirt storage on the remote hypervisor.
//
// It covers the storage half of a deploy:
//   - EnsurePool defines, builds, autostarts and activates a directory pool
//     owned by the remote login user's primary group
//   - EnsureBaseVolume fetches a golden image locally and streams it into a
//     pool volume of exactly the file's size
//   - CreateLinkedClone and CreateBlankDisk allocate per-VM disks next to
//     the base volume or in the pool directory with qemu-img
//   - DetectImageFormat identifies qcow2, ISO9660 and bootable raw images
//     from their content
//
// A volume is never returned to callers before the pool has been refreshed
// after its creation, so the hypervisor's view of the pool always includes
// any disk handed to the installer.
//
// Consumer-Side Interface:
//
// LibvirtClient lists only the go-libvirt calls used here. The remote host,
// qemu-img runner and image fetcher are injected the same way so tests can
// substitute in-memory fakes.
package storage
