package vm

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"

	virt "github.com/jbweber/vmspawner/internal/libvirt"
)

// undefineFlags clear managed-save state, snapshot metadata and the NVRAM
// file together with the definition.
const undefineFlags = libvirt.DomainUndefineManagedSave |
	libvirt.DomainUndefineSnapshotsMetadata |
	libvirt.DomainUndefineNvram

// DestroyResult reports what Destroy removed.
type DestroyResult struct {
	Name string
	// Existed is false when there was no domain to destroy.
	Existed bool
	// DeletedVolumes and FailedVolumes list disk references as pool/volume
	// or path.
	DeletedVolumes []string
	FailedVolumes  []string
}

// Destroy removes the domain name from host together with the volumes its
// disks reference. A domain that does not exist is not an error.
//
// This orchestrates the destruction:
//  1. Look up the domain
//  2. Force-stop it if running, then wait for libvirt to settle
//  3. Collect disk references from the domain XML
//  4. Undefine the domain (managed save, snapshot metadata and NVRAM too)
//  5. Delete each referenced volume
//
// Volume cleanup is best-effort: failures are logged and reported in the
// result but do not fail the operation.
func (o *Orchestrator) Destroy(ctx context.Context, host, sshKey, name string) (result *DestroyResult, err error) {
	defer func() { o.metrics.ObserveOperation("destroy", err) }()

	log := o.log.WithFields(logrus.Fields{"host": host, "domain": name})

	log.Info("Connecting to libvirt")
	client, err := o.connect(ctx, virt.Target{Host: host, KeyFile: sshKey})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt: %w", err)
	}
	defer closeClient(client, log)

	return o.destroyWithDeps(ctx, name, client.Hypervisor())
}

// destroyWithDeps destroys a domain with injected dependencies.
// This allows for testing by accepting interfaces instead of concrete types.
func (o *Orchestrator) destroyWithDeps(ctx context.Context, name string, lv libvirtClient) (*DestroyResult, error) {
	log := o.log.WithField("domain", name)
	result := &DestroyResult{Name: name}

	// Step 1: Check if the domain exists
	dom, err := lv.DomainLookupByName(name)
	if err != nil {
		if virt.IsNotFound(err) {
			log.Info("Domain does not exist, nothing to destroy")
			return result, nil
		}
		return nil, fmt.Errorf("failed to look up domain %s: %w", name, err)
	}
	result.Existed = true

	// Step 2: Force-stop if running
	active, err := lv.DomainIsActive(dom)
	if err != nil {
		return nil, fmt.Errorf("failed to get state of domain %s: %w", name, err)
	}
	if active == 1 {
		log.Info("Stopping domain")
		done := o.metrics.StartStage("stop")
		err := lv.DomainDestroy(dom)
		done()
		if err != nil {
			return nil, fmt.Errorf("failed to stop domain %s: %w", name, err)
		}
		if err := sleep(ctx, o.settle); err != nil {
			return nil, fmt.Errorf("interrupted while waiting for domain %s to stop: %w", name, err)
		}
	}

	// Step 3: Collect disks while the definition still exists
	refs := o.diskRefs(lv, dom, log)

	// Step 4: Undefine
	log.Info("Undefining domain")
	if err := lv.DomainUndefineFlags(dom, undefineFlags); err != nil {
		return nil, fmt.Errorf("failed to undefine domain %s: %w", name, err)
	}

	// Step 5: Delete volumes
	done := o.metrics.StartStage("delete_volumes")
	for _, ref := range refs {
		if err := deleteVolume(lv, ref); err != nil {
			log.WithError(err).WithField("volume", ref.String()).Warn("Failed to delete volume")
			result.FailedVolumes = append(result.FailedVolumes, ref.String())
			continue
		}
		log.WithField("volume", ref.String()).Info("Deleted volume")
		result.DeletedVolumes = append(result.DeletedVolumes, ref.String())
	}
	done()

	log.Infof("Domain destroyed (%d volumes deleted, %d failed)", len(result.DeletedVolumes), len(result.FailedVolumes))
	return result, nil
}

// diskRefs reads the domain's disk references. An unreadable definition
// yields none; the domain is still undefined.
func (o *Orchestrator) diskRefs(lv libvirtClient, dom libvirt.Domain, log logrus.FieldLogger) []virt.DiskRef {
	xml, err := lv.DomainGetXMLDesc(dom, 0)
	if err != nil {
		log.WithError(err).Warn("Failed to read domain XML, volumes will not be deleted")
		return nil
	}
	desc, err := virt.ParseDomain(xml)
	if err != nil {
		log.WithError(err).Warn("Failed to parse domain XML, volumes will not be deleted")
		return nil
	}
	return virt.DiskRefs(desc)
}

// deleteVolume deletes the volume behind ref, looked up by pool and name
// when known and by path otherwise. A volume that is already gone counts
// as deleted.
func deleteVolume(lv libvirtClient, ref virt.DiskRef) error {
	var (
		vol libvirt.StorageVol
		err error
	)
	if ref.Pool != "" && ref.Volume != "" {
		var pool libvirt.StoragePool
		pool, err = lv.StoragePoolLookupByName(ref.Pool)
		if err == nil {
			vol, err = lv.StorageVolLookupByName(pool, ref.Volume)
		}
	} else {
		vol, err = lv.StorageVolLookupByPath(ref.Path)
	}
	if err != nil {
		if errors.Is(err, virt.ErrVolumeNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up volume %s: %w", ref, err)
	}

	if err := lv.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("failed to delete volume %s: %w", ref, err)
	}
	return nil
}
