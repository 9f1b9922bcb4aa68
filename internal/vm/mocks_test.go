package vm

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/digitalocean/go-libvirt"

	"github.com/jbweber/vmspawner/internal/install"
	virt "github.com/jbweber/vmspawner/internal/libvirt"
	"github.com/jbweber/vmspawner/internal/storage"
)

// mockLibvirtClient is a mock implementation of the libvirtClient interface for testing.
type mockLibvirtClient struct {
	mu sync.Mutex

	// Configurable behavior
	domainLookupByNameFunc      func(name string) (libvirt.Domain, error)
	domainIsActiveFunc          func(dom libvirt.Domain) (int32, error)
	domainDestroyFunc           func(dom libvirt.Domain) error
	domainGetXMLDescFunc        func(dom libvirt.Domain) (string, error)
	domainUndefineFlagsFunc     func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	storagePoolLookupByNameFunc func(name string) (libvirt.StoragePool, error)
	storageVolLookupByNameFunc  func(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error)
	storageVolLookupByPathFunc  func(path string) (libvirt.StorageVol, error)
	storageVolDeleteFunc        func(vol libvirt.StorageVol) error

	// Call tracking
	domainLookupByNameCalls  []string
	domainDestroyCalls       []libvirt.Domain
	domainGetXMLDescCalls    []libvirt.Domain
	domainUndefineFlagsCalls []libvirt.DomainUndefineFlagsValues
	storageVolLookupCalls    []string // "pool/name" or path
	storageVolDeleteCalls    []string // "pool/name"
}

// newMockLibvirtClient creates a mock where domain "test-vm" exists, is
// running and has no disks.
func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{
		domainLookupByNameFunc: func(name string) (libvirt.Domain, error) {
			if name == "test-vm" {
				return libvirt.Domain{Name: name}, nil
			}
			return libvirt.Domain{}, fmt.Errorf("%w: %s", virt.ErrDomainNotFound, name)
		},
		domainIsActiveFunc: func(libvirt.Domain) (int32, error) {
			return 1, nil
		},
		domainDestroyFunc: func(libvirt.Domain) error {
			return nil
		},
		domainGetXMLDescFunc: func(dom libvirt.Domain) (string, error) {
			return fmt.Sprintf("<domain type='kvm'><name>%s</name></domain>", dom.Name), nil
		},
		domainUndefineFlagsFunc: func(libvirt.Domain, libvirt.DomainUndefineFlagsValues) error {
			return nil
		},
		storagePoolLookupByNameFunc: func(name string) (libvirt.StoragePool, error) {
			return libvirt.StoragePool{Name: name}, nil
		},
		storageVolLookupByNameFunc: func(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
			return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
		},
		storageVolLookupByPathFunc: func(p string) (libvirt.StorageVol, error) {
			return libvirt.StorageVol{Pool: "by-path", Name: path.Base(p)}, nil
		},
		storageVolDeleteFunc: func(libvirt.StorageVol) error {
			return nil
		},
	}
}

func (m *mockLibvirtClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainLookupByNameCalls = append(m.domainLookupByNameCalls, name)
	return m.domainLookupByNameFunc(name)
}

func (m *mockLibvirtClient) DomainIsActive(dom libvirt.Domain) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.domainIsActiveFunc(dom)
}

func (m *mockLibvirtClient) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDestroyCalls = append(m.domainDestroyCalls, dom)
	return m.domainDestroyFunc(dom)
}

func (m *mockLibvirtClient) DomainGetXMLDesc(dom libvirt.Domain, _ libvirt.DomainXMLFlags) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainGetXMLDescCalls = append(m.domainGetXMLDescCalls, dom)
	return m.domainGetXMLDescFunc(dom)
}

func (m *mockLibvirtClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineFlagsCalls = append(m.domainUndefineFlagsCalls, flags)
	return m.domainUndefineFlagsFunc(dom, flags)
}

func (m *mockLibvirtClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storagePoolLookupByNameFunc(name)
}

func (m *mockLibvirtClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageVolLookupCalls = append(m.storageVolLookupCalls, pool.Name+"/"+name)
	return m.storageVolLookupByNameFunc(pool, name)
}

func (m *mockLibvirtClient) StorageVolLookupByPath(p string) (libvirt.StorageVol, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageVolLookupCalls = append(m.storageVolLookupCalls, p)
	return m.storageVolLookupByPathFunc(p)
}

func (m *mockLibvirtClient) StorageVolDelete(vol libvirt.StorageVol, _ libvirt.StorageVolDeleteFlags) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storageVolDeleteCalls = append(m.storageVolDeleteCalls, vol.Pool+"/"+vol.Name)
	return m.storageVolDeleteFunc(vol)
}

// mockStorageManager is a mock implementation of the storageManager interface for testing.
type mockStorageManager struct {
	mu sync.Mutex

	// Configurable behavior
	ensurePoolFunc        func(name string, poolType storage.PoolType, p string) (*storage.Pool, error)
	ensureBaseVolumeFunc  func(pool *storage.Pool, spec storage.BaseVolumeSpec) (*storage.Volume, error)
	createLinkedCloneFunc func(pool *storage.Pool, base *storage.Volume, name string) (*storage.Volume, error)
	createBlankDiskFunc   func(pool *storage.Pool, name string, sizeGB uint64) (*storage.Volume, error)

	// Call tracking
	ensurePoolCalls        []string
	ensureBaseVolumeCalls  []storage.BaseVolumeSpec
	createLinkedCloneCalls []string
	createBlankDiskCalls   []string
	blankSizes             []uint64
}

func newMockStorageManager() *mockStorageManager {
	return &mockStorageManager{
		ensurePoolFunc: func(name string, _ storage.PoolType, p string) (*storage.Pool, error) {
			return &storage.Pool{Name: name, Path: p}, nil
		},
		ensureBaseVolumeFunc: func(pool *storage.Pool, spec storage.BaseVolumeSpec) (*storage.Volume, error) {
			format := spec.Format
			if format == "" {
				format = storage.VolumeFormatQCOW2
			}
			return &storage.Volume{
				Pool:     pool.Name,
				Name:     spec.Name,
				Path:     path.Join(pool.Path, spec.Name),
				Format:   format,
				Uploaded: 4096,
			}, nil
		},
		createLinkedCloneFunc: func(pool *storage.Pool, base *storage.Volume, name string) (*storage.Volume, error) {
			return &storage.Volume{Pool: pool.Name, Name: name, Path: path.Join(path.Dir(base.Path), name), Format: storage.VolumeFormatQCOW2}, nil
		},
		createBlankDiskFunc: func(pool *storage.Pool, name string, _ uint64) (*storage.Volume, error) {
			return &storage.Volume{Pool: pool.Name, Name: name, Path: path.Join(pool.Path, name), Format: storage.VolumeFormatQCOW2}, nil
		},
	}
}

func (m *mockStorageManager) EnsurePool(_ context.Context, name string, poolType storage.PoolType, p string) (*storage.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensurePoolCalls = append(m.ensurePoolCalls, name)
	return m.ensurePoolFunc(name, poolType, p)
}

func (m *mockStorageManager) EnsureBaseVolume(_ context.Context, pool *storage.Pool, spec storage.BaseVolumeSpec) (*storage.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureBaseVolumeCalls = append(m.ensureBaseVolumeCalls, spec)
	return m.ensureBaseVolumeFunc(pool, spec)
}

func (m *mockStorageManager) CreateLinkedClone(_ context.Context, pool *storage.Pool, base *storage.Volume, name string) (*storage.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createLinkedCloneCalls = append(m.createLinkedCloneCalls, name)
	return m.createLinkedCloneFunc(pool, base, name)
}

func (m *mockStorageManager) CreateBlankDisk(_ context.Context, pool *storage.Pool, name string, sizeGB uint64) (*storage.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createBlankDiskCalls = append(m.createBlankDiskCalls, name)
	m.blankSizes = append(m.blankSizes, sizeGB)
	return m.createBlankDiskFunc(pool, name, sizeGB)
}

// mockInstaller records install requests.
type mockInstaller struct {
	installFunc func(req install.Request) (bool, error)
	requests    []install.Request
}

func newMockInstaller() *mockInstaller {
	return &mockInstaller{
		installFunc: func(install.Request) (bool, error) { return true, nil },
	}
}

func (m *mockInstaller) Install(_ context.Context, req install.Request) (bool, error) {
	m.requests = append(m.requests, req)
	return m.installFunc(req)
}

type resolveCall struct {
	domain  string
	network string
	retries int
	delay   time.Duration
}

// mockResolver answers every lookup with ip or err.
type mockResolver struct {
	ip    string
	err   error
	calls []resolveCall
}

func (m *mockResolver) ResolveIP(_ context.Context, domain, network string, retries int, delay time.Duration) (string, error) {
	m.calls = append(m.calls, resolveCall{domain, network, retries, delay})
	return m.ip, m.err
}

// mockHost hands out one scratch directory and records removals together
// with whether their context was still usable.
type mockHost struct {
	dir        string
	makeErr    error
	removed    []string
	removedCtx []error
}

func (m *mockHost) MakeTempDir(context.Context) (string, error) {
	if m.makeErr != nil {
		return "", m.makeErr
	}
	return m.dir, nil
}

func (m *mockHost) RemoveAll(ctx context.Context, p string) error {
	m.removed = append(m.removed, p)
	m.removedCtx = append(m.removedCtx, ctx.Err())
	return nil
}
