package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/digitalocean/go-libvirt"
)

func notFound(code libvirt.ErrorNumber, what string) error {
	return libvirt.Error{Code: uint32(code), Message: what + " not found"}
}

// mockLibvirtClient is a map-backed LibvirtClient.
type mockLibvirtClient struct {
	pools   map[string]*mockPool
	volumes map[string]map[string]*mockVolume // pool name -> volume name -> volume

	buildErr     error
	autostartErr error
	createErr    error
	uploadErr    error
	refreshErr   error

	// host, when set, makes StoragePoolRefresh list files present on it
	// unless staleRefresh is set.
	host         *mockHost
	staleRefresh bool

	undefined []string
	deleted   []string
	refreshes int
	creates   int
}

type mockPool struct {
	name    string
	active  bool
	xmlDesc string
}

type mockVolume struct {
	name    string
	path    string
	xmlDesc string
	data    []byte
}

func newMockLibvirtClient() *mockLibvirtClient {
	return &mockLibvirtClient{
		pools:   make(map[string]*mockPool),
		volumes: make(map[string]map[string]*mockVolume),
	}
}

// addPool registers a pool at path without going through DefineXML.
func (m *mockLibvirtClient) addPool(name, path string, active bool) {
	m.pools[name] = &mockPool{
		name:    name,
		active:  active,
		xmlDesc: fmt.Sprintf(`<pool type="dir"><name>%s</name><target><path>%s</path></target></pool>`, name, path),
	}
	m.volumes[name] = make(map[string]*mockVolume)
}

func (m *mockLibvirtClient) StoragePoolLookupByName(name string) (libvirt.StoragePool, error) {
	pool, ok := m.pools[name]
	if !ok {
		return libvirt.StoragePool{}, notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	return libvirt.StoragePool{Name: pool.name}, nil
}

func (m *mockLibvirtClient) StoragePoolDefineXML(xml string, flags uint32) (libvirt.StoragePool, error) {
	name := extractTagValue(xml, "name")
	if name == "" {
		return libvirt.StoragePool{}, fmt.Errorf("invalid pool XML: missing name")
	}
	if _, ok := m.pools[name]; ok {
		return libvirt.StoragePool{}, fmt.Errorf("storage pool already exists: %s", name)
	}

	m.pools[name] = &mockPool{name: name, xmlDesc: xml}
	m.volumes[name] = make(map[string]*mockVolume)
	return libvirt.StoragePool{Name: name}, nil
}

func (m *mockLibvirtClient) StoragePoolCreate(pool libvirt.StoragePool, flags libvirt.StoragePoolCreateFlags) error {
	m.creates++
	if m.createErr != nil {
		return m.createErr
	}
	p, ok := m.pools[pool.Name]
	if !ok {
		return notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	p.active = true
	return nil
}

func (m *mockLibvirtClient) StoragePoolBuild(pool libvirt.StoragePool, flags libvirt.StoragePoolBuildFlags) error {
	return m.buildErr
}

func (m *mockLibvirtClient) StoragePoolSetAutostart(pool libvirt.StoragePool, autostart int32) error {
	return m.autostartErr
}

func (m *mockLibvirtClient) StoragePoolUndefine(pool libvirt.StoragePool) error {
	if _, ok := m.pools[pool.Name]; !ok {
		return notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	m.undefined = append(m.undefined, pool.Name)
	delete(m.pools, pool.Name)
	delete(m.volumes, pool.Name)
	return nil
}

func (m *mockLibvirtClient) StoragePoolIsActive(pool libvirt.StoragePool) (int32, error) {
	p, ok := m.pools[pool.Name]
	if !ok {
		return 0, notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	if p.active {
		return 1, nil
	}
	return 0, nil
}

func (m *mockLibvirtClient) StoragePoolGetXMLDesc(pool libvirt.StoragePool, flags libvirt.StorageXMLFlags) (string, error) {
	p, ok := m.pools[pool.Name]
	if !ok {
		return "", notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	return p.xmlDesc, nil
}

func (m *mockLibvirtClient) StoragePoolRefresh(pool libvirt.StoragePool, flags uint32) error {
	m.refreshes++
	if m.refreshErr != nil {
		return m.refreshErr
	}
	if m.host == nil || m.staleRefresh {
		return nil
	}
	p, ok := m.pools[pool.Name]
	if !ok {
		return notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	dir := extractTagValue(p.xmlDesc, "path")
	for file, present := range m.host.files {
		if !present || path.Dir(file) != dir {
			continue
		}
		name := path.Base(file)
		if _, ok := m.volumes[pool.Name][name]; !ok {
			m.volumes[pool.Name][name] = &mockVolume{name: name, path: file}
		}
	}
	return nil
}

func (m *mockLibvirtClient) StorageVolLookupByName(pool libvirt.StoragePool, name string) (libvirt.StorageVol, error) {
	vols, ok := m.volumes[pool.Name]
	if !ok {
		return libvirt.StorageVol{}, notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	vol, ok := vols[name]
	if !ok {
		return libvirt.StorageVol{}, notFound(libvirt.ErrNoStorageVol, "storage volume")
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: vol.name}, nil
}

func (m *mockLibvirtClient) StorageVolCreateXML(pool libvirt.StoragePool, xml string, flags libvirt.StorageVolCreateFlags) (libvirt.StorageVol, error) {
	vols, ok := m.volumes[pool.Name]
	if !ok {
		return libvirt.StorageVol{}, notFound(libvirt.ErrNoStoragePool, "storage pool")
	}

	name := extractTagValue(xml, "name")
	if name == "" {
		return libvirt.StorageVol{}, fmt.Errorf("invalid volume XML: missing name")
	}
	if _, ok := vols[name]; ok {
		return libvirt.StorageVol{}, fmt.Errorf("storage volume already exists: %s", name)
	}

	vols[name] = &mockVolume{
		name:    name,
		path:    "/var/lib/libvirt/images/" + pool.Name + "/" + name,
		xmlDesc: xml,
	}
	return libvirt.StorageVol{Pool: pool.Name, Name: name}, nil
}

func (m *mockLibvirtClient) StorageVolDelete(vol libvirt.StorageVol, flags libvirt.StorageVolDeleteFlags) error {
	vols, ok := m.volumes[vol.Pool]
	if !ok {
		return notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	if _, ok := vols[vol.Name]; !ok {
		return notFound(libvirt.ErrNoStorageVol, "storage volume")
	}
	m.deleted = append(m.deleted, vol.Name)
	delete(vols, vol.Name)
	return nil
}

func (m *mockLibvirtClient) StorageVolGetPath(vol libvirt.StorageVol) (string, error) {
	v, err := m.volume(vol)
	if err != nil {
		return "", err
	}
	return v.path, nil
}

func (m *mockLibvirtClient) StorageVolGetXMLDesc(vol libvirt.StorageVol, flags uint32) (string, error) {
	v, err := m.volume(vol)
	if err != nil {
		return "", err
	}
	return v.xmlDesc, nil
}

func (m *mockLibvirtClient) StorageVolUpload(vol libvirt.StorageVol, reader io.Reader, offset uint64, length uint64, flags libvirt.StorageVolUploadFlags) error {
	v, err := m.volume(vol)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}
	if m.uploadErr != nil {
		return m.uploadErr
	}
	if uint64(len(data)) != length {
		return fmt.Errorf("short upload: %d of %d bytes", len(data), length)
	}
	v.data = data
	return nil
}

func (m *mockLibvirtClient) volume(vol libvirt.StorageVol) (*mockVolume, error) {
	vols, ok := m.volumes[vol.Pool]
	if !ok {
		return nil, notFound(libvirt.ErrNoStoragePool, "storage pool")
	}
	v, ok := vols[vol.Name]
	if !ok {
		return nil, notFound(libvirt.ErrNoStorageVol, "storage volume")
	}
	return v, nil
}

// Helper function to extract tag value from XML
func extractTagValue(xml, tag string) string {
	start := strings.Index(xml, "<"+tag+">")
	if start == -1 {
		return ""
	}
	start += len(tag) + 2
	end := strings.Index(xml[start:], "</"+tag+">")
	if end == -1 {
		return ""
	}
	return xml[start : start+end]
}

type mockHost struct {
	gid      string
	gidErr   error
	gidCalls int
	files    map[string]bool
	probeErr error
	probes   []string
}

func newMockHost() *mockHost {
	return &mockHost{gid: "100", files: map[string]bool{}}
}

func (h *mockHost) GroupID(ctx context.Context) (string, error) {
	h.gidCalls++
	return h.gid, h.gidErr
}

func (h *mockHost) FileExists(ctx context.Context, path string) (bool, error) {
	h.probes = append(h.probes, path)
	if h.probeErr != nil {
		return false, h.probeErr
	}
	return h.files[path], nil
}

type overlayCall struct {
	base, baseFormat, dst string
}

type blankCall struct {
	dst, format string
	sizeGB      uint64
}

// mockImager records qemu-img requests and marks the results as present on
// the host.
type mockImager struct {
	host     *mockHost
	overlays []overlayCall
	blanks   []blankCall
	err      error
}

func (i *mockImager) CreateOverlay(ctx context.Context, base, baseFormat, dst string) error {
	i.overlays = append(i.overlays, overlayCall{base, baseFormat, dst})
	if i.err != nil {
		return i.err
	}
	i.host.files[dst] = true
	return nil
}

func (i *mockImager) CreateBlank(ctx context.Context, dst, format string, sizeGB uint64) error {
	i.blanks = append(i.blanks, blankCall{dst, format, sizeGB})
	if i.err != nil {
		return i.err
	}
	i.host.files[dst] = true
	return nil
}

// mockFetcher writes content to dst on every Ensure.
type mockFetcher struct {
	content []byte
	err     error
	calls   []string
}

func (f *mockFetcher) Ensure(ctx context.Context, src, dst, checksum string) error {
	f.calls = append(f.calls, src)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, f.content, 0o644)
}

type testEnv struct {
	client  *mockLibvirtClient
	host    *mockHost
	imager  *mockImager
	fetcher *mockFetcher
	mgr     *Manager
}

func newTestEnv() *testEnv {
	env := &testEnv{
		client:  newMockLibvirtClient(),
		host:    newMockHost(),
		fetcher: &mockFetcher{},
	}
	env.imager = &mockImager{host: env.host}
	env.client.host = env.host
	env.mgr = NewManager(env.client, env.host, env.imager, env.fetcher, nil)
	return env
}
