package vm

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/jbweber/gridvm/internal/cloudinit"
	"github.com/jbweber/gridvm/internal/config"
	"github.com/jbweber/gridvm/internal/disk"
	"github.com/jbweber/gridvm/internal/oar"
	"github.com/jbweber/gridvm/internal/retry"
	"github.com/jbweber/gridvm/internal/subnet"
)

// events records the order of calls across every mock of one test.
type events struct {
	mu   sync.Mutex
	list []string
}

func (e *events) add(name string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = append(e.list, name)
}

func (e *events) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.list = nil
}

func (e *events) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.list...)
}

// mockJobClient is a mock implementation of the jobClient interface for testing.
type mockJobClient struct {
	mu     sync.Mutex
	events *events

	// Configurable behavior
	submitFunc      func(spec oar.JobSpec) (string, error)
	pollFunc        func(id string) (oar.Job, error)
	waitRunningFunc func(id string) (oar.Job, error)
	deleteFunc      func(id string) error

	// Call tracking
	submitCalls      []oar.JobSpec
	pollCalls        []string
	waitRunningCalls []string
	deleteCalls      []string
}

// newMockJobClient creates a new mock whose jobs start running right away.
func newMockJobClient(ev *events) *mockJobClient {
	return &mockJobClient{
		events:     ev,
		submitFunc: func(oar.JobSpec) (string, error) { return "42", nil },
		pollFunc: func(id string) (oar.Job, error) {
			return oar.Job{ID: id, State: oar.Running, Addresses: []string{"10.0.0.5"}}, nil
		},
		waitRunningFunc: func(id string) (oar.Job, error) {
			return oar.Job{ID: id, State: oar.Running, Addresses: []string{"10.0.0.5"}}, nil
		},
		deleteFunc: func(string) error { return nil },
	}
}

func (m *mockJobClient) Submit(_ context.Context, spec oar.JobSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("submit")
	m.submitCalls = append(m.submitCalls, spec)
	return m.submitFunc(spec)
}

func (m *mockJobClient) Poll(_ context.Context, id string) (oar.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("poll")
	m.pollCalls = append(m.pollCalls, id)
	return m.pollFunc(id)
}

func (m *mockJobClient) WaitRunning(_ context.Context, id string, _ retry.Policy) (oar.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("wait")
	m.waitRunningCalls = append(m.waitRunningCalls, id)
	return m.waitRunningFunc(id)
}

func (m *mockJobClient) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("delete")
	m.deleteCalls = append(m.deleteCalls, id)
	return m.deleteFunc(id)
}

// mockDiskProvisioner is a mock implementation of the diskProvisioner interface.
type mockDiskProvisioner struct {
	mu     sync.Mutex
	events *events

	resolveFunc func(spec disk.ImageSpec, machine string) (disk.BootDisk, error)
	removeFunc  func(spec disk.ImageSpec, machine string) error

	resolveCalls []string
	removeCalls  []string
}

// newMockDiskProvisioner creates a mock resolving every disk to a per-machine file.
func newMockDiskProvisioner(ev *events) *mockDiskProvisioner {
	return &mockDiskProvisioner{
		events: ev,
		resolveFunc: func(_ disk.ImageSpec, machine string) (disk.BootDisk, error) {
			return disk.BootDisk{Locator: ".gridvm/demo/" + machine}, nil
		},
		removeFunc: func(disk.ImageSpec, string) error { return nil },
	}
}

func (m *mockDiskProvisioner) ResolveBootDisk(_ context.Context, spec disk.ImageSpec, machine string) (disk.BootDisk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("resolve")
	m.resolveCalls = append(m.resolveCalls, machine)
	return m.resolveFunc(spec, machine)
}

func (m *mockDiskProvisioner) RemoveBootDisk(_ context.Context, spec disk.ImageSpec, machine string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("remove-disk")
	m.removeCalls = append(m.removeCalls, machine)
	return m.removeFunc(spec, machine)
}

// mockSubnetManager is a mock implementation of the subnetManager interface.
type mockSubnetManager struct {
	mu     sync.Mutex
	events *events

	acquireFunc func(cfg config.NetworkConfig, ordinal int) (subnet.Lease, error)
	joinFunc    func(cfg config.NetworkConfig) error
	releaseFunc func(cfg config.NetworkConfig) error

	acquireCalls []int
	joinCalls    int
	releaseCalls int
}

// newMockSubnetManager creates a mock handing out NAT leases, or a fixed
// bridged lease for bridged networks.
func newMockSubnetManager(ev *events) *mockSubnetManager {
	return &mockSubnetManager{
		events: ev,
		acquireFunc: func(cfg config.NetworkConfig, _ int) (subnet.Lease, error) {
			if !cfg.IsBridged() {
				return subnet.Lease{Args: "-net nic,model=virtio -net user,hostfwd=tcp::2222-:22"}, nil
			}
			return subnet.Lease{
				Args:    "-net nic,model=virtio,macaddr=00:16:3e:9e:00:02 -net bridge,br=br0",
				Address: "10.158.0.2",
				MAC:     "00:16:3e:9e:00:02",
				JobID:   "7",
			}, nil
		},
		joinFunc:    func(config.NetworkConfig) error { return nil },
		releaseFunc: func(config.NetworkConfig) error { return nil },
	}
}

func (m *mockSubnetManager) Acquire(_ context.Context, cfg config.NetworkConfig, ordinal int) (subnet.Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("acquire")
	m.acquireCalls = append(m.acquireCalls, ordinal)
	return m.acquireFunc(cfg, ordinal)
}

func (m *mockSubnetManager) Join(_ context.Context, cfg config.NetworkConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("join")
	m.joinCalls++
	return m.joinFunc(cfg)
}

func (m *mockSubnetManager) Release(_ context.Context, cfg config.NetworkConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events.add("release")
	m.releaseCalls++
	return m.releaseFunc(cfg)
}

// recordingUI collects user-facing messages.
type recordingUI struct {
	mu    sync.Mutex
	infos []string
	warns []string
}

func (u *recordingUI) Info(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.infos = append(u.infos, msg)
}

func (u *recordingUI) Warn(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.warns = append(u.warns, msg)
}

// fakeSeedWriter writes a placeholder seed file into dir and records the seeds.
type fakeSeedWriter struct {
	dir   string
	seeds []cloudinit.Seed
	err   error
}

func (w *fakeSeedWriter) write(s cloudinit.Seed) (string, error) {
	if w.err != nil {
		return "", w.err
	}
	w.seeds = append(w.seeds, s)
	p := filepath.Join(w.dir, s.Name+"-seed.iso")
	return p, os.WriteFile(p, []byte("seed"), 0o600)
}
