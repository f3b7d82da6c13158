package subnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/jbweber/gridvm/internal/lock"
	"github.com/jbweber/gridvm/internal/oar"
	"github.com/jbweber/gridvm/internal/retry"
)

// mockJobClient is a mock implementation of the JobClient interface for testing.
type mockJobClient struct {
	mu sync.Mutex

	// Configurable behavior
	submitFunc      func(spec oar.JobSpec) (string, error)
	findByNameFunc  func(name string) (*oar.Job, error)
	waitRunningFunc func(id string) (oar.Job, error)
	deleteFunc      func(id string) error

	// Lock that must be held by every call, when set
	locker *mockLocker

	// Call tracking
	submitCalls      []oar.JobSpec
	findByNameCalls  []string
	waitRunningCalls []string
	deleteCalls      []string
	unlockedCalls    []string
}

// newMockJobClient creates a mock with no existing job and successful operations.
func newMockJobClient() *mockJobClient {
	return &mockJobClient{
		submitFunc:     func(oar.JobSpec) (string, error) { return "1000", nil },
		findByNameFunc: func(string) (*oar.Job, error) { return nil, nil },
		waitRunningFunc: func(id string) (oar.Job, error) {
			return oar.Job{ID: id, State: oar.Running}, nil
		},
		deleteFunc: func(string) error { return nil },
	}
}

func (m *mockJobClient) checkLocked(call string) {
	if m.locker != nil && !m.locker.isHeld() {
		m.unlockedCalls = append(m.unlockedCalls, call)
	}
}

func (m *mockJobClient) Submit(_ context.Context, spec oar.JobSpec) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLocked("Submit")
	m.submitCalls = append(m.submitCalls, spec)
	return m.submitFunc(spec)
}

func (m *mockJobClient) FindByName(_ context.Context, name string) (*oar.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLocked("FindByName")
	m.findByNameCalls = append(m.findByNameCalls, name)
	return m.findByNameFunc(name)
}

func (m *mockJobClient) WaitRunning(_ context.Context, id string, _ retry.Policy) (oar.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLocked("WaitRunning")
	m.waitRunningCalls = append(m.waitRunningCalls, id)
	return m.waitRunningFunc(id)
}

func (m *mockJobClient) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLocked("Delete")
	m.deleteCalls = append(m.deleteCalls, id)
	return m.deleteFunc(id)
}

// mockLocker is a mock implementation of lock.Locker that records activity.
type mockLocker struct {
	mu      sync.Mutex
	held    bool
	names   []string
	locks   int
	unlocks int
	lockErr error
}

func (l *mockLocker) Lock(_ context.Context, name string) (lock.Unlock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lockErr != nil {
		return nil, l.lockErr
	}
	if l.held {
		return nil, fmt.Errorf("lock %s acquired twice", name)
	}
	l.held = true
	l.locks++
	l.names = append(l.names, name)
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.unlocks++
		return nil
	}, nil
}

func (l *mockLocker) isHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}
