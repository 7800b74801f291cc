package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gloworm-vision/motorbench/hardware"
)

// driverManager synchronizes access to the underlying motor driver. Commands
// share the read lock; the driver itself serializes them. Replacing the driver
// takes the write lock so nobody holds a driver while it is being shut down.
type driverManager struct {
	driver *hardware.Driver
	mu     *sync.RWMutex

	// backend is readable without mu so observers can use it while a
	// replacement holds the write lock.
	backend atomic.Value

	// observers are registered on every driver the manager installs.
	observers []func(hardware.State)
}

func newDriverManager(d *hardware.Driver, backend hardware.Backend, observers ...func(hardware.State)) *driverManager {
	m := &driverManager{mu: new(sync.RWMutex), observers: observers}
	m.install(d, backend)
	return m
}

func (m *driverManager) install(d *hardware.Driver, backend hardware.Backend) {
	for _, fn := range m.observers {
		d.Observe(fn)
	}
	m.driver = d
	m.backend.Store(backend)
}

type opener func() (*hardware.Driver, hardware.Backend, error)

// Replace shuts the current driver down and installs the one returned by open.
// The old driver is released before open runs so the new one can claim the
// same pins.
func (m *driverManager) Replace(open opener) (hardware.Backend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	shutdownErr := m.driver.Shutdown()

	d, backend, err := open()
	if err != nil {
		return "", fmt.Errorf("unable to create new driver from config: %w", err)
	}
	m.install(d, backend)

	if shutdownErr != nil {
		return backend, fmt.Errorf("previous driver did not shut down cleanly: %w", shutdownErr)
	}
	return backend, nil
}

func (m *driverManager) View(fn func(d *hardware.Driver, backend hardware.Backend)) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fn(m.driver, m.Backend())
}

// Backend names the backend of the installed driver.
func (m *driverManager) Backend() hardware.Backend {
	b, _ := m.backend.Load().(hardware.Backend)
	return b
}

// Close shuts down the current driver.
func (m *driverManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.driver.Shutdown()
}

// runManager tracks the sequence in progress so other commands can cancel it.
// At most one sequence runs at a time.
type runManager struct {
	base context.Context

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func newRunManager(base context.Context) *runManager {
	return &runManager{base: base}
}

// Begin claims the sequence slot. The returned context ends when parent ends,
// when the manager's base context ends or when Cancel is called. end must be
// called once the sequence has finished.
func (m *runManager) Begin(parent context.Context) (ctx context.Context, end func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return nil, nil, hardware.Lifecyclef("a sequence is already running")
	}

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(m.base, cancel)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	end = func() {
		stop()
		cancel()

		m.mu.Lock()
		m.cancel, m.done = nil, nil
		m.mu.Unlock()

		close(done)
	}
	return ctx, end, nil
}

// Cancel stops the sequence in progress, if any, and waits for it to end.
func (m *runManager) Cancel() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
