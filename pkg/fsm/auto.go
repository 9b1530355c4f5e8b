package fsm

import (
	"context"
	"sync"
	"time"
)

// DefaultTickInterval is the period of an AutoMachine
const DefaultTickInterval = 500 * time.Millisecond

// AutoMachine drives a Machine from its own goroutine. All methods are safe
// for concurrent use; hooks and conditions run under the machine lock and
// must not call back into the AutoMachine.
type AutoMachine struct {
	mu       sync.Mutex
	machine  *Machine
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutoMachine wraps m. A non-positive interval selects DefaultTickInterval.
func NewAutoMachine(m *Machine, interval time.Duration) *AutoMachine {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &AutoMachine{machine: m, interval: interval}
}

// Start starts the machine and the ticker. The ticker stops with ctx or Stop.
func (a *AutoMachine) Start(ctx context.Context) {
	a.mu.Lock()
	a.machine.Start()
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	go a.run(ctx, done)
}

func (a *AutoMachine) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Tick()
		}
	}
}

// Stop stops the ticker and the machine
func (a *AutoMachine) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.machine.Status() != Stopped {
		a.machine.Stop()
	}
}

// Tick drives the machine once
func (a *AutoMachine) Tick() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.machine.Tick()
}

// Pause pauses the machine
func (a *AutoMachine) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.machine.Pause()
}

// Resume resumes the machine
func (a *AutoMachine) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.machine.Resume()
}

// CurrentName returns the current state name
func (a *AutoMachine) CurrentName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.CurrentName()
}

// Status returns the run status
func (a *AutoMachine) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.machine.Status()
}
