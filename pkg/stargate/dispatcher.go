package stargate

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultDispatchBuffer = 256

// Dispatcher runs delegate callbacks in FIFO order on its own goroutine so
// that neither the caller of Send nor the transport worker executes them.
// Post blocks while the buffer is full.
type Dispatcher struct {
	ch     chan func()
	done   chan struct{}
	exited chan struct{}
	closed atomic.Bool
	once   sync.Once
	logger *zap.Logger
}

// NewDispatcher starts a dispatcher with the given buffer size
func NewDispatcher(buffer int, logger *zap.Logger) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultDispatchBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		ch:     make(chan func(), buffer),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
		logger: logger,
	}
	go d.run()
	return d
}

// Post queues fn. It returns false once the dispatcher is closed.
func (d *Dispatcher) Post(fn func()) bool {
	if d.closed.Load() {
		return false
	}
	select {
	case d.ch <- fn:
		return true
	case <-d.done:
		return false
	}
}

// Close stops the dispatcher and waits for a running callback to return.
// Callbacks still buffered are dropped and none starts after Close returns.
// Close must not be called from a callback.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
	})
	<-d.exited
}

// Closed reports whether Close was called
func (d *Dispatcher) Closed() bool {
	return d.closed.Load()
}

func (d *Dispatcher) run() {
	defer close(d.exited)
	for {
		select {
		case <-d.done:
			return
		case fn := <-d.ch:
			if d.closed.Load() {
				return
			}
			d.invoke(fn)
		}
	}
}

func (d *Dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("❌ delegate callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
