// Package stargatetest provides a recording Delegate for transport tests.
package stargatetest

import (
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

// Event is one recorded delegate callback
type Event struct {
	Kind   string // "receive", "status" or "finish"
	Data   []byte
	Err    error
	Status stargate.Status
}

// Recorder is a stargate.Delegate that records every callback
type Recorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// OnReceive implements stargate.Delegate
func (r *Recorder) OnReceive(data []byte, _ stargate.Star) int {
	r.add(Event{Kind: "receive", Data: append([]byte(nil), data...)})
	return 0
}

// OnConnectionStatusChanged implements stargate.Delegate
func (r *Recorder) OnConnectionStatusChanged(status stargate.Status, _ stargate.Star) {
	r.add(Event{Kind: "status", Status: status})
}

// OnFinishSend implements stargate.Delegate
func (r *Recorder) OnFinishSend(data []byte, err error, _ stargate.Star) {
	r.add(Event{Kind: "finish", Data: append([]byte(nil), data...), Err: err})
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kind returns the recorded events of one kind
func (r *Recorder) Kind(kind string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Statuses returns the reported statuses in order
func (r *Recorder) Statuses() []stargate.Status {
	var out []stargate.Status
	for _, e := range r.Kind("status") {
		out = append(out, e.Status)
	}
	return out
}

// WaitFor blocks until cond holds for the recorded events or timeout passes
func (r *Recorder) WaitFor(timeout time.Duration, cond func(events []Event) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if cond(r.Events()) {
			return true
		}
		select {
		case <-r.notify:
		case <-deadline.C:
			return cond(r.Events())
		}
	}
}

// CountAtLeast returns a WaitFor condition for n events of kind
func CountAtLeast(kind string, n int) func([]Event) bool {
	return func(events []Event) bool {
		c := 0
		for _, e := range events {
			if e.Kind == kind {
				c++
			}
		}
		return c >= n
	}
}
