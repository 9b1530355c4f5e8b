package delivery

import (
	"errors"
	"sync"
	"time"

	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

// DefaultExpires is how long a sent message may wait for its acknowledgment
const DefaultExpires = 10 * time.Minute

const (
	markerVirgin int64 = 0
	markerFailed int64 = -1
)

var (
	ErrExpired  = errors.New("delivery: message expired")
	ErrRejected = errors.New("delivery: message rejected")
)

// Handler is told how a wrapped message ended. It is called at most once.
type Handler interface {
	OnSuccess(data []byte)
	OnFailed(data []byte, err error)
}

// HandlerFuncs adapts two functions to Handler; nil functions are skipped
type HandlerFuncs struct {
	Success func(data []byte)
	Failed  func(data []byte, err error)
}

func (h HandlerFuncs) OnSuccess(data []byte) {
	if h.Success != nil {
		h.Success(data)
	}
}

func (h HandlerFuncs) OnFailed(data []byte, err error) {
	if h.Failed != nil {
		h.Failed(data, err)
	}
}

// WrapperOption configures a Wrapper
type WrapperOption func(*Wrapper)

// WithHandler sets the completion handler
func WithHandler(h Handler) WrapperOption {
	return func(w *Wrapper) { w.handler = h }
}

// WithUpstream forwards OnReceive and status callbacks to d
func WithUpstream(d stargate.Delegate) WrapperOption {
	return func(w *Wrapper) { w.upstream = d }
}

// WithExpires overrides DefaultExpires
func WithExpires(d time.Duration) WrapperOption {
	return func(w *Wrapper) { w.expires = d }
}

// WithConfirmation holds the handler after a transport success until the
// application reports its own result with Complete. Until then the payload is
// kept so a rejected message can be stranded and resent.
func WithConfirmation() WrapperOption {
	return func(w *Wrapper) { w.confirm = true }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) WrapperOption {
	return func(w *Wrapper) { w.now = now }
}

// Wrapper holds one outbound message and its delivery marker: 0 while never
// handed to a transport, the handoff time in milliseconds once sent, -1 once
// failed. Failure is final and wins over an earlier release.
type Wrapper struct {
	mu           sync.Mutex
	payload      []byte
	signature    string
	priority     int
	marker       int64
	released     bool
	notified     bool
	confirm      bool
	acknowledged bool

	expires  time.Duration
	now      func() time.Time
	handler  Handler
	upstream stargate.Delegate
}

// NewWrapper wraps payload with the given priority (lower is more urgent)
func NewWrapper(payload []byte, priority int, opts ...WrapperOption) *Wrapper {
	w := &Wrapper{
		payload:   payload,
		signature: Signature(payload),
		priority:  priority,
		expires:   DefaultExpires,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Payload returns the wrapped bytes, nil once released
func (w *Wrapper) Payload() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.payload
}

// Signature identifies the payload; it survives Release
func (w *Wrapper) Signature() string {
	return w.signature
}

// Priority returns the queue priority
func (w *Wrapper) Priority() int {
	return w.priority
}

// Mark records a handoff to the transport. It has no effect after Fail.
func (w *Wrapper) Mark() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.marker == markerFailed {
		return
	}
	ms := w.now().UnixMilli()
	if ms <= 0 {
		ms = 1
	}
	w.marker = ms
}

// Fail marks the message as failed for good
func (w *Wrapper) Fail() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.marker = markerFailed
}

// Release drops the payload of an acknowledged message
func (w *Wrapper) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.payload = nil
	w.released = true
}

// IsVirgin reports whether the message was never handed off
func (w *Wrapper) IsVirgin() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.marker == markerVirgin
}

// IsSent reports whether the message was handed off and has not failed
func (w *Wrapper) IsSent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.marker > 0
}

// IsReleased reports whether the message was acknowledged
func (w *Wrapper) IsReleased() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.released
}

// IsAcknowledged reports whether the transport delivered a message that
// still waits for the application's confirmation
func (w *Wrapper) IsAcknowledged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acknowledged
}

// IsRejected reports whether the message was failed explicitly, as opposed
// to a handoff that merely outlived the expiry window
func (w *Wrapper) IsRejected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.marker == markerFailed
}

// IsFailed reports whether the message failed or its handoff is older than
// the expiry window. It never changes the marker.
func (w *Wrapper) IsFailed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.marker == markerFailed {
		return true
	}
	if w.marker == markerVirgin {
		return false
	}
	return w.now().UnixMilli()-w.marker > w.expires.Milliseconds()
}

// MarkedAt returns the handoff time, zero when virgin or failed
func (w *Wrapper) MarkedAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.marker <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(w.marker)
}

// Complete records the application-level result of the message, for example
// a rejection reported by the remote side. A rejection always fails the
// message; the handler hears of it unless it was already told the message
// succeeded.
func (w *Wrapper) Complete(err error) {
	data := w.Payload()
	if err != nil {
		w.Fail()
		w.notify(data, err)
		return
	}
	w.Release()
	w.notify(data, nil)
}

// Expire fails the message with ErrExpired and notifies the handler
func (w *Wrapper) Expire() {
	w.Fail()
	w.notify(w.Payload(), ErrExpired)
}

func (w *Wrapper) notify(data []byte, err error) {
	w.mu.Lock()
	if w.notified || w.handler == nil {
		w.notified = true
		w.mu.Unlock()
		return
	}
	w.notified = true
	w.mu.Unlock()

	if err != nil {
		w.handler.OnFailed(data, err)
	} else {
		w.handler.OnSuccess(data)
	}
}

// OnReceive forwards a response to the upstream delegate
func (w *Wrapper) OnReceive(data []byte, star stargate.Star) int {
	if w.upstream == nil {
		return 0
	}
	return w.upstream.OnReceive(data, star)
}

// OnConnectionStatusChanged forwards to the upstream delegate
func (w *Wrapper) OnConnectionStatusChanged(status stargate.Status, star stargate.Star) {
	if w.upstream != nil {
		w.upstream.OnConnectionStatusChanged(status, star)
	}
}

// OnFinishSend fails the wrapper on error. On success it releases the
// payload, or with confirmation only records the transport acknowledgment.
func (w *Wrapper) OnFinishSend(data []byte, err error, _ stargate.Star) {
	if err != nil {
		w.Fail()
		w.notify(data, err)
		return
	}

	w.mu.Lock()
	if w.confirm && w.marker != markerFailed {
		w.acknowledged = true
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.Release()
	w.notify(data, nil)
}
