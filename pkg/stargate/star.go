package stargate

import "errors"

var (
	ErrNotConnected   = errors.New("stargate: not connected")
	ErrNotAuthorized  = errors.New("stargate: not authorized")
	ErrTerminated     = errors.New("stargate: transport terminated")
	ErrInvalidOptions = errors.New("stargate: invalid launch options")
)

// Delegate receives transport callbacks. Callbacks run on a goroutine owned
// by the transport, never on the caller of Send.
type Delegate interface {
	// OnReceive is called for inbound application data, either a push or
	// the response to a task. The return code is reserved.
	OnReceive(data []byte, star Star) int

	// OnConnectionStatusChanged is called after the transport status changed.
	OnConnectionStatusChanged(status Status, star Star)

	// OnFinishSend is called exactly once per Send unless the transport is
	// terminated first.
	OnFinishSend(data []byte, err error, star Star)
}

// Star is a pluggable byte transport
type Star interface {
	// Launch starts connecting. It returns false when the transport could
	// not be started; the status is then StatusError.
	Launch(opts Options) bool

	// Terminate releases every resource. It waits for a running delegate
	// call, so it must not be called from one; no delegate call happens
	// after Terminate returns.
	Terminate()

	EnterBackground()
	EnterForeground()

	// Send queues data for delivery and returns its task id.
	Send(data []byte) int

	// SendWithDelegate is Send with a per-call delegate for the task's
	// response and completion.
	SendWithDelegate(data []byte, delegate Delegate) int

	Status() Status
}
