// Package stargate defines the transport contract shared by every concrete
// transport: the connection Status, the Star lifecycle and the Delegate
// callbacks used to report inbound data, status changes and send completion.
package stargate

import "fmt"

// Status is the connection state of a transport
type Status int

const (
	StatusError      Status = -1
	StatusInit       Status = 0
	StatusConnecting Status = 1
	StatusConnected  Status = 2
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusError:
		return "error"
	case StatusInit:
		return "init"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}
