// Package stn is a long-link / short-link network multiplexer. Tasks are
// routed over a persistent TCP long link carrying framed packets, or over a
// one-shot HTTP short link, and the application is called back for request
// encoding, response decoding, task end, pushes and link status.
package stn

import (
	"fmt"
	"time"
)

// CmdNoop is the long-link heartbeat command
const CmdNoop uint32 = 6

// Task end codes used with ErrTypeLocal
const (
	CodeCanceled     = -1
	CodeTimeout      = -2
	CodeNoConnection = -3
)

// Channel selects the link a task is routed over
type Channel int

const (
	ChannelShortLink Channel = 1
	ChannelLongLink  Channel = 2
	ChannelEither    Channel = 3
)

func (c Channel) String() string {
	switch c {
	case ChannelShortLink:
		return "short"
	case ChannelLongLink:
		return "long"
	case ChannelEither:
		return "either"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// LinkStatus is the state of one link
type LinkStatus int

const (
	LinkUnknown       LinkStatus = -1
	LinkUnavailable   LinkStatus = 0
	LinkGatewayFailed LinkStatus = 1
	LinkServerFailed  LinkStatus = 2
	LinkConnecting    LinkStatus = 3
	LinkConnected     LinkStatus = 4
	LinkServerDown    LinkStatus = 5
)

func (s LinkStatus) String() string {
	switch s {
	case LinkUnknown:
		return "unknown"
	case LinkUnavailable:
		return "unavailable"
	case LinkGatewayFailed:
		return "gateway_failed"
	case LinkServerFailed:
		return "server_failed"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkServerDown:
		return "server_down"
	default:
		return fmt.Sprintf("link(%d)", int(s))
	}
}

// ErrType classifies how a task ended
type ErrType int

const (
	ErrTypeOK       ErrType = 0
	ErrTypeFalse    ErrType = 1
	ErrTypeDial     ErrType = 2
	ErrTypeDNS      ErrType = 3
	ErrTypeSocket   ErrType = 4
	ErrTypeHTTP     ErrType = 5
	ErrTypeNetMsgXP ErrType = 6
	ErrTypeEnDecode ErrType = 7
	ErrTypeServer   ErrType = 8
	ErrTypeLocal    ErrType = 9
)

func (e ErrType) String() string {
	switch e {
	case ErrTypeOK:
		return "ok"
	case ErrTypeFalse:
		return "false"
	case ErrTypeDial:
		return "dial"
	case ErrTypeDNS:
		return "dns"
	case ErrTypeSocket:
		return "socket"
	case ErrTypeHTTP:
		return "http"
	case ErrTypeNetMsgXP:
		return "netmsg_xp"
	case ErrTypeEnDecode:
		return "endecode"
	case ErrTypeServer:
		return "server"
	case ErrTypeLocal:
		return "local"
	default:
		return fmt.Sprintf("errtype(%d)", int(e))
	}
}

// Task is one routed request/response unit
type Task struct {
	TaskID  uint32
	Channel Channel
	CmdID   uint32
	CGI     string
	Host    string
	Timeout time.Duration // 0 selects Config.TaskTimeout
}

// Callback is implemented by the application driving a Network. Methods are
// called from Network goroutines.
type Callback interface {
	IsAuthorized() bool
	OnNewDNS(host string) []string
	OnPush(cmdID uint32, data []byte)
	Req2Buf(taskID uint32, task Task) ([]byte, error)
	Buf2Resp(taskID uint32, task Task, data []byte) error
	OnTaskEnd(taskID uint32, task Task, errType ErrType, errCode int)
	OnConnectionStatusChange(shortStatus, longStatus LinkStatus)
}
