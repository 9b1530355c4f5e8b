package mars

import (
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
	"github.com/ZentaChain/zentalk-stargate/pkg/stn"
)

// MapLinkStatus converts a link status of the multiplexer
func MapLinkStatus(s stn.LinkStatus) stargate.Status {
	switch s {
	case stn.LinkConnecting:
		return stargate.StatusConnecting
	case stn.LinkConnected:
		return stargate.StatusConnected
	default:
		return stargate.StatusError
	}
}

// MergeStatus returns the long-link status while it is Connecting or
// Connected, the short-link status otherwise.
func MergeStatus(long, short stargate.Status) stargate.Status {
	switch long {
	case stargate.StatusConnecting, stargate.StatusConnected:
		return long
	default:
		return short
	}
}
