package session

import (
	"github.com/ZentaChain/zentalk-stargate/pkg/fsm"
	"github.com/ZentaChain/zentalk-stargate/pkg/stargate"
)

// Session states
const (
	StateDefault     = "default"
	StateConnecting  = "connecting"
	StateConnected   = "connected"
	StateHandshaking = "handshaking"
	StateRunning     = "running"
	StateError       = "error"
)

// newMachine builds the session state machine for s:
//
//	default     -> connecting   user set, transport connecting or connected
//	connecting  -> connected    transport connected
//	connecting  -> error        transport failed
//	connected   -> handshaking  user set
//	handshaking -> running      session key set
//	handshaking -> connected    handshake timed out, transport still connected
//	handshaking -> error        transport not connected
//	running     -> error        transport not connected
//	running     -> default      session key cleared
//	error       -> default      transport no longer failed
func newMachine(s *Server) *fsm.Machine {
	m := fsm.NewMachine(StateDefault, s, fsm.WithLogger(s.logger), fsm.WithContext(s))

	m.AddState(StateDefault, fsm.NewState(StateDefault).
		AddTransition(StateConnecting, func(*fsm.Machine) bool {
			if s.User() == "" {
				return false
			}
			status := s.Status()
			return status == stargate.StatusConnecting || status == stargate.StatusConnected
		}))

	m.AddState(StateConnecting, fsm.NewState(StateConnecting).
		AddTransition(StateConnected, func(*fsm.Machine) bool {
			return s.Status() == stargate.StatusConnected
		}).
		AddTransition(StateError, func(*fsm.Machine) bool {
			return s.Status() == stargate.StatusError
		}))

	m.AddState(StateConnected, fsm.NewState(StateConnected).
		AddTransition(StateHandshaking, func(*fsm.Machine) bool {
			return s.User() != ""
		}))

	m.AddState(StateHandshaking, fsm.NewState(StateHandshaking).
		AddTransition(StateRunning, func(*fsm.Machine) bool {
			return s.SessionKey() != ""
		}).
		AddTransition(StateConnected, func(*fsm.Machine) bool {
			return s.handshakeExpired() && s.Status() == stargate.StatusConnected
		}).
		AddTransition(StateError, func(*fsm.Machine) bool {
			return s.Status() != stargate.StatusConnected
		}))

	m.AddState(StateRunning, fsm.NewState(StateRunning).
		AddTransition(StateError, func(*fsm.Machine) bool {
			return s.Status() != stargate.StatusConnected
		}).
		AddTransition(StateDefault, func(*fsm.Machine) bool {
			return s.SessionKey() == ""
		}))

	m.AddState(StateError, fsm.NewState(StateError).
		AddTransition(StateDefault, func(*fsm.Machine) bool {
			return s.Status() != stargate.StatusError
		}))

	return m
}
