package fsm

import (
	"fmt"

	"go.uber.org/zap"
)

// Status is the run status of a machine
type Status int

const (
	Stopped Status = iota
	Running
	Paused
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Delegate observes state changes of a machine
type Delegate interface {
	EnterState(state *State, m *Machine)
	ExitState(state *State, m *Machine)
	PauseState(state *State, m *Machine)
	ResumeState(state *State, m *Machine)
}

// Option configures a Machine
type Option func(*Machine)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// WithContext attaches application data reachable from conditions and hooks
func WithContext(v any) Option {
	return func(m *Machine) { m.context = v }
}

// Machine runs states. It is not safe for concurrent use; AutoMachine adds
// locking and a ticker.
type Machine struct {
	defaultState string
	states       map[string]*State
	current      *State
	status       Status
	delegate     Delegate
	context      any
	logger       *zap.Logger
}

// NewMachine creates a stopped machine that starts in defaultState
func NewMachine(defaultState string, delegate Delegate, opts ...Option) *Machine {
	m := &Machine{
		defaultState: defaultState,
		states:       make(map[string]*State),
		status:       Stopped,
		delegate:     delegate,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// AddState registers state under name, replacing any state with that name
func (m *Machine) AddState(name string, state *State) {
	if state.Name == "" {
		state.Name = name
	}
	m.states[name] = state
}

// State returns the registered state for name
func (m *Machine) State(name string) *State {
	return m.states[name]
}

// CurrentState returns the current state, nil when stopped
func (m *Machine) CurrentState() *State {
	return m.current
}

// CurrentName returns the current state name, "" when there is none
func (m *Machine) CurrentName() string {
	if m.current == nil {
		return ""
	}
	return m.current.Name
}

// Status returns the run status
func (m *Machine) Status() Status {
	return m.status
}

// Context returns the data set with WithContext
func (m *Machine) Context() any {
	return m.context
}

// Start enters the default state. It panics unless the machine is stopped.
func (m *Machine) Start() {
	if m.status != Stopped || m.current != nil {
		panic(fmt.Sprintf("fsm: start while %s in state %q", m.status, m.CurrentName()))
	}
	m.changeState(m.defaultState)
	m.status = Running
}

// Stop exits the current state. It panics when the machine is already stopped.
func (m *Machine) Stop() {
	if m.status == Stopped {
		panic("fsm: stop while stopped")
	}
	m.status = Stopped
	m.changeState("")
}

// Pause suspends ticking without leaving the current state
func (m *Machine) Pause() {
	if m.status != Running || m.current == nil {
		panic(fmt.Sprintf("fsm: pause while %s", m.status))
	}
	m.status = Paused
	call(m.current.OnPause, m.current, m)
	if m.delegate != nil {
		m.delegate.PauseState(m.current, m)
	}
}

// Resume continues ticking in the current state
func (m *Machine) Resume() {
	if m.status != Paused || m.current == nil {
		panic(fmt.Sprintf("fsm: resume while %s", m.status))
	}
	call(m.current.OnResume, m.current, m)
	if m.delegate != nil {
		m.delegate.ResumeState(m.current, m)
	}
	m.status = Running
}

// Tick applies the first transition of the current state that holds. It does
// nothing unless the machine is running.
func (m *Machine) Tick() {
	if m.status != Running || m.current == nil {
		return
	}
	if target, ok := m.current.next(m); ok {
		m.changeState(target)
	}
}

// changeState exits the current state and enters name. An unknown name
// leaves the machine without a current state.
func (m *Machine) changeState(name string) {
	if old := m.current; old != nil {
		call(old.OnExit, old, m)
		if m.delegate != nil {
			m.delegate.ExitState(old, m)
		}
		m.current = nil
	}

	if name == "" {
		return
	}
	next, ok := m.states[name]
	if !ok {
		m.logger.Warn("⚠️ unknown state, machine frozen", zap.String("state", name))
		return
	}
	m.logger.Debug("state changed", zap.String("state", name))
	call(next.OnEnter, next, m)
	if m.delegate != nil {
		m.delegate.EnterState(next, m)
	}
	m.current = next
}
