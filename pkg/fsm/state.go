// Package fsm is a small finite state machine engine. A Machine holds named
// States; each State owns an ordered list of Transitions and the first one
// whose condition holds is applied on Tick.
package fsm

// Condition decides whether a transition applies
type Condition func(m *Machine) bool

// Transition moves the machine to Target when Evaluate returns true
type Transition struct {
	Target   string
	Evaluate Condition
}

// Hook is a state lifecycle callback
type Hook func(s *State, m *Machine)

// State is one node of the machine
type State struct {
	Name        string
	transitions []Transition

	OnEnter  Hook
	OnExit   Hook
	OnPause  Hook
	OnResume Hook
}

// NewState creates a state without transitions
func NewState(name string) *State {
	return &State{Name: name}
}

// AddTransition appends a transition. Transitions are evaluated in the order
// they were added.
func (s *State) AddTransition(target string, cond Condition) *State {
	s.transitions = append(s.transitions, Transition{Target: target, Evaluate: cond})
	return s
}

// Transitions returns the transitions in evaluation order
func (s *State) Transitions() []Transition {
	return append([]Transition(nil), s.transitions...)
}

// next returns the target of the first transition that holds
func (s *State) next(m *Machine) (string, bool) {
	for _, t := range s.transitions {
		if t.Evaluate != nil && t.Evaluate(m) {
			return t.Target, true
		}
	}
	return "", false
}

func call(h Hook, s *State, m *Machine) {
	if h != nil {
		h(s, m)
	}
}
