package fsm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal records delegate calls as "enter:name" style strings
type journal struct {
	calls []string
}

func (j *journal) EnterState(s *State, _ *Machine)  { j.calls = append(j.calls, "enter:"+s.Name) }
func (j *journal) ExitState(s *State, _ *Machine)   { j.calls = append(j.calls, "exit:"+s.Name) }
func (j *journal) PauseState(s *State, _ *Machine)  { j.calls = append(j.calls, "pause:"+s.Name) }
func (j *journal) ResumeState(s *State, _ *Machine) { j.calls = append(j.calls, "resume:"+s.Name) }

func always(*Machine) bool { return true }
func never(*Machine) bool  { return false }

func newTrafficLight(j *journal) *Machine {
	m := NewMachine("red", j)
	m.AddState("red", NewState("red").AddTransition("green", always))
	m.AddState("green", NewState("green").AddTransition("yellow", always))
	m.AddState("yellow", NewState("yellow").AddTransition("red", always))
	return m
}

func TestStartEntersDefaultState(t *testing.T) {
	j := &journal{}
	m := newTrafficLight(j)

	assert.Nil(t, m.CurrentState())
	assert.Equal(t, Stopped, m.Status())

	m.Start()

	assert.Equal(t, "red", m.CurrentName())
	assert.Equal(t, Running, m.Status())
	assert.Equal(t, []string{"enter:red"}, j.calls, "start enters once and exits nothing")
}

func TestStartTwicePanics(t *testing.T) {
	m := newTrafficLight(&journal{})
	m.Start()
	assert.Panics(t, m.Start)
}

func TestTickAppliesFirstMatchingTransition(t *testing.T) {
	var thirdEvaluated atomic.Bool

	m := NewMachine("start", nil)
	m.AddState("start", NewState("start").
		AddTransition("never", never).
		AddTransition("s", always).
		AddTransition("third", func(*Machine) bool {
			thirdEvaluated.Store(true)
			return true
		}))
	m.AddState("s", NewState("s"))
	m.AddState("never", NewState("never"))
	m.AddState("third", NewState("third"))

	m.Start()
	m.Tick()

	assert.Equal(t, "s", m.CurrentName())
	assert.False(t, thirdEvaluated.Load(), "evaluation stops at the first match")
}

func TestTickSequence(t *testing.T) {
	j := &journal{}
	m := newTrafficLight(j)
	m.Start()

	m.Tick()
	m.Tick()
	m.Tick()

	assert.Equal(t, "red", m.CurrentName())
	assert.Equal(t, []string{
		"enter:red",
		"exit:red", "enter:green",
		"exit:green", "enter:yellow",
		"exit:yellow", "enter:red",
	}, j.calls)
}

func TestTickIgnoredUnlessRunning(t *testing.T) {
	m := newTrafficLight(&journal{})

	m.Tick()
	assert.Nil(t, m.CurrentState())

	m.Start()
	m.Pause()
	m.Tick()
	assert.Equal(t, "red", m.CurrentName())

	m.Resume()
	m.Tick()
	assert.Equal(t, "green", m.CurrentName())
}

func TestPauseResumeHooks(t *testing.T) {
	j := &journal{}
	var paused, resumed int

	m := NewMachine("idle", j)
	state := NewState("idle")
	state.OnPause = func(*State, *Machine) { paused++ }
	state.OnResume = func(*State, *Machine) { resumed++ }
	m.AddState("idle", state)

	m.Start()
	m.Pause()
	assert.Equal(t, Paused, m.Status())
	assert.Equal(t, "idle", m.CurrentName(), "pause keeps the current state")

	m.Resume()
	assert.Equal(t, Running, m.Status())

	assert.Equal(t, 1, paused)
	assert.Equal(t, 1, resumed)
	assert.Equal(t, []string{"enter:idle", "pause:idle", "resume:idle"}, j.calls)
}

func TestUsageErrorsPanic(t *testing.T) {
	tests := []struct {
		name string
		run  func(m *Machine)
	}{
		{"stop while stopped", func(m *Machine) { m.Stop() }},
		{"pause while stopped", func(m *Machine) { m.Pause() }},
		{"resume while running", func(m *Machine) { m.Start(); m.Resume() }},
		{"pause twice", func(m *Machine) { m.Start(); m.Pause(); m.Pause() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTrafficLight(&journal{})
			assert.Panics(t, func() { tt.run(m) })
		})
	}
}

func TestStopThenStart(t *testing.T) {
	j := &journal{}
	m := newTrafficLight(j)
	m.Start()
	m.Tick()
	require.Equal(t, "green", m.CurrentName())

	m.Stop()
	assert.Nil(t, m.CurrentState())
	assert.Equal(t, Stopped, m.Status())

	m.Start()
	assert.Equal(t, "red", m.CurrentName())
	assert.Equal(t, []string{
		"enter:red",
		"exit:red", "enter:green",
		"exit:green",
		"enter:red",
	}, j.calls)
}

func TestAddStateOverwrites(t *testing.T) {
	m := NewMachine("a", nil)
	first := NewState("a")
	second := NewState("a")
	m.AddState("a", first)
	m.AddState("a", second)

	m.Start()
	assert.Same(t, second, m.CurrentState())
}

func TestUnknownTargetFreezesMachine(t *testing.T) {
	j := &journal{}
	m := NewMachine("a", j)
	m.AddState("a", NewState("a").AddTransition("missing", always))

	m.Start()
	m.Tick()

	assert.Nil(t, m.CurrentState())
	assert.Equal(t, Running, m.Status())

	m.Tick()
	assert.Equal(t, []string{"enter:a", "exit:a"}, j.calls)

	m.Stop()
	assert.Equal(t, Stopped, m.Status())
}

func TestConditionSeesContext(t *testing.T) {
	type session struct{ ready bool }
	s := &session{}

	m := NewMachine("wait", nil, WithContext(s))
	m.AddState("wait", NewState("wait").AddTransition("go", func(m *Machine) bool {
		return m.Context().(*session).ready
	}))
	m.AddState("go", NewState("go"))

	m.Start()
	m.Tick()
	assert.Equal(t, "wait", m.CurrentName())

	s.ready = true
	m.Tick()
	assert.Equal(t, "go", m.CurrentName())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "status(9)", Status(9).String())
}

func TestAutoMachineTicks(t *testing.T) {
	var ready atomic.Bool

	m := NewMachine("wait", nil)
	m.AddState("wait", NewState("wait").AddTransition("done", func(*Machine) bool { return ready.Load() }))
	m.AddState("done", NewState("done"))

	auto := NewAutoMachine(m, 10*time.Millisecond)
	auto.Start(context.Background())
	defer auto.Stop()

	assert.Equal(t, "wait", auto.CurrentName())
	ready.Store(true)

	assert.Eventually(t, func() bool { return auto.CurrentName() == "done" }, time.Second, 5*time.Millisecond)
}

func TestAutoMachineStop(t *testing.T) {
	j := &journal{}
	auto := NewAutoMachine(newTrafficLight(j), time.Hour)
	auto.Start(context.Background())

	auto.Tick()
	auto.Pause()
	assert.Equal(t, Paused, auto.Status())
	auto.Resume()

	auto.Stop()
	auto.Stop()

	assert.Equal(t, Stopped, auto.Status())
	assert.Equal(t, "", auto.CurrentName())
}

func TestAutoMachineDefaultInterval(t *testing.T) {
	auto := NewAutoMachine(NewMachine("x", nil), 0)
	assert.Equal(t, DefaultTickInterval, auto.interval)
}
