package training

import (
	"fmt"
)

// State is the stage a training run is in.
type State int8

const (
	Idle State = iota
	Training
	Validating
	Checkpointing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Training:
		return "training"
	case Validating:
		return "validating"
	case Checkpointing:
		return "checkpointing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}

	return fmt.Sprintf("State(%d)", int8(s))
}

// next lists the states each state may move to. Any state but Done may fail.
var next = map[State][]State{
	Idle:          {Training},
	Training:      {Validating},
	Validating:    {Checkpointing},
	Checkpointing: {Training, Done},
}

// TransitionError is returned for a move between states that is not allowed.
type TransitionError struct {
	From, To State
}

func (err TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %v to %v", err.From, err.To)
}

// Machine tracks the State of a run and the epoch it is on.
type Machine struct {
	state State
	epoch int

	// OnChange, if not nil, is called after every transition
	OnChange func(from, to State, epoch int)
}

// State returns the current State.
func (m *Machine) State() State {
	return m.state
}

// Epoch returns the current epoch, counting from 1. It is 0 before training starts.
func (m *Machine) Epoch() int {
	return m.epoch
}

// To moves to a new State. Moving from Checkpointing (or Idle) to Training starts the next
// epoch.
func (m *Machine) To(s State) error {
	ok := s == Failed && m.state != Done && m.state != Failed
	for _, n := range next[m.state] {
		if n == s {
			ok = true
		}
	}

	if !ok {
		return TransitionError{m.state, s}
	}

	from := m.state
	m.state = s
	if s == Training {
		m.epoch++
	}

	if m.OnChange != nil {
		m.OnChange(from, s, m.epoch)
	}
	return nil
}
