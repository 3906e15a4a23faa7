package connector

import (
	"fmt"
	"sync"
)

// State is the receiver lifecycle state. Transitions are restricted to
// Stopped→Running, Running↔Paused and Running/Paused→Stopped, and are owned
// exclusively by the Connector.
type State int

const (
	StateStopped State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	}
	return "unknown"
}

type stateMachine struct {
	mu    sync.RWMutex
	state State
}

func (m *stateMachine) current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *stateMachine) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("connector: illegal transition %s -> %s (currently %s)", from, to, m.state)
	}
	m.state = to
	return nil
}

// stop is legal from any state and idempotent.
func (m *stateMachine) stop() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = StateStopped
	return prev
}
