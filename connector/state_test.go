package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	t.Run("stopped to running", func(t *testing.T) {
		var m stateMachine
		require.NoError(t, m.transition(StateStopped, StateRunning))
		assert.Equal(t, StateRunning, m.current())
	})

	t.Run("running to paused and back", func(t *testing.T) {
		var m stateMachine
		require.NoError(t, m.transition(StateStopped, StateRunning))
		require.NoError(t, m.transition(StateRunning, StatePaused))
		require.NoError(t, m.transition(StatePaused, StateRunning))
	})

	t.Run("pause requires running", func(t *testing.T) {
		var m stateMachine
		assert.Error(t, m.transition(StateRunning, StatePaused))
	})

	t.Run("resume requires paused", func(t *testing.T) {
		var m stateMachine
		require.NoError(t, m.transition(StateStopped, StateRunning))
		assert.Error(t, m.transition(StatePaused, StateRunning))
	})

	t.Run("stop legal from any state", func(t *testing.T) {
		var m stateMachine
		require.NoError(t, m.transition(StateStopped, StateRunning))
		require.NoError(t, m.transition(StateRunning, StatePaused))
		assert.Equal(t, StatePaused, m.stop())
		assert.Equal(t, StateStopped, m.current())
		assert.Equal(t, StateStopped, m.stop())
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "paused", StatePaused.String())
	assert.Equal(t, "unknown", State(9).String())
}
