package task

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestTaskLifecycle(t *testing.T) {
	tk := newTask(1, TypeUpdateDeployment, "deploy", "tester", "dep")
	assert.Equal(t, StateQueued, tk.State())

	assert.True(t, tk.begin())
	assert.Equal(t, StateProcessing, tk.State())

	// beginning twice is not a reachable transition
	assert.False(t, tk.begin())

	tk.finish(nil, false)
	assert.Equal(t, StateDone, tk.State())
}

func TestTaskError(t *testing.T) {
	tk := newTask(2, TypeUpdateDeployment, "deploy", "tester", "dep")
	tk.begin()
	tk.finish(errors.New("boom"), false)
	assert.Equal(t, StateError, tk.State())
	assert.Equal(t, "boom", tk.Result())
}

func TestTaskCancelWhileQueued(t *testing.T) {
	tk := newTask(3, TypeUpdateDeployment, "deploy", "tester", "dep")
	assert.True(t, tk.requestCancel())
	assert.Equal(t, StateCancelling, tk.State())
	assert.True(t, tk.Interrupted())

	// a cancelling task never starts processing
	assert.False(t, tk.begin())

	tk.finish(nil, true)
	assert.Equal(t, StateCancelled, tk.State())
}

func TestTaskCancelWhileProcessing(t *testing.T) {
	tk := newTask(4, TypeUpdateDeployment, "deploy", "tester", "dep")
	tk.begin()
	assert.True(t, tk.requestCancel())
	assert.Equal(t, StateCancelling, tk.State())

	tk.finish(nil, true)
	assert.Equal(t, StateCancelled, tk.State())
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	tk := newTask(5, TypeUpdateDeployment, "deploy", "tester", "dep")
	tk.begin()
	tk.finish(nil, false)
	assert.Equal(t, StateDone, tk.State())

	assert.False(t, tk.requestCancel())
	assert.False(t, tk.begin())
	tk.finish(errors.New("late"), false)
	assert.Equal(t, StateDone, tk.State())
	assert.Equal(t, "", tk.Result())
}

func TestTerminal(t *testing.T) {
	for state, terminal := range map[State]bool{
		StateQueued:     false,
		StateProcessing: false,
		StateCancelling: false,
		StateDone:       true,
		StateError:      true,
		StateCancelled:  true,
	} {
		assert.Equal(t, terminal, state.Terminal(), "state %s", state)
	}
}
