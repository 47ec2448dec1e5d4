package environment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayeredPrecedence(t *testing.T) {
	env := NewLayered(
		map[string]interface{}{"a": "extra", "b": "extra"},
		map[string]interface{}{"b": "playbook", "c": "playbook"},
		map[string]interface{}{"c": "task"},
	)

	snap := env.Snapshot()
	assert.Equal(t, "extra", snap["a"])
	assert.Equal(t, "playbook", snap["b"])
	assert.Equal(t, "task", snap["c"])
}

func TestChildDoesNotMutateParent(t *testing.T) {
	parent := New(map[string]interface{}{"x": 1})
	child := parent.Child()
	child.Set("x", 2)

	slot, ok := parent.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, 1, slot.Value())

	childSlot, ok := child.Lookup("x")
	require.True(t, ok)
	assert.Equal(t, 2, childSlot.Value())
}

func TestPendingSlotResolution(t *testing.T) {
	env := New(nil)
	future := NewFuture()
	env.SetPending("result", future)

	slot, ok := env.Lookup("result")
	require.True(t, ok)
	assert.False(t, slot.IsReady())

	done := make(chan struct{})
	go func() {
		<-slot.Future().Done()
		close(done)
	}()

	future.Resolve("value", nil)
	<-done

	value, err := slot.Future().Value()
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestSnapshotOmitsPendingSlots(t *testing.T) {
	env := New(nil)
	env.SetPending("in_flight", NewFuture())
	env.Set("ready", "yes")

	snap := env.Snapshot()
	_, hasPending := snap["in_flight"]
	assert.False(t, hasPending)
	assert.Equal(t, "yes", snap["ready"])
}

func TestFutureResolveTwicePanics(t *testing.T) {
	future := NewFuture()
	future.Resolve("a", nil)
	assert.Panics(t, func() {
		future.Resolve("b", nil)
	})
}
