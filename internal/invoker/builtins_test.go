package invoker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssertHandler_PassesOnTrue(t *testing.T) {
	h := AssertHandler{}
	_, err := h.Run(context.Background(), map[string]interface{}{
		"that":  []interface{}{"{{ eq 1 1 }}"},
		"_vars": map[string]interface{}{},
	})
	require.NoError(t, err)
}

func TestAssertHandler_FailsOnFalse(t *testing.T) {
	h := AssertHandler{}
	_, err := h.Run(context.Background(), map[string]interface{}{
		"that":  "{{ eq 1 2 }}",
		"_vars": map[string]interface{}{},
	})
	require.Error(t, err)
}

func TestAssertHandler_AutoWrapsBareExpression(t *testing.T) {
	h := AssertHandler{}
	_, err := h.Run(context.Background(), map[string]interface{}{
		"that":  "eq .count 3",
		"_vars": map[string]interface{}{"count": 3},
	})
	require.NoError(t, err)
}

func TestDebugHandler_RendersVar(t *testing.T) {
	h := DebugHandler{}
	out, err := h.Run(context.Background(), map[string]interface{}{
		"var":   ".name",
		"_vars": map[string]interface{}{"name": "task"},
	})
	require.NoError(t, err)
	assert.Equal(t, false, out["changed"])
}

func TestPauseHandler_SleepsForSeconds(t *testing.T) {
	h := PauseHandler{}
	start := time.Now()
	_, err := h.Run(context.Background(), map[string]interface{}{"seconds": 0.01})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestPauseHandler_CancellableViaContext(t *testing.T) {
	h := PauseHandler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.Run(ctx, map[string]interface{}{"seconds": 10.0})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSetFactHandler_ReturnsArgsVerbatim(t *testing.T) {
	h := SetFactHandler{}
	out, err := h.Run(context.Background(), map[string]interface{}{"x": 1, "y": "z"})
	require.NoError(t, err)
	assert.Equal(t, 1, out["x"])
	assert.Equal(t, "z", out["y"])
}
