package invoker

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/goneri/taskweave/internal/taskerr"
	"github.com/goneri/taskweave/internal/templating"
)

// SetFactHandler implements the set_fact in-process module: it returns
// its arguments unchanged as the fact values. It does no rendering; values
// reach it already rendered, or are returned as given.
type SetFactHandler struct{}

func (SetFactHandler) Run(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out, nil
}

// AssertHandler implements the assert in-process module. Each entry in
// "that" is auto-wrapped in "{{ }}" if it is not already a template,
// rendered, and must render to a literal "true"; the first false entry
// short-circuits the whole assertion with the failing condition's text.
type AssertHandler struct{}

func (AssertHandler) Run(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	thatRaw, ok := args["that"]
	if !ok {
		return nil, fmt.Errorf("assert requires a %q argument", "that")
	}

	conditions, err := toStringSlice(thatRaw)
	if err != nil {
		return nil, fmt.Errorf("assert %q: %w", "that", err)
	}

	vars, _ := args["_vars"].(map[string]interface{})

	for _, cond := range conditions {
		wrapped := cond
		if !templating.IsTemplate(wrapped) {
			wrapped = "{{ " + wrapped + " }}"
		}
		rendered, err := templating.Render(wrapped, vars)
		if err != nil {
			return nil, fmt.Errorf("assert condition %q: %w", cond, err)
		}
		if rendered != "true" {
			return nil, taskerr.New(taskerr.ErrAssertionFailed, "", "", cond)
		}
	}
	return map[string]interface{}{"changed": false}, nil
}

// DebugHandler implements the debug in-process module: "var" is
// auto-wrapped in "{{ }}" if needed, rendered, and logged. "msg" is
// rendered only if it already contains a template, then logged.
type DebugHandler struct {
	Logger arbor.ILogger
}

func (h DebugHandler) Run(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	varRaw, ok := args["var"]
	if !ok {
		if msg, ok := args["msg"].(string); ok {
			if templating.IsTemplate(msg) {
				vars, _ := args["_vars"].(map[string]interface{})
				rendered, err := templating.Render(msg, vars)
				if err != nil {
					return nil, fmt.Errorf("debug msg %q: %w", msg, err)
				}
				msg = rendered
			}
			h.log(msg)
			return map[string]interface{}{"changed": false}, nil
		}
		return nil, fmt.Errorf("debug requires a %q or %q argument", "var", "msg")
	}

	expr, ok := varRaw.(string)
	if !ok {
		return nil, fmt.Errorf("debug %q must be a string", "var")
	}

	vars, _ := args["_vars"].(map[string]interface{})
	wrapped := expr
	if !templating.IsTemplate(wrapped) {
		wrapped = "{{ " + wrapped + " }}"
	}
	rendered, err := templating.Render(wrapped, vars)
	if err != nil {
		return nil, fmt.Errorf("debug var %q: %w", expr, err)
	}
	h.log(rendered)
	return map[string]interface{}{"changed": false}, nil
}

func (h DebugHandler) log(msg string) {
	if h.Logger != nil {
		h.Logger.Info().Str("module", "debug").Msg(msg)
	}
}

// PauseHandler implements the pause in-process module: sleeps
// seconds + 60*minutes, cancellable via ctx.
type PauseHandler struct{}

func (PauseHandler) Run(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	seconds := toFloat(args["seconds"])
	minutes := toFloat(args["minutes"])
	d := time.Duration(seconds*float64(time.Second)) + time.Duration(minutes*60*float64(time.Second))

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return map[string]interface{}{"changed": false}, nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toStringSlice(v interface{}) ([]string, error) {
	switch vals := v.(type) {
	case string:
		return []string{vals}, nil
	case []interface{}:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected a string entry, got %T", item)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return vals, nil
	default:
		return nil, fmt.Errorf("expected a string or list of strings, got %T", v)
	}
}
