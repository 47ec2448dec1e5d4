// Package invoker implements the Module Invoker (C5): dispatching a
// resolved task to either an in-process Handler (set_fact, assert, debug,
// pause) or the generic module-runner subprocess protocol.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/goneri/taskweave/internal/common"
	"github.com/goneri/taskweave/internal/taskerr"
)

// Handler runs an in-process module against its arguments and returns the
// fact values it registers, if any. The scheduler renders arguments before
// calling most handlers; assert and debug instead receive their raw
// arguments plus a "_vars" snapshot and render them themselves.
type Handler interface {
	Run(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

func (f HandlerFunc) Run(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return f(ctx, args)
}

// Invoker dispatches modules either to a registered in-process Handler or
// to the external module-runner executable.
type Invoker struct {
	cfg      common.RunnerConfig
	logger   arbor.ILogger
	handlers map[string]Handler
}

// New returns an Invoker with no in-process handlers registered; callers
// add them with Register.
func New(cfg common.RunnerConfig, logger arbor.ILogger) *Invoker {
	return &Invoker{cfg: cfg, logger: logger, handlers: map[string]Handler{}}
}

// Register binds an in-process Handler to a module name, taking it out of
// the generic subprocess path.
func (inv *Invoker) Register(module string, h Handler) {
	inv.handlers[module] = h
}

// Invoke runs module with the given rendered args, returning whatever
// values it registers (the map set_fact/a subprocess module's output
// produces). taskID/taskName are carried only for error context.
func (inv *Invoker) Invoke(ctx context.Context, taskID, taskName, module string, args map[string]interface{}) (map[string]interface{}, error) {
	if h, ok := inv.handlers[module]; ok {
		out, err := h.Run(ctx, args)
		if err != nil {
			// A handler that already classified its own failure (assert's
			// ErrAssertionFailed, say) keeps that kind and detail instead
			// of being flattened into the generic module-failure wrap; the
			// caller's taskID/taskName still win since the handler itself
			// has no run-id to stamp.
			if te, ok := err.(*taskerr.TaskError); ok {
				return nil, taskerr.New(te.Kind, taskID, taskName, te.Detail)
			}
			return nil, taskerr.Wrap(taskerr.ErrModuleFailed, taskID, taskName, module, err)
		}
		return out, nil
	}
	return inv.invokeSubprocess(ctx, taskID, taskName, module, args)
}

// invokeSubprocess runs the module-runner executable and parses the
// "<header> => <JSON>" line it prints to stdout, e.g.
//
//	command => {"rc": 0, "stdout": "...", "stderr": ""}
func (inv *Invoker) invokeSubprocess(ctx context.Context, taskID, taskName, module string, args map[string]interface{}) (map[string]interface{}, error) {
	extraVarsPath, err := inv.writeExtraVars(taskID, args)
	if err != nil {
		return nil, taskerr.Wrap(taskerr.ErrModuleFailed, taskID, taskName, module, err)
	}
	defer os.Remove(extraVarsPath)

	cmd := exec.CommandContext(ctx, inv.cfg.ModuleRunner,
		"--module", module,
		"--target", inv.cfg.Target,
		"--extra-vars", extraVarsPath,
	)
	cmd.Stderr = nil // the protocol defines stdout as the only channel that matters

	out, err := cmd.Output()
	if err != nil {
		return nil, taskerr.Wrap(taskerr.ErrModuleFailed, taskID, taskName, module, err)
	}

	result, err := parseRunnerOutput(module, out)
	if err != nil {
		return nil, taskerr.Wrap(taskerr.ErrSubprocessParse, taskID, taskName, module, err)
	}
	return result, nil
}

func (inv *Invoker) writeExtraVars(taskID string, args map[string]interface{}) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("marshal extra-vars: %w", err)
	}

	dir := inv.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	f, err := os.CreateTemp(dir, fmt.Sprintf("taskweave-%s-*.json", taskID))
	if err != nil {
		return "", fmt.Errorf("create extra-vars file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("write extra-vars file: %w", err)
	}
	return f.Name(), nil
}

// parseRunnerOutput parses the single "<header> => <JSON>" line a
// module-runner invocation prints to stdout once it has fully exited, per
// the subprocess protocol: stdout is read to completion before the exit
// status is inspected, and exactly one line is expected back.
func parseRunnerOutput(module string, out []byte) (map[string]interface{}, error) {
	line := strings.TrimSpace(string(out))
	if line == "" {
		return nil, fmt.Errorf("module %q produced no output", module)
	}

	idx := strings.Index(line, "=>")
	if idx < 0 {
		return nil, fmt.Errorf("module %q output missing '=>' separator: %q", module, line)
	}

	jsonPart := strings.TrimSpace(line[idx+2:])
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(jsonPart), &result); err != nil {
		return nil, fmt.Errorf("module %q output is not valid JSON: %w", module, err)
	}
	return result, nil
}
