// Package scheduler implements the Task Scheduler (C7), the core
// orchestrator: it pops tasks off a LIFO stack, composes each task's
// layered environment, runs it through the Expander before ever trying to
// execute it, dispatches leaf tasks to coroutines that await their
// dependencies and invoke their module, wires register names back into
// the playbook's variable scope, and joins every spawned coroutine before
// a playbook is considered finished (spec §4, §5, §6).
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/goneri/taskweave/internal/common"
	"github.com/goneri/taskweave/internal/environment"
	"github.com/goneri/taskweave/internal/expander"
	"github.com/goneri/taskweave/internal/invoker"
	"github.com/goneri/taskweave/internal/playbook"
	"github.com/goneri/taskweave/internal/taskerr"
	"github.com/goneri/taskweave/internal/templating"
	"github.com/goneri/taskweave/internal/waiter"
)

// includeTasksModule is the control-flow module name the Expander resolves
// itself, ahead of the generic dispatch table.
const (
	includeTasksModule = "include_tasks"
	setFactModule      = "set_fact"
)

// Scheduler runs playbooks against a configured Invoker.
type Scheduler struct {
	logger  arbor.ILogger
	invoker *invoker.Invoker
	loader  expander.IncludeTasksLoader

	mu       sync.Mutex
	firstErr error
	wg       sync.WaitGroup
}

// New returns a Scheduler. loader may be nil if the playbook set never
// uses include_tasks.
func New(logger arbor.ILogger, inv *invoker.Invoker, loader expander.IncludeTasksLoader) *Scheduler {
	return &Scheduler{logger: logger, invoker: inv, loader: loader}
}

// Run executes every playbook in doc in order, against a shared extraVars
// layer. It returns the first task failure encountered that was not
// marked ignore_errors, after every in-flight coroutine has joined.
func (s *Scheduler) Run(ctx context.Context, doc playbook.Document, extraVars map[string]interface{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, pb := range doc {
		if err := s.runPlaybook(ctx, cancel, pb, extraVars); err != nil {
			return fmt.Errorf("playbook %d: %w", i, err)
		}
	}
	return nil
}

func (s *Scheduler) runPlaybook(ctx context.Context, cancel context.CancelFunc, pb playbook.Playbook, extraVars map[string]interface{}) error {
	s.firstErr = nil

	base := environment.New(extraVars)
	pbLayer := base.Child()
	for k, v := range pb.Vars {
		pbLayer.Set(k, v)
	}
	registerLayer := pbLayer.Child()

	stack := make([]*playbook.Task, len(pb.Tasks))
	copy(stack, pb.Tasks)

	for len(stack) > 0 {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.firstErr != nil {
				return s.firstErr
			}
			return ctx.Err()
		default:
		}

		task := stack[0]
		stack = stack[1:]
		task.RunID = uuid.NewString()

		if task.IsBlock() {
			children := expander.FlattenBlock(task)
			stack = append(children, stack...)
			continue
		}

		taskEnv := registerLayer.Child()
		for k, v := range task.Vars {
			taskEnv.Set(k, v)
		}

		proceed, err := s.evaluateWhen(ctx, task, taskEnv)
		if err != nil {
			s.recordFailure(cancel, err)
			break
		}
		if !proceed {
			s.logger.Debug().Str("task", task.DisplayName()).Msg("task skipped: when condition is false")
			if task.Register != "" {
				registerLayer.Set(task.Register, map[string]interface{}{"skipped": true})
			}
			continue
		}

		if task.Loop != nil {
			expanded, err := s.expandLoop(ctx, task, taskEnv)
			if err != nil {
				s.recordFailure(cancel, err)
				break
			}
			if len(expanded) == 0 && task.Register != "" {
				registerLayer.Set(task.Register, map[string]interface{}{"skipped": true})
			}
			stack = append(expanded, stack...)
			continue
		}

		if task.Module == includeTasksModule {
			included, err := s.expandInclude(ctx, task, taskEnv)
			if err != nil {
				s.recordFailure(cancel, err)
				break
			}
			stack = append(included, stack...)
			continue
		}

		if task.Module == setFactModule {
			s.dispatchSetFact(ctx, task, taskEnv, registerLayer, cancel)
			continue
		}

		var registerFuture *environment.Future
		if task.Register != "" {
			registerFuture = environment.NewFuture()
			registerLayer.SetPending(task.Register, registerFuture)
		}

		// SafeGo always runs fn and therefore always reaches the wg.Done()
		// in its defer, even if ctx is already cancelled - runLeaf and
		// everything it calls already respects ctx on its own.
		s.wg.Add(1)
		common.SafeGo(s.logger, task.DisplayName(), func() {
			defer s.wg.Done()
			s.runLeaf(ctx, task, taskEnv, registerLayer, registerFuture, cancel)
		}, func(recovered interface{}) {
			if registerFuture != nil {
				registerFuture.Resolve(nil, fmt.Errorf("panic: %v", recovered))
			}
			s.recordFailure(cancel, taskerr.New(taskerr.ErrModuleFailed, task.RunID, task.DisplayName(), fmt.Sprintf("panic: %v", recovered)))
		})
	}

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// evaluateWhen awaits and renders a task's when-guard, defaulting to true
// when none is set. A bare expression (no "{{ }}") is wrapped the same way
// assert/debug wrap theirs.
func (s *Scheduler) evaluateWhen(ctx context.Context, task *playbook.Task, env *environment.Env) (bool, error) {
	if task.When == "" {
		return true, nil
	}
	wrapped := task.When
	if !templating.IsTemplate(wrapped) {
		wrapped = "{{ " + wrapped + " }}"
	}
	rendered, err := waiter.RenderAll(ctx, task.RunID, task.DisplayName(), []string{wrapped}, env)
	if err != nil {
		return false, err
	}
	return rendered[0] == "true", nil
}

func (s *Scheduler) expandLoop(ctx context.Context, task *playbook.Task, env *environment.Env) ([]*playbook.Task, error) {
	if loopTpl, ok := task.Loop.(string); ok {
		if err := waiter.Await(ctx, task.RunID, task.DisplayName(), []string{loopTpl}, env); err != nil {
			return nil, err
		}
	}
	items, err := expander.Items(task, env.Snapshot())
	if err != nil {
		return nil, err
	}
	return expander.ExpandLoop(task, items)
}

func (s *Scheduler) expandInclude(ctx context.Context, task *playbook.Task, env *environment.Env) ([]*playbook.Task, error) {
	tpls := templating.CollectStrings(task.Args)
	if err := waiter.Await(ctx, task.RunID, task.DisplayName(), tpls, env); err != nil {
		return nil, err
	}
	rendered, err := renderArgs(task.Args, env.Snapshot())
	if err != nil {
		return nil, err
	}
	if s.loader == nil {
		return nil, taskerr.New(taskerr.ErrModuleFailed, task.RunID, task.DisplayName(), "include_tasks used but no task loader configured")
	}
	argTask := *task
	argTask.Args = rendered
	return expander.ExpandIncludeTasks(&argTask, s.loader)
}

// dispatchSetFact implements set_fact's per-key fan-out: each k: v pair
// gets its own pending slot in the playbook's register scope, driven by a
// coroutine that waits for v's own dependencies and renders it, independent
// of every other key in the same task (spec §4.5/§4.7). If the task also
// carries a register name, the combined result is published under that name
// once every key has resolved, matching the generic register rule every
// other module follows.
func (s *Scheduler) dispatchSetFact(ctx context.Context, task *playbook.Task, env *environment.Env, registerLayer *environment.Env, cancel context.CancelFunc) {
	keyFutures := make(map[string]*environment.Future, len(task.Args))
	for k := range task.Args {
		f := environment.NewFuture()
		registerLayer.SetPending(k, f)
		keyFutures[k] = f
	}

	var registerFuture *environment.Future
	if task.Register != "" {
		registerFuture = environment.NewFuture()
		registerLayer.SetPending(task.Register, registerFuture)
	}

	s.wg.Add(1)
	common.SafeGo(s.logger, task.DisplayName(), func() {
		defer s.wg.Done()

		var mu sync.Mutex
		result := make(map[string]interface{}, len(task.Args))

		var inner sync.WaitGroup
		for k, v := range task.Args {
			inner.Add(1)
			go func(k string, v interface{}) {
				defer inner.Done()
				rendered, err := s.resolveFactValue(ctx, task, env, v)
				if err != nil {
					keyFutures[k].Resolve(nil, err)
					if !task.IgnoreErrors {
						s.recordFailure(cancel, err)
					}
					return
				}
				registerLayer.Set(k, rendered)
				keyFutures[k].Resolve(rendered, nil)
				mu.Lock()
				result[k] = rendered
				mu.Unlock()
			}(k, v)
		}
		inner.Wait()

		if registerFuture != nil {
			registerLayer.Set(task.Register, result)
			registerFuture.Resolve(result, nil)
		}
	}, func(recovered interface{}) {
		err := taskerr.New(taskerr.ErrModuleFailed, task.RunID, task.DisplayName(), fmt.Sprintf("panic: %v", recovered))
		for _, f := range keyFutures {
			f.Resolve(nil, err)
		}
		if registerFuture != nil {
			registerFuture.Resolve(nil, err)
		}
		s.recordFailure(cancel, err)
	})
}

// resolveFactValue waits for v's own template dependencies, then renders it,
// preserving v's type when it is a bare variable reference or a non-string
// literal (a fact need not be a string).
func (s *Scheduler) resolveFactValue(ctx context.Context, task *playbook.Task, env *environment.Env, v interface{}) (interface{}, error) {
	tpls := templating.CollectStrings(v)
	if len(tpls) > 0 {
		if err := waiter.Await(ctx, task.RunID, task.DisplayName(), tpls, env); err != nil {
			return nil, err
		}
	}
	return renderValue(v, env.Snapshot())
}

// runLeaf awaits a leaf task's argument dependencies, invokes its module
// exactly once, and wires its register output back into the playbook's
// variable scope. retries/delay/until are recognized task fields but are
// not acted upon here, matching the runner's documented scope.
func (s *Scheduler) runLeaf(ctx context.Context, task *playbook.Task, env *environment.Env, registerLayer *environment.Env, registerFuture *environment.Future, cancel context.CancelFunc) {
	result, err := s.invokeOnce(ctx, task, env)
	if err != nil {
		if registerFuture != nil {
			registerFuture.Resolve(nil, err)
		}
		if !task.IgnoreErrors {
			s.recordFailure(cancel, err)
		} else {
			s.logger.Warn().Str("task", task.DisplayName()).Err(err).Msg("task failed, ignore_errors is set")
		}
		return
	}

	if task.Register != "" {
		registerLayer.Set(task.Register, result)
		registerFuture.Resolve(result, nil)
	}
}

func (s *Scheduler) invokeOnce(ctx context.Context, task *playbook.Task, env *environment.Env) (map[string]interface{}, error) {
	if task.Module == "assert" || task.Module == "debug" {
		args := make(map[string]interface{}, len(task.Args)+1)
		for k, v := range task.Args {
			args[k] = v
		}
		// The bare-string shorthand ("assert: cond", "debug: expr")
		// decodes to a single "_raw" argument (see playbook.decodeArgs);
		// remap it to the keyword the in-process handler expects.
		if raw, ok := args["_raw"]; ok {
			delete(args, "_raw")
			if task.Module == "assert" {
				args["that"] = raw
			} else {
				args["var"] = raw
			}
		}
		// The handler auto-wraps bare expressions itself, but the
		// scheduler still has to wait for their dependencies first -
		// otherwise a reference to a still-pending register name would
		// render as undefined instead of suspending.
		tpls := autoWrapTemplates(task.Module, args)
		if err := waiter.Await(ctx, task.RunID, task.DisplayName(), tpls, env); err != nil {
			return nil, err
		}
		args["_vars"] = env.Snapshot()
		return s.invoker.Invoke(ctx, task.RunID, task.DisplayName(), task.Module, args)
	}

	tpls := templating.CollectStrings(task.Args)
	if err := waiter.Await(ctx, task.RunID, task.DisplayName(), tpls, env); err != nil {
		return nil, err
	}
	args, err := renderArgs(task.Args, env.Snapshot())
	if err != nil {
		return nil, taskerr.Wrap(taskerr.ErrTemplateRender, task.RunID, task.DisplayName(), "", err)
	}
	return s.invoker.Invoke(ctx, task.RunID, task.DisplayName(), task.Module, args)
}

// autoWrapTemplates mirrors the in-process assert/debug handlers' own
// bare-expression wrapping so the scheduler can discover which variables
// they depend on before invoking them, without duplicating their render
// logic.
func autoWrapTemplates(module string, args map[string]interface{}) []string {
	var exprs []string
	switch module {
	case "assert":
		exprs = stringsOf(args["that"])
	case "debug":
		if v, ok := args["var"].(string); ok {
			exprs = append(exprs, v)
		} else if v, ok := args["msg"].(string); ok && templating.IsTemplate(v) {
			// msg is never auto-wrapped; plain text has no dependencies.
			exprs = append(exprs, v)
		}
	}

	out := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if templating.IsTemplate(e) {
			out = append(out, e)
		} else {
			out = append(out, "{{ "+e+" }}")
		}
	}
	return out
}

func stringsOf(v interface{}) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return val
	default:
		return nil
	}
}

func (s *Scheduler) recordFailure(cancel context.CancelFunc, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstErr == nil {
		s.firstErr = err
		cancel()
	}
}

// renderArgs renders every templated string leaf of args against vars,
// leaving non-string and non-template values untouched.
func renderArgs(args map[string]interface{}, vars map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		rendered, err := renderValue(v, vars)
		if err != nil {
			return nil, err
		}
		out[k] = rendered
	}
	return out, nil
}

func renderValue(v interface{}, vars map[string]interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		if !templating.IsTemplate(val) {
			return val, nil
		}
		return templating.ResolveValue(val, vars)
	case map[string]interface{}:
		return renderArgs(val, vars)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			rendered, err := renderValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}
