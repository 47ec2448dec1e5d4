// Package waiter implements the Dependency Waiter (C4): it drives the
// Template Probe against a task's argument templates, and whenever the
// probe reports a missing name, awaits that name's slot becoming Ready -
// cooperatively yielding to the scheduler goroutine rather than busy
// spinning - before probing again. A name the environment has never heard
// of at all is a fatal undefined-variable error, not something to wait on.
package waiter

import (
	"context"
	"fmt"
	"runtime"

	"github.com/goneri/taskweave/internal/environment"
	"github.com/goneri/taskweave/internal/taskerr"
	"github.com/goneri/taskweave/internal/templating"
)

// Await blocks until every template in tpls can resolve every variable it
// references against env, or returns an error: ctx.Err() on cancellation,
// or an *taskerr.TaskError wrapping ErrUndefinedVariable if a referenced
// name is bound nowhere in env's scope chain.
func Await(ctx context.Context, taskID, taskName string, tpls []string, env *environment.Env) error {
	for _, tpl := range tpls {
		if err := awaitOne(ctx, taskID, taskName, tpl, env); err != nil {
			return err
		}
	}
	return nil
}

func awaitOne(ctx context.Context, taskID, taskName, tpl string, env *environment.Env) error {
	for {
		result, err := templating.Probe(tpl, env.Snapshot())
		if err != nil {
			return taskerr.Wrap(taskerr.ErrTemplateRender, taskID, taskName, tpl, err)
		}
		if !result.Missing {
			return nil
		}

		slot, ok := env.Lookup(result.MissingKey)
		if !ok {
			return taskerr.New(taskerr.ErrUndefinedVariable, taskID, taskName,
				fmt.Sprintf("variable %q is not defined", result.MissingKey))
		}
		if slot.IsReady() {
			// Ready but the probe still reported it missing means the
			// variable resolves to a type text/template's missingkey
			// check trips on (e.g. a nil interface). Nothing more will
			// become ready by re-probing, so stop here and let the
			// final Render surface whatever type error is really at play.
			return nil
		}

		future := slot.Future()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-future.Done():
		}
		if _, futErr := future.Value(); futErr != nil {
			return taskerr.Wrap(taskerr.ErrUndefinedVariable, taskID, taskName,
				fmt.Sprintf("variable %q failed to resolve", result.MissingKey), futErr)
		}
		// Yield briefly, then re-probe now that this name is ready, in case
		// the same template references more than one undefined name in
		// sequence.
		runtime.Gosched()
	}
}

// RenderAll awaits then renders every template in tpls, returning the
// rendered strings in the same order. It runs Await itself, so callers need
// not call Await first.
func RenderAll(ctx context.Context, taskID, taskName string, tpls []string, env *environment.Env) ([]string, error) {
	if err := Await(ctx, taskID, taskName, tpls, env); err != nil {
		return nil, err
	}
	out := make([]string, len(tpls))
	snap := env.Snapshot()
	for i, tpl := range tpls {
		rendered, err := templating.Render(tpl, snap)
		if err != nil {
			return nil, taskerr.Wrap(taskerr.ErrTemplateRender, taskID, taskName, tpl, err)
		}
		out[i] = rendered
	}
	return out, nil
}
