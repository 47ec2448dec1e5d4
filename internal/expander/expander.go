// Package expander implements the Task Expander (C6): three ordered,
// idempotent rewrites applied to a task popped off the scheduler's stack -
// loop/with_items expansion, block flattening, and include_tasks
// expansion - whose output is pushed back onto the stack in place of the
// original task (spec §4, §6).
package expander

import (
	"fmt"

	"github.com/mitchellh/copystructure"

	"github.com/goneri/taskweave/internal/playbook"
	"github.com/goneri/taskweave/internal/taskerr"
	"github.com/goneri/taskweave/internal/templating"
)

// Items resolves a task's loop/with_items expression against a snapshot of
// already-rendered variables into a concrete sequence. The expander itself
// does not wait on undefined variables - by the time a task is expanded,
// the scheduler has already run the Dependency Waiter over its loop
// expression.
func Items(task *playbook.Task, vars map[string]interface{}) ([]interface{}, error) {
	switch v := task.Loop.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return v, nil
	case string:
		resolved, err := templating.ResolveValue(v, vars)
		if err != nil {
			return nil, taskerr.Wrap(taskerr.ErrLoopKind, task.RunID, task.DisplayName(), v, err)
		}
		items, ok := resolved.([]interface{})
		if !ok {
			return nil, taskerr.New(taskerr.ErrLoopKind, task.RunID, task.DisplayName(),
				fmt.Sprintf("loop expression %q resolved to %T, expected a sequence", v, resolved))
		}
		return items, nil
	default:
		return nil, taskerr.New(taskerr.ErrLoopKind, task.RunID, task.DisplayName(),
			fmt.Sprintf("loop expression has unsupported type %T", v))
	}
}

// ExpandLoop clones task once per item, injecting the loop variable
// (task.LoopVarName(), default "item") into each clone's Vars. Each clone
// gets its own deep copy of the parent Vars so that mutating one clone's
// scope - e.g. a nested set_fact - can never bleed into a sibling
// iteration's view, the documented bug this rewrite exists to avoid.
func ExpandLoop(task *playbook.Task, items []interface{}) ([]*playbook.Task, error) {
	clones := make([]*playbook.Task, 0, len(items))
	for i, item := range items {
		clone, err := cloneTask(task)
		if err != nil {
			return nil, fmt.Errorf("clone task %q for loop item %d: %w", task.DisplayName(), i, err)
		}
		clone.Loop = nil
		clone.LoopKeyUsed = ""
		clone.Vars[clone.LoopVarName()] = item
		clones = append(clones, clone)
	}
	return clones, nil
}

// FlattenBlock returns a block task's children, each stamped with the
// block's own vars/when/ignore_errors inherited down as defaults the child
// does not already set. The block's register is not passed down.
func FlattenBlock(block *playbook.Task) []*playbook.Task {
	children := make([]*playbook.Task, 0, len(block.Block))
	for _, child := range block.Block {
		merged := *child
		if merged.Vars == nil {
			merged.Vars = map[string]interface{}{}
		}
		for k, v := range block.Vars {
			if _, ok := merged.Vars[k]; !ok {
				merged.Vars[k] = v
			}
		}
		if merged.When == "" {
			merged.When = block.When
		}
		if !merged.IgnoreErrors {
			merged.IgnoreErrors = block.IgnoreErrors
		}
		children = append(children, &merged)
	}
	return children
}

// IncludeTasksLoader resolves an include_tasks target name (a file path in
// the real CLI, a registered fixture in tests) into its task list.
type IncludeTasksLoader func(name string) ([]*playbook.Task, error)

// ExpandIncludeTasks loads the task list an include_tasks module names and
// returns it, ready to be pushed in place of the include_tasks task
// itself.
func ExpandIncludeTasks(task *playbook.Task, load IncludeTasksLoader) ([]*playbook.Task, error) {
	nameRaw, ok := task.Args["_raw"]
	if !ok {
		nameRaw, ok = task.Args["file"]
	}
	name, isStr := nameRaw.(string)
	if !ok || !isStr || name == "" {
		return nil, taskerr.New(taskerr.ErrMalformedTask, task.RunID, task.DisplayName(), "include_tasks requires a file name argument")
	}

	tasks, err := load(name)
	if err != nil {
		return nil, fmt.Errorf("include_tasks %q: %w", name, err)
	}
	return tasks, nil
}

func cloneTask(task *playbook.Task) (*playbook.Task, error) {
	copiedVars, err := copystructure.Copy(task.Vars)
	if err != nil {
		return nil, err
	}
	clone := *task
	varsMap, _ := copiedVars.(map[string]interface{})
	if varsMap == nil {
		varsMap = map[string]interface{}{}
	}
	clone.Vars = varsMap
	return &clone, nil
}
