package playbook

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/goneri/taskweave/internal/taskerr"
)

// Parse reads a playbook document (a YAML sequence of playbooks) from r.
func Parse(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read playbook: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse playbook: %w", err)
	}
	return doc, nil
}

// ParseTasksFile parses a single task list, the shape an include_tasks
// target file carries (a bare sequence of tasks, no playbook wrapper).
func ParseTasksFile(r io.Reader) ([]*Task, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read tasks file: %w", err)
	}

	var tasks []*Task
	if err := yaml.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("parse tasks file: %w", err)
	}
	return tasks, nil
}

// inlineKVArgs matches the rejected "foo: a=b c=d" shorthand: one or more
// whitespace-separated key=value tokens and nothing else.
var inlineKVArgs = regexp.MustCompile(`^\s*\S+=\S+(\s+\S+=\S+)*\s*$`)

// UnmarshalYAML lifts the closed set of control keywords out of the raw
// task mapping; the single remaining key names the module, and its value
// becomes Args.
func (t *Task) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return err
	}

	var moduleKey string
	var moduleNode *yaml.Node

	for key := range raw {
		valueNode := raw[key]
		if !ControlKeywords[key] {
			if moduleKey != "" {
				return taskerr.New(taskerr.ErrMalformedTask, "", "", fmt.Sprintf("task has two candidate module keys: %q and %q", moduleKey, key))
			}
			moduleKey = key
			moduleNode = &valueNode
			continue
		}

		var err error
		switch key {
		case "name":
			err = valueNode.Decode(&t.Name)
		case "register":
			err = valueNode.Decode(&t.Register)
		case "delegate_to":
			err = valueNode.Decode(&t.DelegateTo)
		case "retries":
			err = valueNode.Decode(&t.Retries)
		case "delay":
			err = valueNode.Decode(&t.Delay)
		case "until":
			err = valueNode.Decode(&t.Until)
		case "with_items":
			err = valueNode.Decode(&t.Loop)
			t.LoopKeyUsed = "with_items"
		case "loop":
			err = valueNode.Decode(&t.Loop)
			t.LoopKeyUsed = "loop"
		case "loop_control":
			err = valueNode.Decode(&t.LoopControl)
		case "ignore_errors":
			err = valueNode.Decode(&t.IgnoreErrors)
		case "when":
			err = valueNode.Decode(&t.When)
		case "vars":
			err = valueNode.Decode(&t.Vars)
		case "no_log":
			err = valueNode.Decode(&t.NoLog)
		case "block":
			err = valueNode.Decode(&t.Block)
		}
		if err != nil {
			return fmt.Errorf("task key %q: %w", key, err)
		}
	}

	if t.Vars == nil {
		t.Vars = map[string]interface{}{}
	}

	if len(t.Block) > 0 {
		// A block task carries no module; its children are the work.
		return nil
	}

	if moduleKey == "" {
		return taskerr.New(taskerr.ErrMalformedTask, "", t.Name, "task has no module key and no block")
	}
	t.Module = moduleKey

	args, err := decodeArgs(moduleNode)
	if err != nil {
		return fmt.Errorf("module %q: %w", moduleKey, err)
	}
	t.Args = args

	return nil
}

// decodeArgs turns the module's raw YAML value into an args mapping. A
// mapping decodes directly. A bare string is accepted as a single implicit
// "_raw" argument (the free-form shorthand real modules like "command"
// use) UNLESS it is the rejected "key=value key=value" inline form, which
// cannot be reliably round-tripped through templated dispatch (spec §7).
func decodeArgs(node *yaml.Node) (map[string]interface{}, error) {
	if node == nil || node.Kind == 0 {
		return map[string]interface{}{}, nil
	}

	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return nil, err
		}
		if s == "" {
			return map[string]interface{}{}, nil
		}
		if inlineKVArgs.MatchString(s) && strings.Contains(s, "=") {
			return nil, taskerr.New(taskerr.ErrMalformedTask, "", "", fmt.Sprintf("inline key=value argument string is not supported: %q", s))
		}
		return map[string]interface{}{"_raw": s}, nil
	}

	var args map[string]interface{}
	if err := node.Decode(&args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}
