// Package playbook defines the document model for a playbook: an ordered
// sequence of tasks plus an initial vars mapping, and the recognized
// control-keyword surface of a task (spec §3, §6).
package playbook

// ControlKeywords is the closed set of recognized non-module task keys.
// The module key is whichever remaining key is not in this set.
var ControlKeywords = map[string]bool{
	"name":          true,
	"register":      true,
	"delegate_to":   true,
	"retries":       true,
	"delay":         true,
	"until":         true,
	"with_items":    true,
	"loop":          true,
	"loop_control":  true,
	"ignore_errors": true,
	"when":          true,
	"vars":          true,
	"no_log":        true,
	"block":         true,
}

// LoopControl customizes loop expansion; LoopVar defaults to "item".
type LoopControl struct {
	LoopVar string `yaml:"loop_var"`
}

// Task is a semantic record describing one unit of work. It is produced by
// UnmarshalYAML, which lifts the recognized control keywords out of the
// raw document mapping and treats the one remaining key as Module/Args.
type Task struct {
	Name         string
	Module       string
	Args         map[string]interface{}
	When         string
	Register     string
	Loop         interface{} // nil, a template string, or a literal sequence
	LoopKeyUsed  string      // "loop" or "with_items" - whichever was present
	LoopControl  LoopControl
	Block        []*Task
	Vars         map[string]interface{}
	IgnoreErrors bool
	DelegateTo   string
	NoLog        bool
	Retries      int
	Delay        int
	Until        string

	// RunID is assigned by the scheduler when the task is popped from the
	// stack; it is not part of the document.
	RunID string `yaml:"-"`
}

// IsBlock reports whether this task is a block of sub-tasks rather than a
// module invocation.
func (t *Task) IsBlock() bool {
	return t.Block != nil
}

// DisplayName returns Name if set, else the module identifier, for use in
// logs and error messages.
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	if t.Module != "" {
		return t.Module
	}
	return "block"
}

// LoopVarName returns the configured loop variable name, defaulting to "item".
func (t *Task) LoopVarName() string {
	if t.LoopControl.LoopVar != "" {
		return t.LoopControl.LoopVar
	}
	return "item"
}

// Playbook is one playbook document: an initial vars layer plus its task list.
type Playbook struct {
	Vars  map[string]interface{} `yaml:"vars"`
	Tasks []*Task                `yaml:"tasks"`
}

// Document is a sequence of playbooks, the top-level shape of a playbook file.
type Document []Playbook
