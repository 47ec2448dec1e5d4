package playbook

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// taskValidation is the flat shape validator/v10 checks structural
// constraints against; Task itself carries no struct tags because its
// fields are populated by UnmarshalYAML, not by a direct decode.
type taskValidation struct {
	Module  string `validate:"required_without=IsBlock"`
	IsBlock bool
	Retries int `validate:"gte=0"`
	Delay   int `validate:"gte=0"`
}

// Validate checks one task's structural invariants: a task is either a
// block or names a module, and retries/delay are non-negative. It recurses
// into Block children.
func (t *Task) Validate() error {
	tv := taskValidation{
		Module:  t.Module,
		IsBlock: t.IsBlock(),
		Retries: t.Retries,
		Delay:   t.Delay,
	}
	if err := validate.Struct(tv); err != nil {
		return fmt.Errorf("task %q: %w", t.DisplayName(), err)
	}

	for _, child := range t.Block {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every task of every playbook in the document.
func (d Document) Validate() error {
	for i := range d {
		for _, task := range d[i].Tasks {
			if err := task.Validate(); err != nil {
				return fmt.Errorf("playbook %d: %w", i, err)
			}
		}
	}
	return nil
}
