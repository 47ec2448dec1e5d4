// Package templating renders Go templates against a variable environment
// and, via Probe, discovers the single next undefined variable a template
// references - the signal the Dependency Waiter (C4) drives off of rather
// than parsing the template grammar itself (spec C1/C2).
package templating

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

// missingKeyPattern matches the text/template "missingkey=error" message
// for a map lookup: `map has no entry for key "Foo"`. Grounded on the
// gjenkins8 renderer's cleanupExecError, which splits template.ExecError
// text the same way to recover a human-readable location; here we recover
// the missing key name instead of a file location.
var missingKeyPattern = regexp.MustCompile(`map has no entry for key "([^"]+)"`)

// fieldChainPattern captures the first name of the field chain an
// ExecError reports as its location, e.g. "r1" from `at <.r1.nosuchfield>`.
var fieldChainPattern = regexp.MustCompile(`at <\.([A-Za-z_][A-Za-z0-9_]*)`)

// newEngine returns a template.Template configured with the sprig function
// library and strict missing-key errors, the same pairing the renderer
// pack example uses for its "Strict" mode.
func newEngine(name string) *template.Template {
	return template.New(name).Option("missingkey=error").Funcs(sprig.TxtFuncMap())
}

// ProbeResult is the outcome of rendering a template against the current
// environment.
type ProbeResult struct {
	// Rendered holds the output when rendering succeeded.
	Rendered string
	// MissingKey holds the name of the next undefined variable the
	// template referenced, when rendering stopped short.
	MissingKey string
	// Missing reports whether MissingKey is meaningful.
	Missing bool
}

// Probe attempts to render tpl against vars. If the template references a
// top-level variable not present in vars, it reports the missing
// variable's name instead of failing outright - the Dependency Waiter uses
// this to learn what to resolve next. A missing attribute on a top-level
// value that is present is not reported as missing: Probe returns an empty
// result with no error and leaves that failure for Render to raise. A
// genuine template syntax or other execution error is returned as err.
func Probe(tpl string, vars map[string]interface{}) (ProbeResult, error) {
	t, err := newEngine("probe").Parse(tpl)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("parse template: %w", err)
	}

	var buf strings.Builder
	if err := t.Execute(&buf, vars); err != nil {
		if key, ok := missingKey(err); ok {
			if m := fieldChainPattern.FindStringSubmatch(err.Error()); m != nil && m[1] != key {
				if _, bound := vars[m[1]]; bound {
					return ProbeResult{}, nil
				}
			}
			return ProbeResult{MissingKey: key, Missing: true}, nil
		}
		return ProbeResult{}, fmt.Errorf("render template: %w", err)
	}

	return ProbeResult{Rendered: buf.String()}, nil
}

// Render renders tpl against vars, returning an error if any variable the
// template references is undefined. Callers use this once the Dependency
// Waiter has confirmed every referenced variable is ready.
func Render(tpl string, vars map[string]interface{}) (string, error) {
	t, err := newEngine("render").Parse(tpl)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf strings.Builder
	if err := t.Execute(&buf, vars); err != nil {
		if key, ok := missingKey(err); ok {
			return "", fmt.Errorf("undefined variable %q", key)
		}
		return "", fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// IsTemplate reports whether s contains a template action, so callers can
// skip the probe/render machinery for plain literals.
func IsTemplate(s string) bool {
	return strings.Contains(s, "{{")
}

func missingKey(err error) (string, bool) {
	m := missingKeyPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return "", false
	}
	return m[1], true
}

// bareReference matches a template that is nothing but a single "{{ name
// }}" or "{{ .name }}" action - no pipeline, no other text around it.
var bareReference = regexp.MustCompile(`^\{\{\-?\s*\.?([A-Za-z_][A-Za-z0-9_]*)\s*\-?\}\}$`)

// ResolveValue evaluates tpl against vars, preserving the underlying
// type when tpl is a bare "{{ name }}" reference instead of stringifying
// it the way Render must (text/template's Execute always writes to an
// io.Writer). with_items/loop expressions need this: "{{ hosts }}" should
// hand back the actual []interface{} hosts is bound to, not its printed
// form. Any other template shape falls back to Render's string result.
func ResolveValue(tpl string, vars map[string]interface{}) (interface{}, error) {
	if m := bareReference.FindStringSubmatch(strings.TrimSpace(tpl)); m != nil {
		name := m[1]
		if v, ok := vars[name]; ok {
			return v, nil
		}
		return nil, fmt.Errorf("undefined variable %q", name)
	}
	return Render(tpl, vars)
}
