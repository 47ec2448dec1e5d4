package main

import (
	"io"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

func joinPath(dir, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(dir, name)
}

func playbookDir(playbookPath string) string {
	return filepath.Dir(playbookPath)
}

// parseExtraVarsFile accepts either YAML or JSON (a strict subset of
// YAML), matching the playbook format's own parser.
func parseExtraVarsFile(r io.Reader) (map[string]interface{}, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var vars map[string]interface{}
	if err := yaml.Unmarshal(data, &vars); err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return vars, nil
}
