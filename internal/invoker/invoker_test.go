package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goneri/taskweave/internal/common"
	"github.com/goneri/taskweave/internal/taskerr"
)

func TestInvoke_PrefersRegisteredHandler(t *testing.T) {
	inv := New(common.RunnerConfig{}, nil)
	inv.Register("set_fact", HandlerFunc(func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"echoed": args["x"]}, nil
	}))

	out, err := inv.Invoke(context.Background(), "run-1", "t", "set_fact", map[string]interface{}{"x": 42})
	require.NoError(t, err)
	assert.Equal(t, 42, out["echoed"])
}

func TestInvoke_PreservesAssertionFailedKind(t *testing.T) {
	inv := New(common.RunnerConfig{}, nil)
	inv.Register("assert", AssertHandler{})

	_, err := inv.Invoke(context.Background(), "run-2", "t", "assert", map[string]interface{}{
		"that":  "eq 1 2",
		"_vars": map[string]interface{}{},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, taskerr.ErrAssertionFailed))
	assert.False(t, errors.Is(err, taskerr.ErrModuleFailed))
}

func TestInvoke_GenericHandlerErrorBecomesModuleFailed(t *testing.T) {
	inv := New(common.RunnerConfig{}, nil)
	inv.Register("debug", HandlerFunc(func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("boom")
	}))

	_, err := inv.Invoke(context.Background(), "run-3", "t", "debug", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, taskerr.ErrModuleFailed))
}

func TestParseRunnerOutput(t *testing.T) {
	out, err := parseRunnerOutput("command", []byte(`command => {"rc": 0, "stdout": "hi"}`))
	require.NoError(t, err)
	assert.EqualValues(t, 0, out["rc"])
	assert.Equal(t, "hi", out["stdout"])
}

func TestParseRunnerOutput_MissingSeparator(t *testing.T) {
	_, err := parseRunnerOutput("command", []byte(`not-the-expected-format`))
	require.Error(t, err)
}

func TestParseRunnerOutput_InvalidJSON(t *testing.T) {
	_, err := parseRunnerOutput("command", []byte(`command => {not json}`))
	require.Error(t, err)
}

// TestInvokeSubprocess_FullProtocol exercises the generic dispatch path
// end to end against a throwaway Go program acting as module-runner,
// verifying the extra-vars file is written and passed to it and that its
// output line is parsed.
func TestInvokeSubprocess_FullProtocol(t *testing.T) {
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not available to build the fake module-runner")
	}

	dir := t.TempDir()
	fakeRunner := buildFakeModuleRunner(t, dir)

	inv := New(common.RunnerConfig{ModuleRunner: fakeRunner, Target: "localhost", TempDir: dir}, nil)
	out, err := inv.Invoke(context.Background(), "run-1", "t", "command", map[string]interface{}{"cmd": "echo hi"})
	require.NoError(t, err)
	assert.Equal(t, "command", out["module"])
}

func buildFakeModuleRunner(t *testing.T, dir string) string {
	t.Helper()
	src := filepath.Join(dir, "fake_runner.go")
	bin := filepath.Join(dir, "fake-module-runner")

	program := `package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

func main() {
	module := flag.String("module", "", "")
	flag.String("target", "", "")
	extraVars := flag.String("extra-vars", "", "")
	flag.Parse()

	data, err := os.ReadFile(*extraVars)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var args map[string]interface{}
	json.Unmarshal(data, &args)

	out, _ := json.Marshal(map[string]interface{}{"module": *module, "args": args})
	fmt.Printf("%s => %s\n", *module, out)
}
`
	require.NoError(t, os.WriteFile(src, []byte(program), 0644))
	cmd := exec.Command("go", "build", "-o", bin, src)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))
	return bin
}
