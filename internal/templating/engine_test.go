package templating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_Ready(t *testing.T) {
	result, err := Probe("hello {{ .name }}", map[string]interface{}{"name": "world"})
	require.NoError(t, err)
	assert.False(t, result.Missing)
	assert.Equal(t, "hello world", result.Rendered)
}

func TestProbe_MissingKey(t *testing.T) {
	result, err := Probe("hello {{ .name }}", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.Missing)
	assert.Equal(t, "name", result.MissingKey)
}

func TestProbe_NestedMissingKey(t *testing.T) {
	result, err := Probe("{{ .user.email }}", map[string]interface{}{})
	require.NoError(t, err)
	assert.True(t, result.Missing)
	assert.Equal(t, "user", result.MissingKey)
}

func TestRender_UndefinedVariable(t *testing.T) {
	_, err := Render("{{ .missing }}", map[string]interface{}{})
	require.Error(t, err)
}

func TestRender_SprigFunction(t *testing.T) {
	out, err := Render("{{ .name | upper }}", map[string]interface{}{"name": "task"})
	require.NoError(t, err)
	assert.Equal(t, "TASK", out)
}

func TestIsTemplate(t *testing.T) {
	assert.True(t, IsTemplate("{{ foo }}"))
	assert.False(t, IsTemplate("plain string"))
}

func TestResolveValue_BareReferencePreservesType(t *testing.T) {
	vars := map[string]interface{}{"hosts": []interface{}{"a", "b"}}
	resolved, err := ResolveValue("{{ hosts }}", vars)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, resolved)
}

func TestResolveValue_BareDotReference(t *testing.T) {
	vars := map[string]interface{}{"count": 3}
	resolved, err := ResolveValue("{{ .count }}", vars)
	require.NoError(t, err)
	assert.Equal(t, 3, resolved)
}

func TestResolveValue_NonBareTemplateFallsBackToString(t *testing.T) {
	vars := map[string]interface{}{"name": "x"}
	resolved, err := ResolveValue("prefix-{{ .name }}", vars)
	require.NoError(t, err)
	assert.Equal(t, "prefix-x", resolved)
}
