package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	out, _, err := execute(&RootOptions{}, "validate", "--root", testRoot, testScenarios)
	require.NoError(t, err)
	assert.Equal(t, "✓ 2 scenario(s) valid\n", out)
}

func TestValidate_MissingAnchor(t *testing.T) {
	data, err := os.ReadFile(filepath.Join(testScenarios, "ready.yaml"))
	require.NoError(t, err)
	broken := strings.Replace(string(data), `"#main"`, `"#sidebar"`, 1)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))

	out, _, err := execute(&RootOptions{}, "validate", "--root", testRoot, path)
	require.Error(t, err)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E_FIXTURE_ANCHOR")
	assert.Contains(t, out, `"#sidebar"`)
}

func TestValidate_JSON(t *testing.T) {
	out, _, err := execute(&RootOptions{}, "validate", "--format", "json", "--root", testRoot, testScenarios)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Checked)
}

func TestValidate_MissingFixture(t *testing.T) {
	out, _, err := execute(&RootOptions{}, "validate", "--root", t.TempDir(), testScenarios)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E_FIXTURE")
}
