package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var packagesDir = filepath.Join("..", "harness", "testdata", "packages")

func TestPackages_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewPackagesCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{packagesDir})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "du\n", buf.String())
}

func TestPackages_DescribeJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewPackagesCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--describe", packagesDir})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string        `json:"status"`
		Data   []PackageInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.Len(t, resp.Data, 1)

	du := resp.Data[0]
	assert.Equal(t, "du", du.Name)
	assert.Contains(t, du.Modules, "train")
	assert.NotEmpty(t, du.Servers)
	assert.Contains(t, string(du.Fields), `"train"`)
}

func TestPackages_SkipsInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "broken"), 0755))

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := NewPackagesCommand(&RootOptions{Format: "text", Verbose: true})
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, "No packages found.\n", out.String())
	assert.Contains(t, errOut.String(), "skipped")
}

func TestPackages_MissingDir(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewPackagesCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/packages"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), ErrCodeNotFound)
}
