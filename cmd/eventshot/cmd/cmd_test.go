package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/eventshot/internal/config"
	"github.com/MeKo-Tech/eventshot/internal/pipeline"
	"github.com/MeKo-Tech/eventshot/internal/testutil"
)

// executeCommand runs the root command with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := GetRootCommand()
	resetFlags(root)
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	t.Cleanup(func() { root.SetArgs(nil) })
	err := root.Execute()
	return out.String(), err
}

// resetFlags restores scalar flags to their defaults. Cobra keeps flag values
// between Execute calls on the same command tree.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if strings.HasSuffix(f.Value.Type(), "Slice") {
			return
		}
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

type testDirs struct {
	root, inbound, backup, output string
}

// writeTestConfig writes a config that needs neither models nor network.
func writeTestConfig(t *testing.T, extra string) (string, testDirs) {
	t.Helper()
	root := t.TempDir()
	d := testDirs{
		root:    root,
		inbound: filepath.Join(root, "inbound"),
		backup:  filepath.Join(root, "backup"),
		output:  filepath.Join(root, "output"),
	}
	content := fmt.Sprintf(`log_level: error
directories:
  inbound: %s
  backup: %s
  output: %s
face:
  enabled: false
enhancement:
  mode: local-only
workers:
  count: 2
  dispatch_interval: 10ms
retry:
  initial_delay: 10ms
  max_delay: 20ms
crop:
  dpi: 10
%s`, d.inbound, d.backup, d.output, extra)
	path := filepath.Join(root, "eventshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, d
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"config", fmt.Errorf("%w: bad", pipeline.ErrConfigInvalid), 2},
		{"startup", pipeline.NewFatalStartup("lut", errors.New("missing")), 2},
		{"items", errItemsFailed, 1},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestVersionCommand(t *testing.T) {
	path, _ := writeTestConfig(t, "")
	out, err := executeCommand(t, "--config", path, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "eventshot dev")

	out, err = executeCommand(t, "--config", path, "version", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"version": "dev"`)
}

func TestConfigInitAndShow(t *testing.T) {
	path, _ := writeTestConfig(t, "delivery:\n  upload:\n    secret: hunter2\n")
	target := filepath.Join(t.TempDir(), "generated.yaml")

	out, err := executeCommand(t, "--config", path, "config", "init", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	var generated config.Config
	require.NoError(t, yaml.Unmarshal(data, &generated))
	assert.Equal(t, config.DefaultConfig().Workers, generated.Workers)

	_, err = executeCommand(t, "--config", path, "config", "init", target)
	require.Error(t, err, "existing files are not overwritten")
	_, err = executeCommand(t, "--config", path, "config", "init", target, "--force")
	require.NoError(t, err)

	out, err = executeCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# loaded from "+path)
	assert.Contains(t, out, "mode: local-only")
	assert.NotContains(t, out, "hunter2")
}

func TestProcessCommand(t *testing.T) {
	path, d := writeTestConfig(t, "")
	shots := t.TempDir()
	testutil.WritePhotos(t, shots, "guest", 3, testutil.MediumSize)

	out, err := executeCommand(t, "--config", path, "process", shots, "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "Processed 3 photos")
	assert.Contains(t, out, "3 delivered, 0 failed")

	outputs, err := os.ReadDir(d.output)
	require.NoError(t, err)
	require.Len(t, outputs, 3)
	for _, e := range outputs {
		assert.True(t, strings.HasPrefix(e.Name(), "processed_guest_"), e.Name())
		assert.Equal(t, ".jpg", filepath.Ext(e.Name()))
	}

	backups, err := os.ReadDir(d.backup)
	require.NoError(t, err)
	assert.Len(t, backups, 3)
}

func TestProcessCommand_SameNameInDifferentFolders(t *testing.T) {
	path, d := writeTestConfig(t, "")
	shots := t.TempDir()
	for i, card := range []string{"cardA", "cardB"} {
		dir := filepath.Join(shots, card)
		require.NoError(t, os.MkdirAll(dir, 0o750))
		testutil.SavePNG(t, dir, "IMG_0001.png", testutil.Gradient(testutil.MediumSize, uint8(40*i)))
	}

	out, err := executeCommand(t, "--config", path, "process", shots, "--recursive", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, "2 delivered, 0 failed")

	outputs, err := os.ReadDir(d.output)
	require.NoError(t, err)
	assert.Len(t, outputs, 2, "outputs of same-named inputs must not overwrite each other")

	backups, err := os.ReadDir(d.backup)
	require.NoError(t, err)
	assert.Len(t, backups, 2, "backups of same-named inputs must not overwrite each other")
}

func TestProcessCommand_FailuresExitNonZero(t *testing.T) {
	path, _ := writeTestConfig(t, "")
	shots := t.TempDir()
	testutil.WritePhotos(t, shots, "ok", 1, testutil.SmallLandscape)
	require.NoError(t, os.WriteFile(filepath.Join(shots, "broken.jpg"), []byte("not a jpeg"), 0o600))

	out, err := executeCommand(t, "--config", path, "process", shots, "--no-progress")
	require.ErrorIs(t, err, errItemsFailed)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out, "1 delivered, 1 failed")
}

func TestProcessCommand_InvalidConfig(t *testing.T) {
	path, _ := writeTestConfig(t, "")
	_, err := executeCommand(t, "--config", path, "process", t.TempDir(), "--workers", "0", "--no-progress")
	require.ErrorIs(t, err, pipeline.ErrConfigInvalid)
	assert.Equal(t, 2, exitCode(err))
}

func TestProcessCommand_MissingLUTIsFatal(t *testing.T) {
	path, _ := writeTestConfig(t, "lut:\n  path: /nonexistent/grade.cube\n")
	_, err := executeCommand(t, "--config", path, "process", t.TempDir(), "--no-progress")
	require.Error(t, err)
	assert.True(t, pipeline.IsFatal(err))
}

func TestModelsCommand(t *testing.T) {
	path, d := writeTestConfig(t, "")
	modelsDir := filepath.Join(d.root, "models")
	require.NoError(t, os.MkdirAll(filepath.Join(modelsDir, "face"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(modelsDir, "face", "version-RFB-320.onnx"), []byte("onnx"), 0o600))

	out, err := executeCommand(t, "--config", path, "--models-dir", modelsDir, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "Models directory: "+modelsDir)
	assert.Regexp(t, `rfb-320\s+320x240\s+installed`, out)
	assert.Regexp(t, `slim-320\s+320x240\s+missing`, out)
}
