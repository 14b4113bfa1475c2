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

func writeSettings(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSettings_Text(t *testing.T) {
	path := writeSettings(t, "samples_per_pixel: 4\nrender_diffuse_scene: true\n")

	out, err := executeRoot(t, "settings", path)
	require.NoError(t, err)

	assert.Contains(t, out, "samples_per_pixel:    4")
	assert.Contains(t, out, "paths_per_sample:     9")
	assert.Contains(t, out, "render_diffuse_scene: true")
	assert.Contains(t, out, "paths per pixel:      36")
}

func TestSettings_JSON(t *testing.T) {
	path := writeSettings(t, "max_path_depth: 3\n")

	out, err := executeRoot(t, "--format", "json", "settings", path)
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   SettingsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data.Settings.MaxPathDepth)
	assert.Equal(t, 9, resp.Data.Settings.SamplesPerPixel)
	assert.Equal(t, 81, resp.Data.PathsPerPixel)
}

func TestSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"below range", "samples_per_pixel: 0\n"},
		{"above range", "paths_per_sample: 2097152\n"},
		{"unknown field", "bounces: 4\n"},
		{"wrong type", "render_diffuse_scene: 1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSettings(t, tt.src)

			out, err := executeRoot(t, "--format", "json", "settings", path)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeSettingsInvalid, resp.Error.Code)
		})
	}
}

func TestSettings_MissingFile(t *testing.T) {
	_, err := executeRoot(t, "settings", filepath.Join(t.TempDir(), "absent.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "read settings")
}
