package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phosphoros/internal/engine"
)

func TestParseSettings(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want Settings
	}{
		{
			name: "empty file takes defaults",
			src:  ``,
			want: DefaultSettings(),
		},
		{
			name: "partial override",
			src:  `samples_per_pixel: 4`,
			want: Settings{SamplesPerPixel: 4, PathsPerSample: 9, MaxPathDepth: 9},
		},
		{
			name: "all fields",
			src: `
samples_per_pixel:    1
paths_per_sample:     2
max_path_depth:       2097151
render_diffuse_scene: true
`,
			want: Settings{SamplesPerPixel: 1, PathsPerSample: 2, MaxPathDepth: 2097151, RenderDiffuseScene: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSettings([]byte(tt.src))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"below range", `samples_per_pixel: 0`},
		{"above range", `max_path_depth: 2097152`},
		{"wrong type", `paths_per_sample: "many"`},
		{"unknown field", `tile_size: 32`},
		{"syntax error", `samples_per_pixel: {`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings([]byte(tt.src))
			require.Error(t, err)
		})
	}
}

func TestParseSettings_ErrorHasPosition(t *testing.T) {
	_, err := ParseSettings([]byte("samples_per_pixel: 9\nmax_path_depth: -1\n"))

	var se *SettingsError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Pos.IsValid())
	assert.Equal(t, "settings.cue", se.Pos.Filename())
	assert.Equal(t, 2, se.Pos.Line())
	assert.Equal(t, "max_path_depth", se.Field)
	assert.Contains(t, se.Message, ">=1")
	assert.NotContains(t, se.Message, "disjunction")
	assert.Contains(t, err.Error(), "settings.cue:2:")
}

func TestParseSettings_RangeErrorsNameTheBound(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
		bound string
	}{
		{"below range", "samples_per_pixel: 0\n", "samples_per_pixel", ">=1"},
		{"above range", "paths_per_sample: 2097152\n", "paths_per_sample", "<=2097151"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings([]byte(tt.src))

			var se *SettingsError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.field, se.Field)
			assert.Contains(t, se.Message, tt.bound)
			assert.Equal(t, 1, se.Pos.Line())
		})
	}
}

func TestSettings_ValidateNamesTheBound(t *testing.T) {
	bad := DefaultSettings()
	bad.MaxPathDepth = 0

	var se *SettingsError
	require.ErrorAs(t, bad.Validate(), &se)
	assert.Equal(t, "max_path_depth", se.Field)
	assert.Contains(t, se.Message, ">=1")
}

func TestLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "render.cue")
	require.NoError(t, os.WriteFile(path, []byte("render_diffuse_scene: true\n"), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.True(t, s.RenderDiffuseScene)
	assert.Equal(t, DefaultSetting, s.SamplesPerPixel)

	_, err = LoadSettings(filepath.Join(t.TempDir(), "missing.cue"))
	assert.ErrorContains(t, err, "read settings")
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	bad := DefaultSettings()
	bad.PathsPerSample = MaxSetting + 1
	assert.Error(t, bad.Validate())

	zero := Settings{}
	assert.Error(t, zero.Validate(), "zero values are out of range")
}

func TestSettings_HostSettings(t *testing.T) {
	s := Settings{SamplesPerPixel: 2, PathsPerSample: 3, MaxPathDepth: 4, RenderDiffuseScene: true}
	assert.Equal(t, engine.HostSettings{
		SamplesPerPixel:    2,
		PathsPerSample:     3,
		MaxPathDepth:       4,
		RenderDiffuseScene: true,
	}, s.HostSettings())
}
