package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/phosphoros/internal/engine"
	"github.com/roach88/phosphoros/internal/host"
)

// SettingsResult is the effective snapshot a settings file produces.
type SettingsResult struct {
	File          string        `json:"file"`
	Settings      host.Settings `json:"settings"`
	PathsPerPixel int           `json:"paths_per_pixel"`
}

func (r SettingsResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Settings: %s\n", r.File)
	fmt.Fprintf(&b, "  samples_per_pixel:    %d\n", r.Settings.SamplesPerPixel)
	fmt.Fprintf(&b, "  paths_per_sample:     %d\n", r.Settings.PathsPerSample)
	fmt.Fprintf(&b, "  max_path_depth:       %d\n", r.Settings.MaxPathDepth)
	fmt.Fprintf(&b, "  render_diffuse_scene: %t\n", r.Settings.RenderDiffuseScene)
	fmt.Fprintf(&b, "  paths per pixel:      %d", r.PathsPerPixel)
	return b.String()
}

// NewSettingsCommand creates the settings command.
func NewSettingsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings <file.cue>",
		Short: "Validate a render settings file",
		Long: `Validate a CUE render settings file and print the snapshot the
bridge would push to the renderer.

Omitted fields take their defaults (9, 9, 9, false). Integer settings must
lie in [1, 2097151]; unknown fields are rejected.

Exit codes:
  0 - Settings valid
  2 - Settings invalid or unreadable

Examples:
  phosphoros settings ./settings.cue
  phosphoros settings ./settings.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettings(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runSettings(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)

	s, err := host.LoadSettings(path)
	if err != nil {
		return out.Fail(ExitCommandError, CodeSettingsInvalid, "invalid settings", err)
	}

	snap := engine.Capture(s.HostSettings())
	return out.Success(SettingsResult{
		File:          path,
		Settings:      s,
		PathsPerPixel: snap.PathsPerPixel(),
	})
}
