package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/phosphoros/internal/backend"
	"github.com/roach88/phosphoros/internal/engine"
	"github.com/roach88/phosphoros/internal/host"
	"github.com/roach88/phosphoros/internal/store"
)

// RenderOptions holds flags for the render command.
type RenderOptions struct {
	*RootOptions

	Install    string
	Resources  string
	UserConfig string
	Headless   bool

	SettingsFile string
	Frames       int
	Out          string
	Database     string

	Width   int
	Height  int
	Lights  int
	Preview bool

	Workers  int
	TileSize int

	// IDGenerator overrides session ids (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator engine.IDGenerator
}

// RenderResult summarizes a render run.
type RenderResult struct {
	Session string        `json:"session"`
	Frames  int           `json:"frames"`
	Width   int           `json:"width"`
	Height  int           `json:"height"`
	Lights  int           `json:"lights"`
	Files   []string      `json:"files,omitempty"`
	Calls   int           `json:"calls,omitempty"`
	Config  host.Settings `json:"settings"`
}

func (r RenderResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rendered %d frame(s) at %dx%d (session %s)", r.Frames, r.Width, r.Height, r.Session)
	if r.Lights == 0 {
		b.WriteString("\n  scene has no lights, nothing rendered")
	}
	for _, f := range r.Files {
		fmt.Fprintf(&b, "\n  wrote %s", f)
	}
	if r.Calls > 0 {
		fmt.Fprintf(&b, "\n  recorded %d renderer call(s)", r.Calls)
	}
	return b.String()
}

// NewRenderCommand creates the render command.
func NewRenderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RenderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a scene through the bridge",
		Long: `Register the bridge plugin, render a synthetic scene with the reference
renderer, then free the session and unregister.

Each frame re-syncs the scene before rendering, so --frames 3 exercises
create, render, then reset and render twice more. With --out, frames are
written as TIFF; a printf verb in the path numbers them. With --db, every
renderer call and session transition is persisted for 'phosphoros trace'.

Exit codes:
  0 - All frames rendered
  1 - Render failure
  2 - Command error (bad flags, invalid settings, context paths, etc.)

Examples:
  phosphoros render --install ./addon --resources ./datafiles --user-config ./config
  phosphoros render ... --settings ./settings.cue --frames 3 --out ./out/frame-%03d.tif
  phosphoros render ... --db ./phosphoros.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Install, "install", "", "plugin install directory (required)")
	cmd.Flags().StringVar(&opts.Resources, "resources", "", "renderer resource directory (required)")
	cmd.Flags().StringVar(&opts.UserConfig, "user-config", "", "user configuration directory (required)")
	_ = cmd.MarkFlagRequired("install")
	_ = cmd.MarkFlagRequired("resources")
	_ = cmd.MarkFlagRequired("user-config")
	cmd.Flags().BoolVar(&opts.Headless, "headless", true, "run without a display")

	cmd.Flags().StringVar(&opts.SettingsFile, "settings", "", "CUE render settings file")
	cmd.Flags().IntVar(&opts.Frames, "frames", 1, "number of frames to render")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "TIFF output path")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database to record calls in")

	cmd.Flags().IntVar(&opts.Width, "width", 64, "scene resolution width")
	cmd.Flags().IntVar(&opts.Height, "height", 48, "scene resolution height")
	cmd.Flags().IntVar(&opts.Lights, "lights", 1, "number of scene lights")
	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "create a preview session")

	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "render workers (0 uses the renderer default)")
	cmd.Flags().IntVar(&opts.TileSize, "tile-size", 0, "tile edge in pixels (0 uses the renderer default)")

	return cmd
}

// frameCounter is a sink that knows how many frames it received.
type frameCounter interface {
	backend.Sink
	Frames() int
}

type fileCounter struct{ *backend.FileSink }

func (f fileCounter) Frames() int { return len(f.Written()) }

func runRender(opts *RenderOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if opts.Frames < 1 {
		return NewExitError(ExitCommandError, "--frames must be at least 1")
	}
	if opts.Width < 1 || opts.Height < 1 {
		return NewExitError(ExitCommandError, "--width and --height must be positive")
	}
	if opts.Lights < 0 {
		return NewExitError(ExitCommandError, "--lights must be non-negative")
	}

	settings := host.DefaultSettings()
	if opts.SettingsFile != "" {
		s, err := host.LoadSettings(opts.SettingsFile)
		if err != nil {
			return out.Fail(ExitCommandError, CodeSettingsInvalid, "invalid settings", err)
		}
		settings = s
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Teardown still runs, and is still recorded, after an interrupt.
	teardown := context.WithoutCancel(ctx)

	var sink frameCounter = backend.NewMemorySink()
	var fileSink *backend.FileSink
	if opts.Out != "" {
		fileSink = backend.NewFileSink(opts.Out)
		sink = fileCounter{fileSink}
	}

	refOpts := []backend.ReferenceOption{
		backend.WithSink(sink),
		backend.WithLogger(logger),
	}
	if opts.Workers > 0 {
		refOpts = append(refOpts, backend.WithWorkers(opts.Workers))
	}
	if opts.TileSize > 0 {
		refOpts = append(refOpts, backend.WithTileSize(opts.TileSize))
	}
	var renderer engine.Renderer = backend.NewReference(refOpts...)

	pluginOpts := []host.PluginOption{host.WithLogger(logger)}
	if opts.IDGenerator != nil {
		pluginOpts = append(pluginOpts, host.WithIDGenerator(opts.IDGenerator))
	}

	var rec *backend.Recorder
	if opts.Database != "" {
		st, err := store.Open(opts.Database)
		if err != nil {
			return out.Fail(ExitCommandError, CodeStoreFailed, "failed to open database", err)
		}
		defer st.Close()

		// Continue the database's timeline so runs never collide on seq.
		last, err := st.MaxSeq(ctx)
		if err != nil {
			return out.Fail(ExitCommandError, CodeStoreFailed, "failed to read database", err)
		}
		clock := engine.NewClockAt(last)
		rec = backend.NewRecorder(renderer,
			backend.WithClock(clock),
			backend.WithCallWriter(st),
			backend.WithRecorderLogger(logger),
		)
		renderer = rec
		pluginOpts = append(pluginOpts, host.WithObserver(store.SessionObserver(st, clock, logger)))
		logger.Debug("recording calls", "db", opts.Database, "from_seq", last+1)
	}

	arena := host.NewArena()
	plugin := host.NewPlugin(renderer, arena, pluginOpts...)

	cfg := engine.ContextConfig{
		InstallPath:    opts.Install,
		ResourcePath:   opts.Resources,
		UserConfigPath: opts.UserConfig,
		Headless:       opts.Headless,
	}
	if err := plugin.Register(ctx, cfg); err != nil {
		return out.Fail(ExitCommandError, CodeRegisterFailed, "failed to register plugin", err)
	}
	defer plugin.Unregister(teardown)

	scene := arena.Scene("Scene", opts.Width, opts.Height, opts.Lights)
	graph := arena.Depsgraph("Depsgraph", scene)
	update := host.Update{
		Scene:       scene,
		Depsgraph:   graph,
		Preferences: arena.Object("Preferences"),
		Settings:    settings,
		Preview:     opts.Preview,
	}

	e, err := plugin.NewRenderEngine("final")
	if err != nil {
		return out.Fail(ExitCommandError, CodeRegisterFailed, "render engine unavailable", err)
	}
	defer e.Free(teardown)

	for frame := 1; frame <= opts.Frames; frame++ {
		if err := renderFrame(ctx, e, update, graph); err != nil {
			return out.Fail(ExitFailure, CodeRenderFailed, fmt.Sprintf("frame %d failed", frame), err)
		}
		logger.Debug("frame rendered", "frame", frame, "session", e.Session().ID())
	}

	result := RenderResult{
		Session: e.Session().ID(),
		Frames:  sink.Frames(),
		Width:   opts.Width,
		Height:  opts.Height,
		Lights:  opts.Lights,
		Config:  settings,
	}
	if fileSink != nil {
		result.Files = fileSink.Written()
	}
	if rec != nil {
		// Init plus everything this engine did so far.
		result.Calls = len(rec.Calls())
	}
	return out.Success(result)
}

// renderFrame syncs the scene and requests one frame, as the host does on
// every final render.
func renderFrame(ctx context.Context, e *host.RenderEngine, u host.Update, graph *host.Depsgraph) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.Update(ctx, u); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := e.Render(ctx, graph); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	return nil
}
