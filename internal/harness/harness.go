package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/phosphoros/internal/backend"
	"github.com/roach88/phosphoros/internal/engine"
	"github.com/roach88/phosphoros/internal/host"
	"github.com/roach88/phosphoros/internal/ir"
	"github.com/roach88/phosphoros/internal/store"
	"github.com/roach88/phosphoros/internal/testutil"
)

// Default scene for scenarios that do not set one.
const (
	defaultSceneWidth  = 32
	defaultSceneHeight = 24
	defaultSceneLights = 1
)

// CaseUnavailable is the case of new_engine while the plugin is not
// registered. Other failures use their error code, or "error".
const CaseUnavailable = "UNAVAILABLE"

// Harness is the test execution engine.
// It drives the real bridge over Recorder(Reference) with a deterministic
// clock and session ids, persisting every call and transition to an
// in-memory store.
type Harness struct {
	plugin *host.Plugin
	rec    *backend.Recorder
	arena  *host.Arena
	clock  *testutil.DeterministicClock
	logger *slog.Logger

	cfg      engine.ContextConfig
	setup    SceneSetup
	scene    *host.Scene
	graph    *host.Depsgraph
	scenes   map[string]*host.Scene
	graphs   map[string]*host.Depsgraph
	prefs    *host.Object
	settings map[string]interface{}
	engines  map[string]*host.RenderEngine
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database and a fresh temporary
// directory for the context paths.
//
// Execution flow:
// 1. Create the store, context directories and scene
// 2. Wire Plugin -> Recorder -> Reference with injected faults
// 3. Execute flow steps with expect validation
// 4. Evaluate assertions against the trace and the sessions table
// 5. Unregister whatever the flow left registered
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	root, err := os.MkdirTemp("", "phosphoros-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario root: %w", err)
	}
	defer os.RemoveAll(root)

	cfg, err := buildContext(root, scenario.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare context: %w", err)
	}

	if _, err := resolveSettings(scenario.Settings, nil); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	clock := testutil.NewDeterministicClock()
	sink := backend.NewMemorySink()
	ref := backend.NewReference(
		backend.WithSink(sink),
		backend.WithWorkers(2),
		backend.WithLogger(logger),
	)
	rec := backend.NewRecorder(ref,
		backend.WithClock(clock),
		backend.WithCallWriter(st),
		backend.WithRecorderLogger(logger),
	)
	for _, op := range slices.Sorted(maps.Keys(scenario.Fail)) {
		rec.Fail(ir.Op(op), errors.New(scenario.Fail[op]))
	}

	arena := host.NewArena()
	plugin := host.NewPlugin(rec, arena,
		host.WithLogger(logger),
		host.WithIDGenerator(engine.NewSequentialGenerator("session")),
		host.WithObserver(store.SessionObserver(st, clock, logger)),
	)

	sc := SceneSetup{Width: defaultSceneWidth, Height: defaultSceneHeight, Lights: defaultSceneLights}
	if scenario.Scene != nil {
		sc = *scenario.Scene
	}
	scene := arena.Scene("Scene", sc.Width, sc.Height, sc.Lights)
	graph := arena.Depsgraph("Depsgraph", scene)

	h := &Harness{
		plugin:   plugin,
		rec:      rec,
		arena:    arena,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		setup:    sc,
		scene:    scene,
		graph:    graph,
		scenes:   map[string]*host.Scene{scene.Name(): scene},
		graphs:   map[string]*host.Depsgraph{graph.Name(): graph},
		prefs:    arena.Object("Preferences"),
		settings: scenario.Settings,
		engines:  make(map[string]*host.RenderEngine),
	}
	defer plugin.Unregister(ctx)

	result := NewResult()
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}
	result.Frames = sink.Frames()

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// executeFlow runs all flow steps and validates expect clauses.
//
// Each step:
// 1. Takes a seq for the step from the shared clock
// 2. Drives the host hook; the hook makes zero or more renderer calls
// 3. Appends the step and the calls it produced to the trace
// 4. Compares the hook's outcome case with the expect clause
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		seq := h.clock.Next()
		before := len(h.rec.Calls())

		out, err := h.execute(ctx, step)
		if err != nil {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, err)
		}

		got := outcomeCase(out.err)
		result.AddStepTrace(step.Invoke, out.engine, got, seq)
		for _, c := range h.rec.Calls()[before:] {
			result.AddCallTrace(c)
		}

		if step.Expect != nil && step.Expect.Case != got {
			msg := fmt.Sprintf("flow[%d] %s: expected case %s, got %s", i, step.Invoke, step.Expect.Case, got)
			if out.err != nil {
				msg += fmt.Sprintf(" (%v)", out.err)
			}
			result.AddError(msg)
		}

		h.logger.Info("flow step completed",
			"step", i,
			"invoke", step.Invoke,
			"engine", out.engine,
			"case", got,
		)
	}
	return nil
}

type engineArgs struct {
	Engine string `yaml:"engine"`
}

type viewportArgs struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type updateArgs struct {
	Engine    string                 `yaml:"engine"`
	Scene     string                 `yaml:"scene"`
	Depsgraph string                 `yaml:"depsgraph"`
	Preview   bool                   `yaml:"preview"`
	Viewport  *viewportArgs          `yaml:"viewport"`
	Lights    *int                   `yaml:"lights"`
	Width     int                    `yaml:"width"`
	Height    int                    `yaml:"height"`
	Settings  map[string]interface{} `yaml:"settings"`
}

type faultArgs struct {
	Op    string `yaml:"op"`
	Error string `yaml:"error"`
}

// stepOutcome is what a hook did: the engine it addressed and the hook's own
// error, which is an expected outcome rather than a harness failure.
type stepOutcome struct {
	engine string
	err    error
}

// execute drives one hook. A returned error means the step itself is
// malformed.
func (h *Harness) execute(ctx context.Context, step FlowStep) (stepOutcome, error) {
	switch step.Invoke {
	case InvokeRegister:
		return stepOutcome{err: h.plugin.Register(ctx, h.cfg)}, nil

	case InvokeUnregister:
		h.plugin.Unregister(ctx)
		return stepOutcome{}, nil

	case InvokeNewEngine:
		var a engineArgs
		if err := decodeArgs(step.Args, &a); err != nil {
			return stepOutcome{}, err
		}
		if _, ok := h.engines[a.Engine]; ok {
			return stepOutcome{}, fmt.Errorf("engine %q already exists", a.Engine)
		}
		e, err := h.plugin.NewRenderEngine(a.Engine)
		if err == nil {
			h.engines[a.Engine] = e
		}
		return stepOutcome{engine: a.Engine, err: err}, nil

	case InvokeUpdate:
		var a updateArgs
		if err := decodeArgs(step.Args, &a); err != nil {
			return stepOutcome{}, err
		}
		e, err := h.engine(a.Engine)
		if err != nil {
			return stepOutcome{}, err
		}
		u, err := h.buildUpdate(a)
		if err != nil {
			return stepOutcome{}, err
		}
		return stepOutcome{engine: a.Engine, err: e.Update(ctx, u)}, nil

	case InvokeRender, InvokeFree:
		var a engineArgs
		if err := decodeArgs(step.Args, &a); err != nil {
			return stepOutcome{}, err
		}
		e, err := h.engine(a.Engine)
		if err != nil {
			return stepOutcome{}, err
		}
		if step.Invoke == InvokeRender {
			return stepOutcome{engine: a.Engine, err: e.Render(ctx, h.graph)}, nil
		}
		// The engine stays addressable so later steps can hit the freed session.
		e.Free(ctx)
		return stepOutcome{engine: a.Engine}, nil

	case InvokeFail, InvokeHeal:
		var a faultArgs
		if err := decodeArgs(step.Args, &a); err != nil {
			return stepOutcome{}, err
		}
		if step.Invoke == InvokeHeal {
			h.rec.Heal(ir.Op(a.Op))
			return stepOutcome{}, nil
		}
		msg := a.Error
		if msg == "" {
			msg = "injected " + a.Op + " failure"
		}
		h.rec.Fail(ir.Op(a.Op), errors.New(msg))
		return stepOutcome{}, nil
	}

	return stepOutcome{}, fmt.Errorf("unknown invoke %q", step.Invoke)
}

func (h *Harness) engine(name string) (*host.RenderEngine, error) {
	e, ok := h.engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (create it with new_engine first)", name)
	}
	return e, nil
}

// buildUpdate switches scene if asked, applies the step's scene edits and
// assembles the host update.
func (h *Harness) buildUpdate(a updateArgs) (host.Update, error) {
	if err := h.selectScene(a.Scene, a.Depsgraph); err != nil {
		return host.Update{}, err
	}
	if a.Lights != nil {
		h.scene.SetLights(*a.Lights)
	}
	if a.Width > 0 || a.Height > 0 {
		w, ht := h.scene.Resolution()
		if a.Width > 0 {
			w = a.Width
		}
		if a.Height > 0 {
			ht = a.Height
		}
		h.scene.SetResolution(w, ht)
	}

	settings, err := resolveSettings(h.settings, a.Settings)
	if err != nil {
		return host.Update{}, fmt.Errorf("args.settings: %w", err)
	}

	u := host.Update{
		Scene:       h.scene,
		Depsgraph:   h.graph,
		Preferences: h.prefs,
		Settings:    settings,
		Preview:     a.Preview,
	}
	if a.Viewport != nil {
		u.Viewport = h.arena.Viewport(a.Viewport.Width, a.Viewport.Height)
	}
	return u, nil
}

// selectScene makes the named scene and graph current for this and later
// steps. Unknown names create new objects: a scene with the scenario's scene
// setup, a graph evaluating the current scene.
func (h *Harness) selectScene(sceneName, graphName string) error {
	if sceneName != "" {
		sc, ok := h.scenes[sceneName]
		if !ok {
			sc = h.arena.Scene(sceneName, h.setup.Width, h.setup.Height, h.setup.Lights)
			h.scenes[sceneName] = sc
		}
		h.scene = sc
	}
	if graphName != "" {
		g, ok := h.graphs[graphName]
		if !ok {
			g = h.arena.Depsgraph(graphName, h.scene)
			h.graphs[graphName] = g
		}
		h.graph = g
	}
	if h.graph.Scene() != h.scene {
		return fmt.Errorf("args.depsgraph: %s evaluates %s, not %s",
			h.graph.Name(), h.graph.Scene().Name(), h.scene.Name())
	}
	return nil
}

// outcomeCase names a hook's outcome the way expect clauses spell it.
func outcomeCase(err error) string {
	if err == nil {
		return CaseOK
	}
	if code := engine.ErrorCode(err); code != "" {
		return code
	}
	if errors.Is(err, host.ErrUnavailable) {
		return CaseUnavailable
	}
	return "error"
}

// buildContext creates the context directories under root. Directories named
// in Missing are skipped; those in NotDir become plain files.
func buildContext(root string, setup *ContextSetup) (engine.ContextConfig, error) {
	cfg := engine.ContextConfig{
		InstallPath:    filepath.Join(root, "addon"),
		ResourcePath:   filepath.Join(root, "datafiles"),
		UserConfigPath: filepath.Join(root, "config"),
		Headless:       true,
	}
	paths := map[string]string{
		"install":     cfg.InstallPath,
		"resources":   cfg.ResourcePath,
		"user_config": cfg.UserConfigPath,
	}

	var missing, notDir []string
	if setup != nil {
		if setup.Headless != nil {
			cfg.Headless = *setup.Headless
		}
		missing, notDir = setup.Missing, setup.NotDir
	}

	for name, path := range paths {
		switch {
		case slices.Contains(missing, name):
		case slices.Contains(notDir, name):
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				return cfg, err
			}
		default:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return cfg, err
			}
		}
	}
	return cfg, nil
}

// resolveSettings merges override over base and validates the result against
// the settings schema. Omitted fields take their defaults.
func resolveSettings(base, override map[string]interface{}) (host.Settings, error) {
	if len(base) == 0 && len(override) == 0 {
		return host.DefaultSettings(), nil
	}
	merged := make(map[string]interface{}, len(base)+len(override))
	maps.Copy(merged, base)
	maps.Copy(merged, override)

	// JSON is valid CUE, so the schema sees the merged map as source.
	src, err := json.Marshal(merged)
	if err != nil {
		return host.Settings{}, fmt.Errorf("encode settings: %w", err)
	}
	return host.ParseSettings(src)
}

// decodeArgs re-decodes YAML-parsed args into a typed struct, rejecting
// unknown keys.
func decodeArgs(args map[string]interface{}, out any) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	data, err := yaml.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("args: %w", err)
	}
	return nil
}
