package host

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phosphoros/internal/backend"
	"github.com/roach88/phosphoros/internal/engine"
	"github.com/roach88/phosphoros/internal/ir"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func contextConfig(t *testing.T) engine.ContextConfig {
	t.Helper()
	root := t.TempDir()
	cfg := engine.ContextConfig{
		InstallPath:    filepath.Join(root, "addon"),
		ResourcePath:   filepath.Join(root, "datafiles"),
		UserConfigPath: filepath.Join(root, "config"),
		Headless:       true,
	}
	for _, p := range []string{cfg.InstallPath, cfg.ResourcePath, cfg.UserConfigPath} {
		require.NoError(t, os.MkdirAll(p, 0o755))
	}
	return cfg
}

type pluginFixture struct {
	plugin *Plugin
	rec    *backend.Recorder
	ref    *backend.Reference
	sink   *backend.MemorySink
	arena  *Arena
	scene  *Scene
	graph  *Depsgraph
	prefs  *Object
}

func newPluginFixture(t *testing.T, opts ...PluginOption) *pluginFixture {
	t.Helper()
	f := &pluginFixture{arena: NewArena(), sink: backend.NewMemorySink()}
	f.ref = backend.NewReference(backend.WithSink(f.sink), backend.WithLogger(quiet()), backend.WithWorkers(2))
	f.rec = backend.NewRecorder(f.ref, backend.WithRecorderLogger(quiet()))
	opts = append([]PluginOption{WithLogger(quiet()), WithIDGenerator(engine.NewSequentialGenerator("session"))}, opts...)
	f.plugin = NewPlugin(f.rec, f.arena, opts...)
	f.scene = f.arena.Scene("Scene", 64, 48, 1)
	f.graph = f.arena.Depsgraph("Depsgraph", f.scene)
	f.prefs = f.arena.Object("Preferences")
	return f
}

func (f *pluginFixture) update() Update {
	return Update{
		Scene:       f.scene,
		Depsgraph:   f.graph,
		Preferences: f.prefs,
		Settings:    DefaultSettings(),
	}
}

func TestPlugin_RegisterFailureDisablesEngine(t *testing.T) {
	f := newPluginFixture(t)
	cfg := contextConfig(t)
	cfg.InstallPath = filepath.Join(cfg.InstallPath, "missing")

	err := f.plugin.Register(context.Background(), cfg)

	assert.ErrorIs(t, err, engine.ErrPathInvalid)
	assert.False(t, f.plugin.Available())
	_, err = f.plugin.NewRenderEngine("final")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestPlugin_RegisterTwice(t *testing.T) {
	f := newPluginFixture(t)
	cfg := contextConfig(t)

	require.NoError(t, f.plugin.Register(context.Background(), cfg))
	err := f.plugin.Register(context.Background(), cfg)

	assert.ErrorIs(t, err, engine.ErrAlreadyInitialized)
	assert.Equal(t, 1, f.rec.Count(ir.OpInit))
}

func TestPlugin_SecondPluginOnSameRenderer(t *testing.T) {
	f := newPluginFixture(t)
	ctx := context.Background()
	require.NoError(t, f.plugin.Register(ctx, contextConfig(t)))

	other := NewPlugin(f.rec, f.arena, WithLogger(quiet()))
	err := other.Register(ctx, contextConfig(t))

	assert.ErrorIs(t, err, engine.ErrAlreadyInitialized)
	assert.False(t, other.Available())
	assert.Equal(t, 1, f.rec.Count(ir.OpInit), "the renderer is initialized once")

	f.plugin.Unregister(ctx)
	require.NoError(t, other.Register(ctx, contextConfig(t)), "released at unregister")
	other.Unregister(ctx)
}

// Initialize, create a session, sync, render, sync, render, tear down, then
// request one more frame.
func TestPlugin_FinalRenderLifecycle(t *testing.T) {
	f := newPluginFixture(t)
	ctx := context.Background()
	require.NoError(t, f.plugin.Register(ctx, contextConfig(t)))

	e, err := f.plugin.NewRenderEngine("final")
	require.NoError(t, err)

	require.NoError(t, e.Update(ctx, f.update()))
	require.NoError(t, e.Render(ctx, f.graph))
	require.NoError(t, e.Update(ctx, f.update()))
	require.NoError(t, e.Render(ctx, f.graph))
	e.Free(ctx)
	err = e.Render(ctx, f.graph)

	assert.ErrorIs(t, err, engine.ErrUseAfterFree)
	assert.Equal(t, []ir.Op{
		ir.OpInit, ir.OpCreate, ir.OpRender, ir.OpReset, ir.OpRender, ir.OpFree,
	}, f.rec.Ops())
	assert.Equal(t, 2, f.sink.Frames())
	assert.Empty(t, f.plugin.Engines())
	assert.Equal(t, 0, f.ref.Sessions())

	create := f.rec.Calls()[1]
	assert.Equal(t, "session-1", create.SessionID)
	assert.Equal(t, ir.IRString("final"), create.Args["engine"])
	assert.Equal(t, ir.IRString("Scene"), create.Args["scene_data"])
	assert.Equal(t, ir.IRString("absent"), create.Args["region_view3d"])
}

func TestPlugin_ViewportFrameSize(t *testing.T) {
	f := newPluginFixture(t)
	ctx := context.Background()
	require.NoError(t, f.plugin.Register(ctx, contextConfig(t)))
	e, err := f.plugin.NewRenderEngine("viewport")
	require.NoError(t, err)

	u := f.update()
	u.Viewport = f.arena.Viewport(40, 30)
	require.NoError(t, e.Update(ctx, u))
	require.NoError(t, e.Render(ctx, f.graph))

	img := f.sink.Frame()
	require.NotNil(t, img)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
	assert.Equal(t, ir.IRString("RegionView3D"), f.rec.Calls()[1].Args["region_view3d"])
}

func TestPlugin_SceneEditsReachRenderer(t *testing.T) {
	f := newPluginFixture(t)
	ctx := context.Background()
	require.NoError(t, f.plugin.Register(ctx, contextConfig(t)))
	e, err := f.plugin.NewRenderEngine("final")
	require.NoError(t, err)

	require.NoError(t, e.Update(ctx, f.update()))
	f.scene.SetLights(0)
	require.NoError(t, e.Update(ctx, f.update()))
	require.NoError(t, e.Render(ctx, f.graph))

	assert.Equal(t, 0, f.sink.Frames(), "a scene with no lights renders nothing")

	f.scene.SetLights(2)
	f.scene.SetResolution(16, 16)
	require.NoError(t, e.Update(ctx, f.update()))
	require.NoError(t, e.Render(ctx, f.graph))

	assert.Equal(t, 16, f.sink.Frame().Bounds().Dx())
}

func TestPlugin_UnregisterTearsDownEngines(t *testing.T) {
	f := newPluginFixture(t)
	ctx := context.Background()
	require.NoError(t, f.plugin.Register(ctx, contextConfig(t)))

	a, err := f.plugin.NewRenderEngine("viewport")
	require.NoError(t, err)
	b, err := f.plugin.NewRenderEngine("final")
	require.NoError(t, err)
	_, err = f.plugin.NewRenderEngine("never-updated")
	require.NoError(t, err)
	require.NoError(t, a.Update(ctx, f.update()))
	require.NoError(t, b.Update(ctx, f.update()))
	require.Len(t, f.plugin.Engines(), 3)

	f.plugin.Unregister(ctx)

	assert.Empty(t, f.plugin.Engines())
	assert.False(t, f.plugin.Available())
	assert.Equal(t, 2, f.rec.Count(ir.OpFree), "only sessions with a handle are freed")
	assert.Equal(t, ir.OpExit, f.rec.Ops()[len(f.rec.Ops())-1], "exit comes after every free")
	assert.Equal(t, engine.StateFreed, a.Session().State())

	// Idempotent.
	f.plugin.Unregister(ctx)
	assert.Equal(t, 1, f.rec.Count(ir.OpExit))
}

func TestPlugin_ObserverSeesEveryTransition(t *testing.T) {
	var seen []engine.State
	f := newPluginFixture(t, WithObserver(func(tr engine.Transition) {
		seen = append(seen, tr.To)
	}))
	ctx := context.Background()
	require.NoError(t, f.plugin.Register(ctx, contextConfig(t)))
	e, err := f.plugin.NewRenderEngine("final")
	require.NoError(t, err)

	require.NoError(t, e.Update(ctx, f.update()))
	require.NoError(t, e.Render(ctx, f.graph))
	e.Free(ctx)

	assert.Equal(t, []engine.State{
		engine.StateCreated, engine.StateRendering, engine.StateSynced, engine.StateFreed,
	}, seen)
}

func TestPlugin_UpdateErrorsAreReturned(t *testing.T) {
	f := newPluginFixture(t)
	ctx := context.Background()
	require.NoError(t, f.plugin.Register(ctx, contextConfig(t)))
	f.rec.Fail(ir.OpCreate, errors.New("out of memory"))
	e, err := f.plugin.NewRenderEngine("final")
	require.NoError(t, err)

	err = e.Update(ctx, f.update())

	assert.ErrorIs(t, err, engine.ErrCreateFailed)
	assert.Equal(t, engine.StateUninitialized, e.Session().State())
}

type panicRenderer struct{ engine.Renderer }

func (panicRenderer) Create(context.Context, engine.CreateRequest) (engine.SessionHandle, error) {
	panic("segfault in renderer")
}

func TestRenderEngine_GuardsPanics(t *testing.T) {
	arena := NewArena()
	p := NewPlugin(panicRenderer{backend.NewReference(backend.WithLogger(quiet()))}, arena, WithLogger(quiet()))
	ctx := context.Background()
	require.NoError(t, p.Register(ctx, contextConfig(t)))
	e, err := p.NewRenderEngine("final")
	require.NoError(t, err)
	scene := arena.Scene("Scene", 8, 8, 1)

	assert.NotPanics(t, func() {
		err = e.Update(ctx, Update{Scene: scene, Settings: DefaultSettings()})
	})
	assert.ErrorContains(t, err, "renderer panic")
}
