package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/phosphoros/internal/engine"
)

// ErrUnavailable is returned when a render engine is requested while the
// plugin is not registered.
var ErrUnavailable = errors.New("render engine unavailable: plugin not registered")

// Plugin is the host-side registration of the renderer. It owns the single
// engine Context of the process and every live RenderEngine.
type Plugin struct {
	ec     *engine.Context
	arena  *Arena
	logger *slog.Logger
	idGen  engine.IDGenerator

	mu        sync.Mutex
	engines   []*RenderEngine
	observers []engine.TransitionFunc
}

// PluginOption configures a Plugin.
type PluginOption func(*Plugin)

// WithLogger sets the plugin's logger, shared with its context and sessions.
// Default: slog.Default().
func WithLogger(l *slog.Logger) PluginOption {
	return func(p *Plugin) {
		p.logger = l
	}
}

// WithIDGenerator sets the session id generator. Default: UUIDv7.
func WithIDGenerator(g engine.IDGenerator) PluginOption {
	return func(p *Plugin) {
		p.idGen = g
	}
}

// WithObserver attaches fn to every session the plugin creates.
func WithObserver(fn engine.TransitionFunc) PluginOption {
	return func(p *Plugin) {
		p.observers = append(p.observers, fn)
	}
}

// NewPlugin binds a plugin to a renderer. Host objects, including render
// engine instances, are allocated from arena.
func NewPlugin(r engine.Renderer, arena *Arena, opts ...PluginOption) *Plugin {
	p := &Plugin{
		arena:  arena,
		logger: slog.Default(),
		idGen:  engine.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ec = engine.NewContext(r, engine.WithContextLogger(p.logger))
	return p
}

// Register initializes the engine context. On failure the render engine
// option stays disabled and the error is returned for the host to surface.
func (p *Plugin) Register(ctx context.Context, cfg engine.ContextConfig) error {
	if err := p.ec.Initialize(ctx, cfg); err != nil {
		p.logger.Error("plugin registration failed", "error", err)
		return err
	}
	return nil
}

// Unregister tears down every live render engine, newest first, then shuts
// the context down. Safe to call when not registered.
func (p *Plugin) Unregister(ctx context.Context) {
	p.mu.Lock()
	live := slices.Clone(p.engines)
	p.mu.Unlock()

	for _, e := range slices.Backward(live) {
		e.Free(ctx)
	}
	p.ec.Shutdown(ctx)
}

// Available reports whether render engines can be created.
func (p *Plugin) Available() bool {
	return p.ec.Ready()
}

// Context returns the plugin's engine context.
func (p *Plugin) Context() *engine.Context {
	return p.ec
}

// NewRenderEngine creates a render engine instance, as the host does for
// every viewport and every final render.
func (p *Plugin) NewRenderEngine(name string) (*RenderEngine, error) {
	if !p.Available() {
		return nil, ErrUnavailable
	}

	e := &RenderEngine{
		Object: Object{addr: p.arena.alloc(), name: name},
		plugin: p,
	}

	p.mu.Lock()
	opts := []engine.SessionOption{
		engine.WithLogger(p.logger.With("engine", name)),
		engine.WithIDGenerator(p.idGen),
	}
	for _, fn := range p.observers {
		opts = append(opts, engine.WithObserver(fn))
	}
	e.session = engine.NewSession(p.ec, e, opts...)
	p.engines = append(p.engines, e)
	p.mu.Unlock()

	e.logger = p.logger.With("engine", name, "session", e.session.ID())
	return e, nil
}

// Engines returns the live render engines in creation order.
func (p *Plugin) Engines() []*RenderEngine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.engines)
}

func (p *Plugin) remove(e *RenderEngine) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.engines = slices.DeleteFunc(p.engines, func(x *RenderEngine) bool { return x == e })
}

// Update is one "scene updated" event as the host delivers it.
type Update struct {
	Scene       *Scene
	Depsgraph   *Depsgraph
	Preferences *Object
	Viewport    *Viewport
	Settings    Settings
	Preview     bool
}

// RenderEngine is one host render-engine instance. It is the owner of exactly
// one bridge session and the object the renderer sees as "engine".
type RenderEngine struct {
	Object
	plugin  *Plugin
	session *engine.Session
	logger  *slog.Logger
}

// Session returns the engine's bridge session.
func (e *RenderEngine) Session() *engine.Session { return e.session }

// Update forwards a scene update to the session.
func (e *RenderEngine) Update(ctx context.Context, u Update) error {
	su := engine.SceneUpdate{
		SceneData:       u.Scene,
		DependencyGraph: u.Depsgraph,
		Preferences:     u.Preferences,
		Settings:        u.Settings.HostSettings(),
		Preview:         u.Preview,
	}
	if u.Viewport != nil {
		su.Viewport = &engine.Viewport{
			Region:       u.Viewport.Region,
			View3D:       u.Viewport.View3D,
			RegionView3D: u.Viewport.RegionView3D,
		}
	}
	return e.guard("update", func() error {
		return e.session.OnSceneUpdate(ctx, su)
	})
}

// Render forwards a frame request to the session.
func (e *RenderEngine) Render(ctx context.Context, depsgraph *Depsgraph) error {
	return e.guard("render", func() error {
		return e.session.OnFrameRequest(ctx, depsgraph)
	})
}

// Free tears the session down and detaches the engine from the plugin.
func (e *RenderEngine) Free(ctx context.Context) {
	_ = e.guard("free", func() error {
		e.session.OnTeardown(ctx)
		return nil
	})
	e.plugin.remove(e)
}

// guard keeps renderer panics from unwinding into the host.
func (e *RenderEngine) guard(hook string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s hook: renderer panic: %v", hook, r)
			e.logger.Error("renderer panic", "hook", hook, "panic", r)
		}
	}()
	return fn()
}
