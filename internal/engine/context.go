package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sync"
)

// ContextConfig is the process-wide renderer configuration handed over at
// plugin registration.
type ContextConfig struct {
	// InstallPath is where the plugin is installed (material boot data lives here).
	InstallPath string

	// ResourcePath is the host's shared resource directory.
	ResourcePath string

	// UserConfigPath is the per-user configuration directory.
	UserConfigPath string

	// Headless is set when the host runs without a UI (background rendering).
	Headless bool
}

// Context is the process-wide renderer state.
//
// It is initialized exactly once before the first Session is created and shut
// down after the last Session is freed. The host plugin owns the single
// instance; Context itself does not reference-count sessions.
//
// After Initialize the configuration is read-only.
type Context struct {
	mu       sync.RWMutex
	renderer Renderer
	cfg      ContextConfig
	ready    bool
	logger   *slog.Logger
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithContextLogger sets the context's logger. Default: slog.Default().
func WithContextLogger(l *slog.Logger) ContextOption {
	return func(c *Context) {
		c.logger = l
	}
}

// NewContext creates an uninitialized context bound to a renderer backend.
func NewContext(r Renderer, opts ...ContextOption) *Context {
	c := &Context{
		renderer: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize validates the paths and runs the renderer's init entry point.
//
// Errors:
//   - ALREADY_INITIALIZED if called twice without an intervening Shutdown,
//     or if another Context already initialized the same renderer
//   - PATH_INVALID if any path is empty or not an existing directory
//   - BACKEND_INIT_FAILED if the renderer's init fails
//
// On error the context stays uninitialized.
func (c *Context) Initialize(ctx context.Context, cfg ContextConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		return &InitError{
			Code:    ErrCodeAlreadyInitialized,
			Message: "engine context initialized twice without shutdown",
		}
	}
	if !claim(c.renderer, c) {
		return &InitError{
			Code:    ErrCodeAlreadyInitialized,
			Message: "renderer is owned by another engine context",
		}
	}

	for _, p := range []struct{ name, path string }{
		{"install", cfg.InstallPath},
		{"resource", cfg.ResourcePath},
		{"user config", cfg.UserConfigPath},
	} {
		if err := requireDir(p.path); err != nil {
			release(c.renderer, c)
			return &InitError{
				Code:    ErrCodePathInvalid,
				Message: p.name + " path does not resolve to a directory",
				Path:    p.path,
				Err:     err,
			}
		}
	}

	if err := c.renderer.Init(ctx, cfg); err != nil {
		release(c.renderer, c)
		return &InitError{
			Code:    ErrCodeBackendInit,
			Message: "renderer init failed",
			Err:     err,
		}
	}

	c.cfg = cfg
	c.ready = true
	c.logger.Info("engine context initialized",
		"install", cfg.InstallPath,
		"resources", cfg.ResourcePath,
		"user_config", cfg.UserConfigPath,
		"headless", cfg.Headless,
	)
	return nil
}

// Shutdown releases the renderer's global state. Idempotent: calling it on an
// uninitialized context does nothing, so teardown order during process exit
// does not matter.
func (c *Context) Shutdown(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return
	}
	c.renderer.Exit(ctx)
	release(c.renderer, c)
	c.ready = false
	c.cfg = ContextConfig{}
	c.logger.Info("engine context shut down")
}

// Ready reports whether Initialize succeeded and Shutdown has not run since.
func (c *Context) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Config returns the configuration passed to Initialize.
func (c *Context) Config() ContextConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Renderer returns the backend this context drives.
func (c *Context) Renderer() Renderer {
	return c.renderer
}

// owners maps each initialized renderer to its Context, so a backend has at
// most one live context in the process.
var (
	ownersMu sync.Mutex
	owners   = make(map[Renderer]*Context)
)

// claim records c as r's owner. Renderers of non-comparable types cannot be
// tracked and are always claimable.
func claim(r Renderer, c *Context) bool {
	if r == nil || !reflect.TypeOf(r).Comparable() {
		return true
	}
	ownersMu.Lock()
	defer ownersMu.Unlock()
	if owner, ok := owners[r]; ok && owner != c {
		return false
	}
	owners[r] = c
	return true
}

func release(r Renderer, c *Context) {
	if r == nil || !reflect.TypeOf(r).Comparable() {
		return
	}
	ownersMu.Lock()
	defer ownersMu.Unlock()
	if owners[r] == c {
		delete(owners, r)
	}
}

func requireDir(path string) error {
	if path == "" {
		return os.ErrNotExist
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{Op: "stat", Path: path, Err: errNotDir}
	}
	return nil
}

var errNotDir = errors.New("not a directory")
