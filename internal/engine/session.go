package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/phosphoros/internal/ir"
)

// State is a session's position in its lifecycle.
//
//	Uninitialized -> Created -> Synced <-> Rendering
//	                                 \-> Freed (terminal, from any state)
type State int

const (
	StateUninitialized State = iota
	StateCreated
	StateSynced
	StateRendering
	StateFreed
)

var stateNames = [...]string{
	StateUninitialized: "Uninitialized",
	StateCreated:       "Created",
	StateSynced:        "Synced",
	StateRendering:     "Rendering",
	StateFreed:         "Freed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Viewport holds the optional interactive-viewport objects. A nil *Viewport
// means a final or background render.
type Viewport struct {
	Region       HostObject
	View3D       HostObject
	RegionView3D HostObject
}

// SceneUpdate is the fresh reference set the host supplies on every
// "scene updated" event. None of these objects may be retained by the bridge
// past the call.
type SceneUpdate struct {
	SceneData       HostObject
	DependencyGraph HostObject
	Preferences     HostObject
	Viewport        *Viewport
	Settings        HostSettings
	Preview         bool
}

// Transition describes one state change, delivered to observers after the
// change is applied.
type Transition struct {
	SessionID string
	Owner     HostObject
	From      State
	To        State
	Handle    SessionHandle
}

// TransitionFunc receives session transitions.
type TransitionFunc func(Transition)

// Session owns one renderer session for one host render-engine instance.
//
// It collapses "first update creates, later updates resync" into
// OnSceneUpdate so the host only ever reports events; the create/reset
// decision, and the guarantees around it (no double create, no reset before
// create, no call after free), live here.
//
// Thread-safety model: the host drives OnSceneUpdate, OnFrameRequest and
// OnTeardown sequentially from its own loop. State() and Handle() are safe
// from any goroutine. The mutex is never held across a renderer call.
type Session struct {
	id     string
	owner  HostObject
	ectx   *Context
	logger *slog.Logger
	idGen  IDGenerator

	mu        sync.Mutex
	state     State
	handle    SessionHandle
	observers []TransitionFunc

	// teardown requested while a render was in flight; honored on return
	freeAfterRender bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// WithIDGenerator sets the generator for the session's identity.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) SessionOption {
	return func(s *Session) {
		s.idGen = g
	}
}

// WithObserver registers a transition observer at construction time.
func WithObserver(fn TransitionFunc) SessionOption {
	return func(s *Session) {
		s.observers = append(s.observers, fn)
	}
}

// NewSession creates an Uninitialized session owned by a host render-engine
// instance. No renderer call is made until the first scene update.
func NewSession(ec *Context, owner HostObject, opts ...SessionOption) *Session {
	s := &Session{
		owner:  owner,
		ectx:   ec,
		logger: slog.Default(),
		idGen:  UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.id = s.idGen.Generate()
	s.logger = s.logger.With("session", s.id)
	return s
}

// ID returns the session's identity.
func (s *Session) ID() string { return s.id }

// Owner returns the host render-engine instance that owns this session.
func (s *Session) Owner() HostObject { return s.owner }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the renderer handle, or the null handle outside
// Created/Synced/Rendering.
func (s *Session) Handle() SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Observe registers fn for all subsequent transitions.
func (s *Session) Observe(fn TransitionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// OnSceneUpdate handles the host's "scene updated" event.
//
// Uninitialized: creates the renderer session (requires an initialized
// Context) and moves to Created. Created/Synced: resynchronizes with a fully
// current reference set and moves to Synced. Freed: USE_AFTER_FREE.
// Rendering: SESSION_BUSY.
//
// A failed create leaves the session Uninitialized so the next update retries.
// A failed reset leaves the state unchanged.
func (s *Session) OnSceneUpdate(ctx context.Context, u SceneUpdate) error {
	switch state := s.State(); state {
	case StateFreed:
		return s.fail(ErrCodeUseAfterFree, "scene update after teardown", state, nil)
	case StateRendering:
		return s.fail(ErrCodeBusy, "scene update while a frame is rendering", state, nil)
	case StateUninitialized:
		return s.create(ctx, u)
	default:
		return s.reset(ctx, u)
	}
}

func (s *Session) create(ctx context.Context, u SceneUpdate) error {
	if !s.ectx.Ready() {
		return s.fail(ErrCodeContextNotReady, "engine context is not initialized", StateUninitialized, nil)
	}

	scope := NewCallScope(string(ir.OpCreate))
	req := CreateRequest{
		Engine:          Marshal(scope, RefEngine, s.owner),
		Preferences:     Marshal(scope, RefPreferences, u.Preferences),
		SceneData:       Marshal(scope, RefSceneData, u.SceneData),
		DependencyGraph: Marshal(scope, RefDependencyGraph, u.DependencyGraph),
		Region:          Absent,
		View3D:          Absent,
		RegionView3D:    Absent,
		Preview:         u.Preview,
		Config:          Capture(u.Settings),
	}
	if u.Viewport != nil {
		req.Region = Marshal(scope, RefRegion, u.Viewport.Region)
		req.View3D = Marshal(scope, RefView3D, u.Viewport.View3D)
		req.RegionView3D = Marshal(scope, RefRegionView3D, u.Viewport.RegionView3D)
	}

	h, err := s.ectx.Renderer().Create(WithSessionID(ctx, s.id), req)
	scope.Close()

	if err == nil && h.IsNull() {
		err = fmt.Errorf("renderer returned a null session handle")
	}
	if err != nil {
		return s.fail(ErrCodeCreateFailed, "renderer create failed", StateUninitialized, err)
	}

	s.transition(StateCreated, h)
	s.logger.Debug("session created",
		"handle", uint64(h),
		"scene", req.SceneData.Label(),
		"viewport", req.IsViewport(),
	)
	return nil
}

func (s *Session) reset(ctx context.Context, u SceneUpdate) error {
	s.mu.Lock()
	h, state := s.handle, s.state
	s.mu.Unlock()

	scope := NewCallScope(string(ir.OpReset))
	req := ResetRequest{
		DependencyGraph: Marshal(scope, RefDependencyGraph, u.DependencyGraph),
		SceneData:       Marshal(scope, RefSceneData, u.SceneData),
		Config:          Capture(u.Settings),
	}

	err := s.ectx.Renderer().Reset(WithSessionID(ctx, s.id), h, req)
	scope.Close()

	if err != nil {
		return s.fail(ErrCodeResetFailed, "renderer reset failed", state, err)
	}

	s.transition(StateSynced, h)
	s.logger.Debug("session synced",
		"handle", uint64(h),
		"scene", req.SceneData.Label(),
		"depsgraph", req.DependencyGraph.Label(),
	)
	return nil
}

// OnFrameRequest handles the host's "frame requested" event.
//
// Valid from Created or Synced. The render call blocks until the frame
// completes or the renderer reports cancellation; the session then returns to
// Synced whether or not the render succeeded.
func (s *Session) OnFrameRequest(ctx context.Context, depsgraph HostObject) error {
	s.mu.Lock()
	state, h := s.state, s.handle
	s.mu.Unlock()

	switch state {
	case StateFreed:
		return s.fail(ErrCodeUseAfterFree, "frame requested after teardown", state, nil)
	case StateUninitialized:
		return s.fail(ErrCodeNotSynced, "frame requested before any successful sync", state, nil)
	case StateRendering:
		return s.fail(ErrCodeBusy, "frame requested while a frame is rendering", state, nil)
	}

	s.transition(StateRendering, h)

	scope := NewCallScope(string(ir.OpRender))
	req := RenderRequest{
		DependencyGraph: Marshal(scope, RefDependencyGraph, depsgraph),
	}
	err := s.ectx.Renderer().Render(WithSessionID(ctx, s.id), h, req)
	scope.Close()

	s.transition(StateSynced, h)

	s.mu.Lock()
	deferred := s.freeAfterRender
	s.freeAfterRender = false
	s.mu.Unlock()
	if deferred {
		s.OnTeardown(ctx)
	}

	if err != nil {
		return s.fail(ErrCodeRenderFailed, "renderer render failed", s.State(), err)
	}
	return nil
}

// OnTeardown frees the renderer session. It never fails and is idempotent:
// a session that is already Freed, or that never obtained a handle, makes no
// renderer call. Free errors from the renderer are logged and swallowed.
//
// A teardown that arrives while a render is in flight is deferred until the
// render returns, so free never overlaps render on the same handle.
func (s *Session) OnTeardown(ctx context.Context) {
	s.mu.Lock()
	state, h := s.state, s.handle
	if state == StateRendering {
		s.freeAfterRender = true
		s.mu.Unlock()
		s.logger.Warn("teardown during render; free deferred until the frame returns")
		return
	}
	s.mu.Unlock()

	if state == StateFreed {
		return
	}

	if !h.IsNull() {
		if err := s.ectx.Renderer().Free(WithSessionID(ctx, s.id), h); err != nil {
			s.logger.Error("renderer free failed", "handle", uint64(h), "error", err)
		}
	}

	s.transition(StateFreed, 0)
	s.logger.Debug("session freed", "handle", uint64(h))
}

// transition applies a state change and notifies observers outside the lock.
func (s *Session) transition(to State, h SessionHandle) {
	s.mu.Lock()
	t := Transition{
		SessionID: s.id,
		Owner:     s.owner,
		From:      s.state,
		To:        to,
		Handle:    h,
	}
	s.state = to
	s.handle = h
	observers := make([]TransitionFunc, len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(t)
	}
}

// fail builds and logs a SessionError. Sequencing errors are warnings;
// renderer failures are errors.
func (s *Session) fail(code SessionErrorCode, msg string, state State, cause error) error {
	err := &SessionError{
		Code:      code,
		Message:   msg,
		SessionID: s.id,
		State:     state,
		Err:       cause,
	}
	if cause != nil {
		s.logger.Error(msg, "code", string(code), "state", state.String(), "error", cause)
	} else {
		s.logger.Warn(msg, "code", string(code), "state", state.String())
	}
	return err
}

type sessionIDKey struct{}

// WithSessionID tags ctx with the session issuing a renderer call, so
// decorators such as call recorders can attribute calls made before a handle
// exists.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session id set by WithSessionID, or "".
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
