package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/phosphoros/internal/engine"
	"github.com/roach88/phosphoros/internal/ir"
)

// CallWriter persists recorded calls. Implemented by *store.Store.
type CallWriter interface {
	WriteCall(ctx context.Context, c ir.Call) error
}

// Recorder is an engine.Renderer decorator that logs every call.
//
// Each call gets the next logical seq and a content-addressed id computed
// from (session, op, args, seq). Refs are recorded by label, so traces read
// as object names rather than addresses.
//
// Faults registered with Fail short-circuit the call before it reaches the
// wrapped renderer; the failure is still recorded.
type Recorder struct {
	inner  engine.Renderer
	clock  engine.Sequencer
	writer CallWriter
	logger *slog.Logger

	mu     sync.Mutex
	calls  []ir.Call
	faults map[ir.Op]error
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock sets the sequencer stamping calls. Default: a fresh engine.Clock.
func WithClock(c engine.Sequencer) RecorderOption {
	return func(r *Recorder) {
		r.clock = c
	}
}

// WithCallWriter persists every call as it is recorded.
func WithCallWriter(w CallWriter) RecorderOption {
	return func(r *Recorder) {
		r.writer = w
	}
}

// WithRecorderLogger sets the recorder's logger. Default: slog.Default().
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.logger = l
	}
}

// NewRecorder wraps inner.
func NewRecorder(inner engine.Renderer, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		inner:  inner,
		clock:  engine.NewClock(),
		logger: slog.Default(),
		faults: make(map[ir.Op]error),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fail makes every later call of op fail with err without reaching the
// wrapped renderer.
func (r *Recorder) Fail(op ir.Op, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.faults[op] = err
}

// Heal removes a fault registered with Fail.
func (r *Recorder) Heal(op ir.Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.faults, op)
}

func (r *Recorder) fault(op ir.Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.faults[op]
}

func (r *Recorder) Init(ctx context.Context, cfg engine.ContextConfig) error {
	err := r.fault(ir.OpInit)
	if err == nil {
		err = r.inner.Init(ctx, cfg)
	}
	r.record(ctx, ir.OpInit, 0, ir.IRObject{"headless": ir.IRBool(cfg.Headless)}, err)
	return err
}

func (r *Recorder) Create(ctx context.Context, req engine.CreateRequest) (engine.SessionHandle, error) {
	args := ir.IRObject{
		"engine":           refArg(req.Engine),
		"preferences":      refArg(req.Preferences),
		"scene_data":       refArg(req.SceneData),
		"dependency_graph": refArg(req.DependencyGraph),
		"region":           refArg(req.Region),
		"view3d":           refArg(req.View3D),
		"region_view3d":    refArg(req.RegionView3D),
		"preview":          ir.IRBool(req.Preview),
		"config":           req.Config.Fields(),
	}

	var h engine.SessionHandle
	err := r.fault(ir.OpCreate)
	if err == nil {
		h, err = r.inner.Create(ctx, req)
	}
	r.record(ctx, ir.OpCreate, h, args, err)
	return h, err
}

func (r *Recorder) Reset(ctx context.Context, h engine.SessionHandle, req engine.ResetRequest) error {
	args := ir.IRObject{
		"dependency_graph": refArg(req.DependencyGraph),
		"scene_data":       refArg(req.SceneData),
		"config":           req.Config.Fields(),
	}

	err := r.fault(ir.OpReset)
	if err == nil {
		err = r.inner.Reset(ctx, h, req)
	}
	r.record(ctx, ir.OpReset, h, args, err)
	return err
}

func (r *Recorder) Render(ctx context.Context, h engine.SessionHandle, req engine.RenderRequest) error {
	args := ir.IRObject{"dependency_graph": refArg(req.DependencyGraph)}

	err := r.fault(ir.OpRender)
	if err == nil {
		err = r.inner.Render(ctx, h, req)
	}
	r.record(ctx, ir.OpRender, h, args, err)
	return err
}

func (r *Recorder) Free(ctx context.Context, h engine.SessionHandle) error {
	err := r.fault(ir.OpFree)
	if err == nil {
		err = r.inner.Free(ctx, h)
	}
	r.record(ctx, ir.OpFree, h, ir.IRObject{}, err)
	return err
}

func (r *Recorder) Exit(ctx context.Context) {
	r.inner.Exit(ctx)
	r.record(ctx, ir.OpExit, 0, ir.IRObject{}, nil)
}

// record appends the call and forwards it to the writer. Persistence
// failures are logged; they never change the call's outcome.
func (r *Recorder) record(ctx context.Context, op ir.Op, h engine.SessionHandle, args ir.IRObject, callErr error) {
	sessionID := engine.SessionIDFromContext(ctx)
	seq := r.clock.Next()

	c := ir.Call{
		SessionID: sessionID,
		Op:        op,
		Handle:    uint64(h),
		Args:      args,
		Outcome:   ir.OutcomeOK,
		Seq:       seq,
	}
	if callErr != nil {
		c.Outcome = ir.OutcomeError
		c.Error = callErr.Error()
	}

	id, err := ir.CallID(sessionID, op, args, seq)
	if err != nil {
		r.logger.Error("call id", "op", string(op), "error", err)
		id = fmt.Sprintf("seq-%d", seq)
	}
	c.ID = id

	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()

	if r.writer != nil {
		if err := r.writer.WriteCall(ctx, c); err != nil {
			r.logger.Error("persist call", "op", string(op), "seq", seq, "error", err)
		}
	}
}

// Calls returns a copy of the recorded calls in seq order.
func (r *Recorder) Calls() []ir.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Ops returns the op of every recorded call in order.
func (r *Recorder) Ops() []ir.Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.Op, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.Op)
	}
	return out
}

// Count returns how many times op was called.
func (r *Recorder) Count(op ir.Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// CallsFor returns the calls attributed to one session.
func (r *Recorder) CallsFor(sessionID string) []ir.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ir.Call
	for _, c := range r.calls {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	return out
}

func refArg(ref engine.OpaqueRef) ir.IRValue {
	return ir.IRString(ref.Label())
}
