package engine

import (
	"context"
	"sync"
)

// fakeCall is one observed renderer call.
type fakeCall struct {
	op        string
	handle    SessionHandle
	sessionID string

	// refs passed in the call, retained (against the contract) so tests can
	// check they stopped resolving.
	refs []OpaqueRef

	// allLive is true when every non-absent ref resolved during the call.
	allLive bool

	create CreateRequest
	reset  ResetRequest
}

// fakeRenderer records calls and injects failures per op.
type fakeRenderer struct {
	mu      sync.Mutex
	calls   []fakeCall
	next    SessionHandle
	failOn  map[string]error
	initCfg ContextConfig

	// nullHandle makes Create succeed with the null handle.
	nullHandle bool

	// onRender runs inside Render, before it returns.
	onRender func(ctx context.Context)
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{failOn: make(map[string]error)}
}

func (f *fakeRenderer) record(ctx context.Context, op string, h SessionHandle, refs ...OpaqueRef) *fakeCall {
	live := true
	for _, r := range refs {
		if !r.IsAbsent() && !IsLive(r) {
			live = false
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{
		op:        op,
		handle:    h,
		sessionID: SessionIDFromContext(ctx),
		refs:      refs,
		allLive:   live,
	})
	return &f.calls[len(f.calls)-1]
}

func (f *fakeRenderer) Init(ctx context.Context, cfg ContextConfig) error {
	f.record(ctx, "init", 0)
	f.initCfg = cfg
	return f.failOn["init"]
}

func (f *fakeRenderer) Create(ctx context.Context, req CreateRequest) (SessionHandle, error) {
	c := f.record(ctx, "create", 0,
		req.Engine, req.Preferences, req.SceneData, req.DependencyGraph,
		req.Region, req.View3D, req.RegionView3D)
	f.mu.Lock()
	defer f.mu.Unlock()
	c.create = req
	if err := f.failOn["create"]; err != nil {
		return 0, err
	}
	if f.nullHandle {
		return 0, nil
	}
	f.next++
	return f.next, nil
}

func (f *fakeRenderer) Reset(ctx context.Context, h SessionHandle, req ResetRequest) error {
	c := f.record(ctx, "reset", h, req.DependencyGraph, req.SceneData)
	f.mu.Lock()
	c.reset = req
	f.mu.Unlock()
	return f.failOn["reset"]
}

func (f *fakeRenderer) Render(ctx context.Context, h SessionHandle, req RenderRequest) error {
	f.record(ctx, "render", h, req.DependencyGraph)
	if f.onRender != nil {
		f.onRender(ctx)
	}
	return f.failOn["render"]
}

func (f *fakeRenderer) Free(ctx context.Context, h SessionHandle) error {
	f.record(ctx, "free", h)
	return f.failOn["free"]
}

func (f *fakeRenderer) Exit(ctx context.Context) {
	f.record(ctx, "exit", 0)
}

func (f *fakeRenderer) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.op)
	}
	return out
}

// sessionOps filters out context-level calls.
func (f *fakeRenderer) sessionOps() []string {
	var out []string
	for _, op := range f.ops() {
		if op != "init" && op != "exit" {
			out = append(out, op)
		}
	}
	return out
}

func (f *fakeRenderer) count(op string) int {
	n := 0
	for _, o := range f.ops() {
		if o == op {
			n++
		}
	}
	return n
}

func (f *fakeRenderer) last() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeRenderer) snapshot() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}
