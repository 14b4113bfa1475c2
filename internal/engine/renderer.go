package engine

import "context"

// SessionHandle is the renderer's opaque identifier for one session.
// The zero handle is the null handle and is never returned by a successful Create.
type SessionHandle uint64

// IsNull reports whether h is the null handle.
func (h SessionHandle) IsNull() bool { return h == 0 }

// Renderer is the opaque rendering engine reached through six entry points.
//
// The bridge never issues overlapping calls for the same handle, and each call
// is synchronous from the bridge's point of view. Implementations may
// parallelize internally.
//
// Every OpaqueRef passed in a request is live only until the call returns.
// Implementations must not retain refs or the objects they borrow.
type Renderer interface {
	// Init prepares process-wide renderer state.
	Init(ctx context.Context, cfg ContextConfig) error

	// Create builds a session for one host render-engine instance.
	Create(ctx context.Context, req CreateRequest) (SessionHandle, error)

	// Reset resynchronizes a session against a fully current reference set.
	// The renderer decides which sub-objects actually changed.
	Reset(ctx context.Context, h SessionHandle, req ResetRequest) error

	// Render blocks until the frame completes or is cancelled.
	Render(ctx context.Context, h SessionHandle, req RenderRequest) error

	// Free releases a session. The handle is invalid afterwards.
	Free(ctx context.Context, h SessionHandle) error

	// Exit releases process-wide renderer state.
	Exit(ctx context.Context)
}

// CreateRequest carries everything the renderer needs to build a session.
//
// Region, View3D and RegionView3D are Absent for final (non-viewport) renders.
// DependencyGraph is the evaluated state at creation time, so a frame can be
// requested straight after creation.
type CreateRequest struct {
	Engine          OpaqueRef
	Preferences     OpaqueRef
	SceneData       OpaqueRef
	DependencyGraph OpaqueRef
	Region          OpaqueRef
	View3D          OpaqueRef
	RegionView3D    OpaqueRef
	Preview         bool
	Config          Snapshot
}

// IsViewport reports whether the session renders into an interactive viewport.
func (r CreateRequest) IsViewport() bool {
	return !r.RegionView3D.IsAbsent()
}

// ResetRequest carries the fresh reference set for a resynchronization.
type ResetRequest struct {
	DependencyGraph OpaqueRef
	SceneData       OpaqueRef
	Config          Snapshot
}

// RenderRequest carries the evaluated state to render.
type RenderRequest struct {
	DependencyGraph OpaqueRef
}
