// Package engine implements the host-side half of the Phosphoros bridge.
//
// The bridge keeps one renderer session per host render-engine instance in
// step with an editable scene. The host reports events (scene updated, frame
// requested, instance destroyed); Session turns them into a strictly ordered
// sequence of renderer calls.
//
// ARCHITECTURE:
//
// Context:
// Process-wide renderer state. Initialized once at plugin registration,
// shut down at unregistration. Sessions refuse to create without it.
//
// Session:
// Per-instance state machine.
//
//	Uninitialized --update--> Created --update--> Synced
//	Created/Synced --frame--> Rendering --return--> Synced
//	any --teardown--> Freed (terminal)
//
// The first update issues create, every later update issues reset. A frame
// is only rendered after a successful create or reset. Free is issued at most
// once and nothing is issued after it.
//
// Marshaling:
// Host objects cross into the renderer as OpaqueRef tokens bound to a
// CallScope. The session opens a scope for exactly one renderer call and
// closes it when the call returns, so a ref that escapes the call stops
// resolving.
//
// Snapshot:
// Render settings are copied by value at every create and reset. The renderer
// never observes a settings change between syncs.
//
// CRITICAL PATTERNS:
//
// Single caller: the host drives a session from one loop. Session never holds
// its mutex across a renderer call, and a nested call while Rendering fails
// with SESSION_BUSY instead of overlapping.
//
// Typed failures: every rejected event returns *SessionError with a stable
// code and is logged; no host hook panics.
package engine
