// Package host models the 3D application side of the bridge.
//
// Host objects (scenes, evaluation graphs, viewport regions, preferences,
// render engine instances) live in an Arena that gives each a stable address
// and a name. Plugin and RenderEngine are the lifecycle hooks: the host
// registers the plugin once, creates a RenderEngine per viewport or final
// render, and forwards its events to the engine's bridge session.
//
// Render settings are validated against an embedded CUE schema.
package host
