// Package backend provides engine.Renderer implementations.
//
// Reference is an in-process renderer: it reads the host scene through the
// call-scoped refs it is handed, keeps per-handle session state, and renders
// frames as square tiles on a worker pool into a Sink.
//
// Recorder decorates any Renderer, stamping every call with a logical
// sequence number and a content-addressed id. The call log feeds the store,
// the scenario harness and the trace command.
package backend
