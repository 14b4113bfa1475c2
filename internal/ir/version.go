package ir

// Version constants for the trace format and the bridge.
const (
	// TraceVersion is the call trace schema version.
	TraceVersion = "1"

	// BridgeVersion is the host bridge version recorded with every call.
	BridgeVersion = "0.1.0"
)
