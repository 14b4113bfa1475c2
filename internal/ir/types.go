package ir

// Op names one of the renderer backend entry points.
type Op string

// Renderer entry points, in lifecycle order.
const (
	OpInit   Op = "init"
	OpCreate Op = "create"
	OpReset  Op = "reset"
	OpRender Op = "render"
	OpFree   Op = "free"
	OpExit   Op = "exit"
)

// ValidOps lists every recognized op.
var ValidOps = map[Op]bool{
	OpInit:   true,
	OpCreate: true,
	OpReset:  true,
	OpRender: true,
	OpFree:   true,
	OpExit:   true,
}

// Outcome of a renderer call.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Call records one renderer entry point invocation.
//
// Process-wide calls (init, exit) carry an empty SessionID.
// Handle is zero for calls issued before a session handle exists.
type Call struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id,omitempty"`
	Op        Op       `json:"op"`
	Handle    uint64   `json:"handle,omitempty"`
	Args      IRObject `json:"args"`
	Outcome   string   `json:"outcome"`
	Error     string   `json:"error,omitempty"`
	Seq       int64    `json:"seq"`
}

// SessionRecord is the last known state of one bridge session.
type SessionRecord struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	State      string `json:"state"`
	Handle     uint64 `json:"handle"`
	UpdatedSeq int64  `json:"updated_seq"`
}
