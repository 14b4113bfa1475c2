package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/roach88/phosphoros/internal/ir"
)

// createTestStore opens a fresh file-backed store for one test.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestCall builds a call with a real content-addressed id.
func createTestCall(sessionID string, op ir.Op, handle uint64, seq int64) ir.Call {
	args := ir.IRObject{"dependency_graph": ir.IRString("Depsgraph")}
	return ir.Call{
		ID:        ir.MustCallID(sessionID, op, args, seq),
		SessionID: sessionID,
		Op:        op,
		Handle:    handle,
		Args:      args,
		Outcome:   ir.OutcomeOK,
		Seq:       seq,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
