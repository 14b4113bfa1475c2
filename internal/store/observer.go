package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/phosphoros/internal/engine"
	"github.com/roach88/phosphoros/internal/ir"
)

// SessionObserver returns a transition listener that upserts the session
// row on every state change. Pass the same sequencer the call recorder uses
// so both tables share one timeline. Write failures are logged, not raised:
// the call log never changes what the bridge does.
func SessionObserver(s *Store, seq engine.Sequencer, logger *slog.Logger) engine.TransitionFunc {
	return func(t engine.Transition) {
		rec := ir.SessionRecord{
			ID:         t.SessionID,
			Owner:      ownerLabel(t.Owner),
			State:      t.To.String(),
			Handle:     uint64(t.Handle),
			UpdatedSeq: seq.Next(),
		}
		if err := s.UpsertSession(context.Background(), rec); err != nil {
			logger.Error("persist session state", "session", t.SessionID, "state", rec.State, "error", err)
		}
	}
}

func ownerLabel(owner engine.HostObject) string {
	if owner == nil {
		return ""
	}
	if n, ok := owner.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%#x", owner.AsPointer())
}
