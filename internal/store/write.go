package store

import (
	"context"
	"fmt"

	"github.com/roach88/phosphoros/internal/ir"
)

// WriteCall appends a renderer call to the log.
// Uses ON CONFLICT(id) DO NOTHING: recording the same call twice is harmless.
// A different call reusing a seq is still rejected by the UNIQUE constraint.
func (s *Store) WriteCall(ctx context.Context, c ir.Call) error {
	argsJSON, err := marshalArgs(c.Args)
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calls
		(id, session_id, op, handle, args, outcome, error, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		c.ID,
		c.SessionID,
		string(c.Op),
		int64(c.Handle),
		argsJSON,
		c.Outcome,
		c.Error,
		c.Seq,
	)
	if err != nil {
		return fmt.Errorf("write call: %w", err)
	}
	return nil
}

// UpsertSession records a session's latest state. Older updates (by seq)
// never overwrite newer ones.
func (s *Store) UpsertSession(ctx context.Context, rec ir.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner, state, handle, updated_seq)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			state = excluded.state,
			handle = excluded.handle,
			updated_seq = excluded.updated_seq
		WHERE excluded.updated_seq >= sessions.updated_seq
	`,
		rec.ID,
		rec.Owner,
		rec.State,
		int64(rec.Handle),
		rec.UpdatedSeq,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}
