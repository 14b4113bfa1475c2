package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/phosphoros/internal/ir"
)

// ErrSessionNotFound is returned by GetSession for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// ReadCalls returns one session's calls in seq order.
// Returns an empty slice (not nil) if the session made no calls.
func (s *Store) ReadCalls(ctx context.Context, sessionID string) ([]ir.Call, error) {
	return s.queryCalls(ctx, `
		SELECT id, session_id, op, handle, args, outcome, error, seq
		FROM calls
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
}

// ReadAllCalls returns the whole log, process-wide calls included.
func (s *Store) ReadAllCalls(ctx context.Context) ([]ir.Call, error) {
	return s.queryCalls(ctx, `
		SELECT id, session_id, op, handle, args, outcome, error, seq
		FROM calls
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
}

func (s *Store) queryCalls(ctx context.Context, query string, args ...any) ([]ir.Call, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := []ir.Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		calls = append(calls, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls: %w", err)
	}
	return calls, nil
}

func scanCall(rows *sql.Rows) (ir.Call, error) {
	var (
		c        ir.Call
		op       string
		handle   int64
		argsJSON string
	)
	if err := rows.Scan(&c.ID, &c.SessionID, &op, &handle, &argsJSON, &c.Outcome, &c.Error, &c.Seq); err != nil {
		return ir.Call{}, fmt.Errorf("scan call: %w", err)
	}
	args, err := unmarshalArgs(argsJSON)
	if err != nil {
		return ir.Call{}, fmt.Errorf("call %s: %w", c.ID, err)
	}
	c.Op = ir.Op(op)
	c.Handle = uint64(handle)
	c.Args = args
	return c, nil
}

// CountCalls counts a session's calls of one op. An empty sessionID counts
// across all sessions.
func (s *Store) CountCalls(ctx context.Context, sessionID string, op ir.Op) (int, error) {
	query := `SELECT COUNT(*) FROM calls WHERE op = ?`
	args := []any{string(op)}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count calls: %w", err)
	}
	return n, nil
}

// ListSessions returns every recorded session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]ir.SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.owner, s.state, s.handle, s.updated_seq
		FROM sessions s
		LEFT JOIN (
			SELECT session_id, MIN(seq) AS first_seq FROM calls GROUP BY session_id
		) c ON c.session_id = s.id
		ORDER BY COALESCE(c.first_seq, s.updated_seq) ASC, s.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []ir.SessionRecord{}
	for rows.Next() {
		var (
			rec    ir.SessionRecord
			handle int64
		)
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.State, &handle, &rec.UpdatedSeq); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.Handle = uint64(handle)
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// GetSession returns one session's latest state.
func (s *Store) GetSession(ctx context.Context, id string) (ir.SessionRecord, error) {
	var (
		rec    ir.SessionRecord
		handle int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, state, handle, updated_seq FROM sessions WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Owner, &rec.State, &handle, &rec.UpdatedSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.SessionRecord{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return ir.SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	rec.Handle = uint64(handle)
	return rec, nil
}

// MaxSeq returns the highest seq in the log, or 0 for an empty log. Used to
// resume the logical clock when appending to an existing database.
func (s *Store) MaxSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM (
			SELECT seq FROM calls
			UNION ALL
			SELECT updated_seq AS seq FROM sessions
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("max seq: %w", err)
	}
	return seq.Int64, nil
}
