package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/ramify/internal/session"
)

// SaveTurns appends turns to a session in one batch.
func (s *Store) SaveTurns(ctx context.Context, sessionID string, turns []session.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(`
			INSERT INTO turns (id, session_id, role, text, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, sessionID, string(t.Role), t.Text, t.CreatedAt)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save turns: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit turns: %w", err)
	}
	return nil
}

// LoadHistories returns every stored turn grouped by session, oldest first.
func (s *Store) LoadHistories(ctx context.Context) (map[string][]session.Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, session_id, role, text, created_at
		FROM turns
		ORDER BY session_id, seq`)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]session.Turn)
	for rows.Next() {
		var (
			t    session.Turn
			sid  string
			role string
		)
		if err := rows.Scan(&t.ID, &sid, &role, &t.Text, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = session.Role(role)
		out[sid] = append(out[sid], t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

// SaveSchedule stores a full schedule snapshot.
func (s *Store) SaveSchedule(ctx context.Context, sched session.Schedule) error {
	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO medication_schedule (id, data, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		data)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

// LoadSchedule returns the stored schedule. ok is false when none was saved.
func (s *Store) LoadSchedule(ctx context.Context) (session.Schedule, bool, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM medication_schedule WHERE id = 1`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load schedule: %w", err)
	}

	var stored map[session.Bucket][]session.Medication
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, false, fmt.Errorf("decode schedule: %w", err)
	}
	sched := session.NewSchedule()
	for b, meds := range stored {
		if meds != nil {
			sched[b] = meds
		}
	}
	return sched, true, nil
}

var _ session.Persister = (*Store)(nil)
