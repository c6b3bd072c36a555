package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const actionColumns = `id, incident_id, session_id, action_type, command, parameters,
	description, risk_level, mitre_context, status, created_at, reviewed_by, reviewed_at,
	executed_at, simulated, execution_output, reject_reason`

// InsertAction persists a new proposed action row.
func (s *Store) InsertAction(ctx context.Context, rec *ActionRecord) error {
	if rec.Status == "" {
		rec.Status = ActionPending
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO response_actions (`+actionColumns+`)
		VALUES (:id, :incident_id, :session_id, :action_type, :command, :parameters,
			:description, :risk_level, :mitre_context, :status, :created_at, :reviewed_by,
			:reviewed_at, :executed_at, :simulated, :execution_output, :reject_reason)`, rec)
	if err != nil {
		return fmt.Errorf("inserting action: %w", err)
	}
	return nil
}

// GetAction fetches one action by ID.
func (s *Store) GetAction(ctx context.Context, id string) (*ActionRecord, error) {
	var rec ActionRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT `+actionColumns+` FROM response_actions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching action: %w", err)
	}
	return &rec, nil
}

// UpdateAction writes the review outcome for an action. The row is
// locked for the duration of the transaction, and the provenance fields
// (created_at, command, action_type) are compared against the stored row
// first; any drift aborts with ErrImmutableField before the write.
func (s *Store) UpdateAction(ctx context.Context, rec *ActionRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var current ActionRecord
	err = tx.GetContext(ctx, &current,
		`SELECT `+actionColumns+` FROM response_actions WHERE id = $1 FOR UPDATE`, rec.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("action %s: %w", rec.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("locking action: %w", err)
	}

	if !current.CreatedAt.Equal(rec.CreatedAt) ||
		current.Command != rec.Command ||
		current.ActionType != rec.ActionType {
		return fmt.Errorf("action %s: %w", rec.ID, ErrImmutableField)
	}

	_, err = tx.NamedExecContext(ctx, `
		UPDATE response_actions SET
			status = :status,
			reviewed_by = :reviewed_by,
			reviewed_at = :reviewed_at,
			executed_at = :executed_at,
			simulated = :simulated,
			execution_output = :execution_output,
			reject_reason = :reject_reason
		WHERE id = :id`, rec)
	if err != nil {
		return fmt.Errorf("updating action: %w", err)
	}
	return tx.Commit()
}

// ListActions returns actions newest-first with optional status filter
// and offset pagination.
func (s *Store) ListActions(ctx context.Context, status string, limit, offset int) ([]ActionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	recs := []ActionRecord{}
	var err error
	if status != "" {
		err = s.db.SelectContext(ctx, &recs,
			`SELECT `+actionColumns+` FROM response_actions WHERE status = $1
			 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	} else {
		err = s.db.SelectContext(ctx, &recs,
			`SELECT `+actionColumns+` FROM response_actions
			 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("listing actions: %w", err)
	}
	return recs, nil
}

// CountActions returns the total row count for the given status filter.
func (s *Store) CountActions(ctx context.Context, status string) (int, error) {
	var count int
	var err error
	if status != "" {
		err = s.db.GetContext(ctx, &count,
			`SELECT COUNT(*) FROM response_actions WHERE status = $1`, status)
	} else {
		err = s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM response_actions`)
	}
	if err != nil {
		return 0, fmt.Errorf("counting actions: %w", err)
	}
	return count, nil
}

// IterActions streams all actions oldest-first in fixed-size batches.
func (s *Store) IterActions(ctx context.Context, batchSize int, fn func([]ActionRecord) error) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	offset := 0
	for {
		recs := []ActionRecord{}
		err := s.db.SelectContext(ctx, &recs,
			`SELECT `+actionColumns+` FROM response_actions ORDER BY created_at ASC LIMIT $1 OFFSET $2`,
			batchSize, offset)
		if err != nil {
			return fmt.Errorf("iterating actions: %w", err)
		}
		if len(recs) == 0 {
			return nil
		}
		if err := fn(recs); err != nil {
			return err
		}
		if len(recs) < batchSize {
			return nil
		}
		offset += batchSize
	}
}

// InsertChatLog persists one assistant exchange row.
func (s *Store) InsertChatLog(ctx context.Context, rec *ChatLogRecord) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO chat_logs (id, session_id, role, content, created_at)
		VALUES (:id, :session_id, :role, :content, :created_at)`, rec)
	if err != nil {
		return fmt.Errorf("inserting chat log: %w", err)
	}
	return nil
}
