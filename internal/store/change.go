package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homequest/internal/model"
)

// ChangeStore is the outbox of committed document writes. Events are
// appended inside the writing transaction and consumed in id order.
type ChangeStore struct {
	db DBTX
}

func NewChangeStore(db DBTX) *ChangeStore {
	return &ChangeStore{db: db}
}

func scanChange(s scanner) (*model.ChangeEvent, error) {
	var e model.ChangeEvent
	var before, after, lastErr sql.NullString
	var delivered sql.NullTime
	err := s.Scan(&e.ID, &e.Path, &e.HouseholdID, &before, &after, &e.CreatedAt, &delivered, &e.Attempts, &lastErr)
	if err != nil {
		return nil, err
	}
	if before.Valid {
		e.Before = []byte(before.String)
	}
	if after.Valid {
		e.After = []byte(after.String)
	}
	e.DeliveredAt = timePtr(delivered)
	e.LastError = stringPtr(lastErr)
	return &e, nil
}

const changeCols = `id, path, household_id, before_data, after_data, created_at, delivered_at, attempts, last_error`

func rawString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// Append records a change and returns its sequence id.
func (s *ChangeStore) Append(ctx context.Context, e *model.ChangeEvent) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO change_events (path, household_id, before_data, after_data, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Path, e.HouseholdID, rawString(e.Before), rawString(e.After), e.CreatedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert change event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	e.ID = id
	return id, nil
}

// RecordTask appends a change for a task write. before is nil for creates.
func (s *ChangeStore) RecordTask(ctx context.Context, before, after *model.Task, at time.Time) error {
	doc := after
	if doc == nil {
		doc = before
	}
	if doc == nil {
		return fmt.Errorf("record task change: no snapshot")
	}
	b, err := model.EncodeTask(before)
	if err != nil {
		return err
	}
	a, err := model.EncodeTask(after)
	if err != nil {
		return err
	}
	_, err = s.Append(ctx, &model.ChangeEvent{
		Path:        doc.Path(),
		HouseholdID: doc.HouseholdID,
		Before:      b,
		After:       a,
		CreatedAt:   at,
	})
	return err
}

// ListPending returns undelivered events with fewer than maxAttempts
// failures, oldest first.
func (s *ChangeStore) ListPending(ctx context.Context, maxAttempts, limit int) ([]model.ChangeEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+changeCols+` FROM change_events
		 WHERE delivered_at IS NULL AND attempts < ?
		 ORDER BY id LIMIT ?`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending changes: %w", err)
	}
	defer rows.Close()

	var events []model.ChangeEvent
	for rows.Next() {
		e, err := scanChange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func (s *ChangeStore) GetByID(ctx context.Context, id int64) (*model.ChangeEvent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+changeCols+` FROM change_events WHERE id = ?`, id)
	e, err := scanChange(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get change event: %w", err)
	}
	return e, nil
}

func (s *ChangeStore) MarkDelivered(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE change_events SET delivered_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`,
		at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("mark change delivered: %w", err)
	}
	return nil
}

func (s *ChangeStore) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE change_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("mark change failed: %w", err)
	}
	return nil
}

// DeleteDeliveredBefore removes delivered events older than cutoff.
func (s *ChangeStore) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM change_events WHERE delivered_at IS NOT NULL AND delivered_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete delivered changes: %w", err)
	}
	return result.RowsAffected()
}
