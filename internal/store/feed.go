package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homequest/internal/model"
)

type FeedStore struct {
	db DBTX
}

func NewFeedStore(db DBTX) *FeedStore {
	return &FeedStore{db: db}
}

func scanFeedEntry(s scanner) (*model.FeedEntry, error) {
	var e model.FeedEntry
	var related sql.NullString
	err := s.Scan(&e.ID, &e.HouseholdID, &e.Type, &e.ActorID, &e.ActorName, &e.Message, &related, &e.Timestamp)
	if err != nil {
		return nil, err
	}
	e.RelatedEntityID = stringPtr(related)
	return &e, nil
}

const feedCols = `id, household_id, type, actor_id, actor_name, message, related_entity_id, timestamp`

func (s *FeedStore) Append(ctx context.Context, e *model.FeedEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_feed (`+feedCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.HouseholdID, e.Type, e.ActorID, e.ActorName, e.Message, nullString(e.RelatedEntityID), e.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert feed entry: %w", err)
	}
	return nil
}

// List returns up to limit entries newest first, in append order. When
// before is set, only entries appended before that entry are returned.
func (s *FeedStore) List(ctx context.Context, householdID, before string, limit int) ([]model.FeedEntry, error) {
	query := `SELECT ` + feedCols + ` FROM activity_feed WHERE household_id = ?`
	args := []any{householdID}
	if before != "" {
		query += ` AND seq < (SELECT seq FROM activity_feed WHERE id = ? AND household_id = ?)`
		args = append(args, before, householdID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list feed: %w", err)
	}
	defer rows.Close()

	entries := []model.FeedEntry{}
	for rows.Next() {
		e, err := scanFeedEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan feed entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *FeedStore) Count(ctx context.Context, householdID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_feed WHERE household_id = ?`, householdID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count feed: %w", err)
	}
	return n, nil
}

// DeleteOlderThan removes entries with a timestamp strictly before cutoff.
func (s *FeedStore) DeleteOlderThan(ctx context.Context, householdID string, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM activity_feed WHERE household_id = ? AND timestamp < ?`, householdID, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete old feed entries: %w", err)
	}
	return result.RowsAffected()
}

// DeleteBeyond keeps the newest keep entries and removes the rest.
func (s *FeedStore) DeleteBeyond(ctx context.Context, householdID string, keep int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM activity_feed WHERE seq IN (
			SELECT seq FROM activity_feed WHERE household_id = ?
			ORDER BY timestamp DESC, seq DESC LIMIT -1 OFFSET ?
		)`,
		householdID, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("delete excess feed entries: %w", err)
	}
	return result.RowsAffected()
}
