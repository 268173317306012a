package store

import (
	"context"
	"fmt"
	"time"
)

// AwardStore records which task completions have been paid out, one row
// per task.
type AwardStore struct {
	db DBTX
}

func NewAwardStore(db DBTX) *AwardStore {
	return &AwardStore{db: db}
}

// Claim records the award for taskID and reports whether this call created
// it. A false result means the task was already awarded.
func (s *AwardStore) Claim(ctx context.Context, taskID, userID string, xp, coins int, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO task_awards (task_id, user_id, xp, coins, awarded_at) VALUES (?, ?, ?, ?, ?)`,
		taskID, userID, xp, coins, at.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("claim task award: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim task award rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *AwardStore) Count(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_awards WHERE task_id = ?`, taskID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count task awards: %w", err)
	}
	return n, nil
}
