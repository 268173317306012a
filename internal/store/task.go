package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homequest/internal/model"
)

type TaskStore struct {
	db DBTX
}

func NewTaskStore(db DBTX) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(s scanner) (*model.Task, error) {
	var t model.Task
	var desc, assigned, claimed, proof sql.NullString
	var deadline, completed sql.NullTime
	var recurring int
	err := s.Scan(&t.ID, &t.HouseholdID, &t.Title, &desc, &t.Status, &t.XPReward, &t.CoinReward,
		&t.CreatedBy, &assigned, &claimed, &proof, &deadline, &recurring, &t.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	t.Description = stringPtr(desc)
	t.AssignedTo = stringPtr(assigned)
	t.ClaimedBy = stringPtr(claimed)
	t.ProofImageURL = stringPtr(proof)
	t.Deadline = timePtr(deadline)
	t.CompletedAt = timePtr(completed)
	t.IsRecurring = recurring != 0
	return &t, nil
}

const taskCols = `id, household_id, title, description, status, xp_reward, coin_reward, created_by, assigned_to, claimed_by, proof_image_url, deadline, is_recurring, created_at, completed_at`

// Create inserts t with every optional field written explicitly, null when
// unset.
func (s *TaskStore) Create(ctx context.Context, t *model.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.HouseholdID, t.Title, nullString(t.Description), t.Status, t.XPReward, t.CoinReward,
		t.CreatedBy, nullString(t.AssignedTo), nullString(t.ClaimedBy), nullString(t.ProofImageURL),
		nullTime(t.Deadline), boolInt(t.IsRecurring), t.CreatedAt.UTC(), nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *TaskStore) GetByID(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Get returns the task only if it belongs to the household.
func (s *TaskStore) Get(ctx context.Context, householdID, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE id = ? AND household_id = ?`, id, householdID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// List returns the household's tasks, newest first. An empty status lists
// every task.
func (s *TaskStore) List(ctx context.Context, householdID string, status model.TaskStatus) ([]model.Task, error) {
	query := `SELECT ` + taskCols + ` FROM tasks WHERE household_id = ?`
	args := []any{householdID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Transition moves a task from one status to another, setting claimer and
// proof when given. It fails with ErrConflict if the task is no longer in
// the from status.
func (s *TaskStore) Transition(ctx context.Context, id string, from, to model.TaskStatus, claimedBy, proofImageURL *string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, claimed_by = COALESCE(?, claimed_by), proof_image_url = COALESCE(?, proof_image_url)
		 WHERE id = ? AND status = ?`,
		to, nullString(claimedBy), nullString(proofImageURL), id, from,
	)
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}
	return expectOne(result, "transition task")
}

// MarkCompleted stamps completed_at if it is still unset and reports whether
// it did.
func (s *TaskStore) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET completed_at = ? WHERE id = ? AND completed_at IS NULL`, at.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("mark task completed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark task completed rows affected: %w", err)
	}
	return n > 0, nil
}
