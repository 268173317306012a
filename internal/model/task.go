package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskOpen                TaskStatus = "open"
	TaskClaimed             TaskStatus = "claimed"
	TaskPendingVerification TaskStatus = "pending_verification"
	TaskCompleted           TaskStatus = "completed"
)

// Valid reports whether s is one of the known task states.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskOpen, TaskClaimed, TaskPendingVerification, TaskCompleted:
		return true
	}
	return false
}

// Reward bounds and text limits for quests.
const (
	MinXPReward          = 10
	MaxXPReward          = 500
	MinCoinReward        = 5
	MaxCoinReward        = 200
	MaxTaskTitleLength   = 80
	MaxDescriptionLength = 500
)

type Task struct {
	ID            string     `json:"taskId"`
	HouseholdID   string     `json:"householdId"`
	Title         string     `json:"title"`
	Description   *string    `json:"description"`
	Status        TaskStatus `json:"status"`
	XPReward      int        `json:"xpReward"`
	CoinReward    int        `json:"coinReward"`
	CreatedBy     string     `json:"createdBy"`
	AssignedTo    *string    `json:"assignedTo"`
	ClaimedBy     *string    `json:"claimedBy"`
	ProofImageURL *string    `json:"proofImageUrl"`
	Deadline      *time.Time `json:"deadline"`
	IsRecurring   bool       `json:"isRecurring"`
	CreatedAt     time.Time  `json:"createdAt"`
	CompletedAt   *time.Time `json:"completedAt"`
}

// IsClaimableBy reports whether uid may take an open task: it is unclaimed,
// uid did not create it, and it is either unassigned or assigned to uid.
func (t *Task) IsClaimableBy(uid string) bool {
	return t.Status == TaskOpen &&
		t.ClaimedBy == nil &&
		t.CreatedBy != uid &&
		(t.AssignedTo == nil || *t.AssignedTo == uid)
}

// Claimer returns the claiming user id, or "" when unclaimed.
func (t *Task) Claimer() string {
	if t.ClaimedBy == nil {
		return ""
	}
	return *t.ClaimedBy
}

// Path returns the document path of the task.
func (t *Task) Path() string {
	return TaskPath(t.HouseholdID, t.ID)
}

// Regenerate returns a fresh open copy of a recurring task. Claim, proof and
// completion state are cleared.
func (t *Task) Regenerate(id string, now time.Time) *Task {
	clone := *t
	clone.ID = id
	clone.Status = TaskOpen
	clone.ClaimedBy = nil
	clone.ProofImageURL = nil
	clone.CompletedAt = nil
	clone.CreatedAt = now
	return &clone
}

// DecodeTask decodes a task snapshot. Missing fields take their defaults:
// numbers 0, booleans false, status open. A nil or empty snapshot decodes
// to nil.
func DecodeTask(data []byte) (*Task, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	if t.Status == "" {
		t.Status = TaskOpen
	}
	return &t, nil
}

// EncodeTask encodes a task snapshot for the change stream. A nil task
// encodes to nil.
func EncodeTask(t *Task) ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	return data, nil
}
