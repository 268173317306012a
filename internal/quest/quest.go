// Package quest implements the task lifecycle requests: create, claim,
// submit proof and approve. Every task write records a change event in the
// same transaction so the economy engine can observe it.
package quest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukerupert/homequest/internal/apperror"
	"github.com/dukerupert/homequest/internal/household"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
	"github.com/dukerupert/homequest/internal/websocket"
)

// ChangeNotifier is told when new change events have been committed.
type ChangeNotifier interface {
	Notify()
}

// ProofChecker reports whether a proof image reference exists in the media
// store.
type ProofChecker interface {
	Exists(ctx context.Context, ref string) (bool, error)
}

type Options struct {
	// InstantComplete sends a task straight to completed on proof upload
	// instead of waiting for approval.
	InstantComplete bool
	Proofs          ProofChecker
}

type CreateTaskInput struct {
	Title       string     `json:"title" validate:"required,max=80"`
	Description *string    `json:"description" validate:"omitempty,max=500"`
	XPReward    int        `json:"xpReward" validate:"gte=10,lte=500"`
	CoinReward  int        `json:"coinReward" validate:"gte=5,lte=200"`
	Deadline    *time.Time `json:"deadline"`
	AssignedTo  *string    `json:"assignedTo"`
	IsRecurring bool       `json:"isRecurring"`
}

var fieldMessages = map[string]string{
	"Title.required":  "Quest title is required.",
	"Title.max":       fmt.Sprintf("Title too long (max %d chars).", model.MaxTaskTitleLength),
	"Description.max": fmt.Sprintf("Description too long (max %d chars).", model.MaxDescriptionLength),
	"XPReward.gte":    fmt.Sprintf("XP must be %d–%d.", model.MinXPReward, model.MaxXPReward),
	"XPReward.lte":    fmt.Sprintf("XP must be %d–%d.", model.MinXPReward, model.MaxXPReward),
	"CoinReward.gte":  fmt.Sprintf("Coins must be %d–%d.", model.MinCoinReward, model.MaxCoinReward),
	"CoinReward.lte":  fmt.Sprintf("Coins must be %d–%d.", model.MinCoinReward, model.MaxCoinReward),
}

type Service struct {
	db       *sql.DB
	changes  ChangeNotifier
	hub      websocket.Broadcaster
	opts     Options
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

func NewService(db *sql.DB, changes ChangeNotifier, hub websocket.Broadcaster, opts Options, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		changes:  changes,
		hub:      hub,
		opts:     opts,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *Service) validateInput(in CreateTaskInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if msg, ok := fieldMessages[verrs[0].StructField()+"."+verrs[0].Tag()]; ok {
			return apperror.Validation("%s", msg)
		}
	}
	return apperror.FromValidator(err)
}

// Create posts a new open quest and its task_created feed entry.
func (s *Service) Create(ctx context.Context, callerID, householdID string, in CreateTaskInput) (*model.Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		in.Description = &d
		if d == "" {
			in.Description = nil
		}
	}
	if in.AssignedTo != nil && *in.AssignedTo == "" {
		in.AssignedTo = nil
	}
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	var task *model.Task
	err := store.RunInTx(ctx, s.db, func(st *store.Stores) error {
		creator, err := household.RequireMember(ctx, st.Users, callerID, householdID)
		if err != nil {
			return err
		}
		if in.AssignedTo != nil {
			assignee, err := st.Users.GetByID(ctx, *in.AssignedTo)
			if err != nil {
				return err
			}
			if assignee == nil || assignee.HouseholdID != householdID {
				return apperror.Validation("Assignee is not a member of this household.")
			}
		}

		now := s.now()
		t := &model.Task{
			ID:          s.newID(),
			HouseholdID: householdID,
			Title:       in.Title,
			Description: in.Description,
			Status:      model.TaskOpen,
			XPReward:    in.XPReward,
			CoinReward:  in.CoinReward,
			CreatedBy:   callerID,
			AssignedTo:  in.AssignedTo,
			Deadline:    in.Deadline,
			IsRecurring: in.IsRecurring,
			CreatedAt:   now,
		}
		if err := st.Tasks.Create(ctx, t); err != nil {
			return err
		}
		if err := st.Changes.RecordTask(ctx, nil, t, now); err != nil {
			return err
		}
		entry := model.NewFeedEntry(s.newID(), householdID, model.FeedTaskCreated, creator,
			model.TaskCreatedMessage(creator.Name(), t.Title), t.ID, now)
		if err := st.Feed.Append(ctx, entry); err != nil {
			return err
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quest created", "task_id", task.ID, "household_id", householdID, "uid", callerID)
	s.committed(householdID, "feed", task.ID)
	return task, nil
}

// Claim reserves an open quest for the caller.
func (s *Service) Claim(ctx context.Context, callerID, householdID, taskID string) (*model.Task, error) {
	task, err := s.transition(ctx, callerID, householdID, taskID, func(t *model.Task) (model.TaskStatus, error) {
		if t.CreatedBy == callerID {
			return "", apperror.Precondition("You cannot claim your own quest.")
		}
		if t.Status != model.TaskOpen || t.ClaimedBy != nil {
			return "", apperror.Precondition("This quest has already been claimed.")
		}
		if t.AssignedTo != nil && *t.AssignedTo != callerID {
			return "", apperror.Precondition("This quest is assigned to someone else.")
		}
		t.ClaimedBy = &callerID
		return model.TaskClaimed, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("quest claimed", "task_id", taskID, "uid", callerID)
	return task, nil
}

// SubmitProof attaches a proof image to the caller's quest. The quest moves
// to pending verification, or straight to completed when InstantComplete
// is set. An open quest is claimed by the caller on the way.
func (s *Service) SubmitProof(ctx context.Context, callerID, householdID, taskID, proofImageURL string) (*model.Task, error) {
	proof := strings.TrimSpace(proofImageURL)
	if proof == "" {
		return nil, apperror.Validation("Please select a photo first.")
	}
	if s.opts.Proofs != nil {
		ok, err := s.opts.Proofs.Exists(ctx, proof)
		if err != nil {
			return nil, fmt.Errorf("check proof image: %w", err)
		}
		if !ok {
			return nil, apperror.Validation("Proof image not found.")
		}
	}

	target := model.TaskPendingVerification
	if s.opts.InstantComplete {
		target = model.TaskCompleted
	}

	task, err := s.transition(ctx, callerID, householdID, taskID, func(t *model.Task) (model.TaskStatus, error) {
		switch t.Status {
		case model.TaskOpen:
			if t.CreatedBy == callerID {
				return "", apperror.Precondition("You cannot complete your own quest.")
			}
			if t.AssignedTo != nil && *t.AssignedTo != callerID {
				return "", apperror.Precondition("This quest is assigned to someone else.")
			}
			t.ClaimedBy = &callerID
		case model.TaskClaimed:
			if t.Claimer() != callerID {
				return "", apperror.Permission("Only the member who claimed this quest can submit proof.")
			}
		default:
			return "", apperror.Precondition("This quest is not awaiting proof.")
		}
		t.ProofImageURL = &proof
		return target, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("quest proof submitted", "task_id", taskID, "uid", callerID, "status", task.Status)
	return task, nil
}

// Approve completes a quest awaiting verification. The claimer cannot
// approve their own work.
func (s *Service) Approve(ctx context.Context, callerID, householdID, taskID string) (*model.Task, error) {
	task, err := s.transition(ctx, callerID, householdID, taskID, func(t *model.Task) (model.TaskStatus, error) {
		if t.Status != model.TaskPendingVerification {
			return "", apperror.Precondition("This quest is not awaiting approval.")
		}
		if t.Claimer() == callerID {
			return "", apperror.Precondition("You cannot approve your own quest.")
		}
		return model.TaskCompleted, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("quest approved", "task_id", taskID, "uid", callerID)
	return task, nil
}

// transition loads the task, lets apply mutate a copy and choose the next
// status, then writes it with a status compare-and-swap and records the
// change.
func (s *Service) transition(ctx context.Context, callerID, householdID, taskID string, apply func(t *model.Task) (model.TaskStatus, error)) (*model.Task, error) {
	if taskID == "" {
		return nil, apperror.Validation("taskId required.")
	}

	var after *model.Task
	err := store.RunInTx(ctx, s.db, func(st *store.Stores) error {
		if _, err := household.RequireMember(ctx, st.Users, callerID, householdID); err != nil {
			return err
		}
		before, err := st.Tasks.Get(ctx, householdID, taskID)
		if err != nil {
			return err
		}
		if before == nil {
			return apperror.NotFound("Quest not found.")
		}

		next := *before
		to, err := apply(&next)
		if err != nil {
			return err
		}
		next.Status = to
		if err := st.Tasks.Transition(ctx, taskID, before.Status, to, next.ClaimedBy, next.ProofImageURL); err != nil {
			return err
		}
		if err := st.Changes.RecordTask(ctx, before, &next, s.now()); err != nil {
			return err
		}
		after = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(householdID, "", "")
	return after, nil
}

// committed wakes the change dispatcher and, when entity is set, tells
// listeners about a directly written document.
func (s *Service) committed(householdID, entity, id string) {
	if s.changes != nil {
		s.changes.Notify()
	}
	if s.hub != nil && entity != "" {
		s.hub.Broadcast(householdID, websocket.NewMessage(entity, "created", id, nil))
	}
}

// Get returns one quest of the caller's household.
func (s *Service) Get(ctx context.Context, callerID, householdID, taskID string) (*model.Task, error) {
	st := store.NewStores(s.db)
	if _, err := household.RequireMember(ctx, st.Users, callerID, householdID); err != nil {
		return nil, err
	}
	t, err := st.Tasks.Get(ctx, householdID, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperror.NotFound("Quest not found.")
	}
	return t, nil
}

// List returns the household's quests, optionally only those in status.
func (s *Service) List(ctx context.Context, callerID, householdID string, status model.TaskStatus) ([]model.Task, error) {
	if status != "" && !status.Valid() {
		return nil, apperror.Validation("Unknown status %q.", status)
	}
	st := store.NewStores(s.db)
	if _, err := household.RequireMember(ctx, st.Users, callerID, householdID); err != nil {
		return nil, err
	}
	return st.Tasks.List(ctx, householdID, status)
}
