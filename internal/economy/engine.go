// Package economy owns every change to a user's XP, coins and level: task
// completion awards and coupon purchases.
package economy

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/homequest/internal/level"
	"github.com/dukerupert/homequest/internal/metrics"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
	"github.com/dukerupert/homequest/internal/websocket"
)

// Notifier is told about completions after the award commits.
type Notifier interface {
	NotifyTaskCompleted(ctx context.Context, householdID, actorID, actorName, taskTitle string)
}

// Engine pays out task completions. It consumes task change events and acts
// only on the transition into completed.
type Engine struct {
	db       *sql.DB
	notifier Notifier
	hub      websocket.Broadcaster
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	notifies sync.WaitGroup
}

func NewEngine(db *sql.DB, notifier Notifier, hub websocket.Broadcaster, m *metrics.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		db:       db,
		notifier: notifier,
		hub:      hub,
		metrics:  m,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// awardResult describes what one award transaction did.
type awardResult struct {
	user        *model.User
	missingUser bool
	duplicate   bool
	newLevel    int
	cloneID     string
}

// HandleChange applies the award for a task write that moved the task into
// completed. Other events are ignored. A returned error means the event
// should be delivered again.
func (e *Engine) HandleChange(ctx context.Context, ev model.ChangeEvent) error {
	if ev.Collection() != model.CollectionTasks {
		return nil
	}
	before, err := model.DecodeTask(ev.Before)
	if err != nil {
		e.logger.Error("undecodable task snapshot", "path", ev.Path, "error", err)
		return nil
	}
	after, err := model.DecodeTask(ev.After)
	if err != nil {
		e.logger.Error("undecodable task snapshot", "path", ev.Path, "error", err)
		return nil
	}
	if after == nil {
		return nil
	}
	if after.Status != model.TaskCompleted {
		return nil
	}
	if before != nil && before.Status == model.TaskCompleted {
		return nil
	}
	return e.award(ctx, after)
}

func (e *Engine) award(ctx context.Context, task *model.Task) error {
	claimer := task.Claimer()
	if claimer == "" {
		e.logger.Error("completed task has no claimer", "task_id", task.ID, "household_id", task.HouseholdID)
		return nil
	}

	var res awardResult
	err := store.RunInTx(ctx, e.db, func(s *store.Stores) error {
		res = awardResult{}
		now := e.now()

		user, err := s.Users.GetByID(ctx, claimer)
		if err != nil {
			return err
		}
		if user == nil {
			res.missingUser = true
			return nil
		}

		first, err := s.Awards.Claim(ctx, task.ID, claimer, task.XPReward, task.CoinReward, now)
		if err != nil {
			return err
		}
		if !first {
			res.duplicate = true
			return nil
		}

		newLevel := level.For(user.CurrentXP + task.XPReward)
		var setLevel *int
		if newLevel > user.Level {
			setLevel = &newLevel
			res.newLevel = newLevel
		}
		if err := s.Users.ApplyAward(ctx, claimer, task.XPReward, task.CoinReward, setLevel); err != nil {
			return err
		}
		if _, err := s.Tasks.MarkCompleted(ctx, task.ID, now); err != nil {
			return err
		}

		name := user.Name()
		entry := model.NewFeedEntry(e.newID(), task.HouseholdID, model.FeedTaskCompleted, user,
			model.TaskCompletedMessage(name, task.Title, task.XPReward), task.ID, now)
		if err := s.Feed.Append(ctx, entry); err != nil {
			return err
		}
		if res.newLevel > 0 {
			entry := model.NewFeedEntry(e.newID(), task.HouseholdID, model.FeedLevelUp, user,
				model.LevelUpMessage(name, res.newLevel), user.ID, now)
			if err := s.Feed.Append(ctx, entry); err != nil {
				return err
			}
		}

		if task.IsRecurring {
			clone := task.Regenerate(e.newID(), now)
			if err := s.Tasks.Create(ctx, clone); err != nil {
				return err
			}
			if err := s.Changes.RecordTask(ctx, nil, clone, now); err != nil {
				return err
			}
			res.cloneID = clone.ID
		}

		res.user = user
		return nil
	})
	if err != nil {
		return fmt.Errorf("award task %s: %w", task.ID, err)
	}

	switch {
	case res.missingUser:
		e.logger.Error("claimer not found, award skipped", "task_id", task.ID, "user_id", claimer)
		return nil
	case res.duplicate:
		e.logger.Info("task already awarded", "task_id", task.ID)
		return nil
	}

	e.logger.Info("task awarded",
		"task_id", task.ID,
		"user_id", claimer,
		"xp", task.XPReward,
		"coins", task.CoinReward,
		"level_up", res.newLevel > 0,
	)
	e.metrics.Award(res.newLevel > 0)

	if e.hub != nil {
		e.hub.Broadcast(task.HouseholdID, websocket.NewMessage("user", "updated", claimer, nil))
		e.hub.Broadcast(task.HouseholdID, websocket.NewMessage("feed", "created", task.ID, nil))
	}
	if e.notifier != nil {
		name := res.user.Name()
		nctx := context.WithoutCancel(ctx)
		e.notifies.Add(1)
		go func() {
			defer e.notifies.Done()
			e.notifier.NotifyTaskCompleted(nctx, task.HouseholdID, claimer, name, task.Title)
		}()
	}
	return nil
}

// Wait blocks until every completion notification started so far has
// returned.
func (e *Engine) Wait() {
	e.notifies.Wait()
}
