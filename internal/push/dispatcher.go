package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/homequest/internal/metrics"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
)

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// DispatchTimeout bounds one fan-out across all of a household's devices.
const DispatchTimeout = 15 * time.Second

// Dispatcher fans a household event out to members' devices. Every failure
// is logged and swallowed; callers never see an error.
type Dispatcher struct {
	sender     Sender
	households *store.HouseholdStore
	push       *store.PushStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
	timeout    time.Duration
}

// NewDispatcher creates a Dispatcher. A nil sender disables delivery.
func NewDispatcher(sender Sender, db store.DBTX, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		households: store.NewHouseholdStore(db),
		push:       store.NewPushStore(db),
		metrics:    m,
		logger:     logger,
		timeout:    DispatchTimeout,
	}
}

// NotifyTaskCompleted tells every other household member that actorName
// completed taskTitle.
func (d *Dispatcher) NotifyTaskCompleted(ctx context.Context, householdID, actorID, actorName, taskTitle string) {
	d.notifyOthers(ctx, householdID, actorID, Payload{
		Title: "Quest Complete! 🎉",
		Body:  fmt.Sprintf("%s just completed \"%s\"", actorName, taskTitle),
		URL:   "/",
		Tag:   "task_completed",
	})
}

func (d *Dispatcher) notifyOthers(ctx context.Context, householdID, actorID string, payload Payload) {
	if d == nil || d.sender == nil {
		return
	}

	timeout := d.timeout
	if timeout <= 0 {
		timeout = DispatchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	members, err := d.households.ListMembers(ctx, householdID)
	if err != nil {
		d.logger.Warn("push: list members", "household_id", householdID, "error", err)
		return
	}

	var subs []model.PushSubscription
	for _, uid := range members {
		if uid == actorID {
			continue
		}
		userSubs, err := d.push.ListByUser(ctx, uid)
		if err != nil {
			d.logger.Warn("push: list subscriptions", "user_id", uid, "error", err)
			continue
		}
		subs = append(subs, userSubs...)
	}
	if len(subs) == 0 {
		return
	}

	var sent int
	for i := range subs {
		if ctx.Err() != nil {
			d.logger.Warn("push: dispatch deadline reached", "household_id", householdID, "sent", sent, "targets", len(subs))
			return
		}
		sub := &subs[i]
		err := d.sender.Send(ctx, sub, payload)
		switch {
		case err == nil:
			sent++
			d.metrics.PushSent("ok")
		case errors.Is(err, ErrExpired):
			d.metrics.PushSent("expired")
			if err := d.push.DeleteByEndpoint(ctx, sub.Endpoint); err != nil {
				d.logger.Warn("push: delete expired subscription", "endpoint", sub.Endpoint, "error", err)
			}
		default:
			d.metrics.PushSent("error")
			d.logger.Warn("push: send", "user_id", sub.UserID, "error", err)
		}
	}
	d.logger.Info("push notifications sent", "household_id", householdID, "sent", sent, "targets", len(subs))
}
