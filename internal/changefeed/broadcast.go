package changefeed

import (
	"context"

	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/websocket"
)

// Broadcast returns a Handler that forwards every change as a notice to
// the listeners of the document's household.
func Broadcast(hub websocket.Broadcaster) Handler {
	return HandlerFunc(func(ctx context.Context, ev model.ChangeEvent) error {
		hub.Broadcast(ev.HouseholdID, websocket.NewMessage(entityName(ev.Collection()), action(ev), ev.DocumentID(), nil))
		return nil
	})
}

func entityName(collection string) string {
	switch collection {
	case model.CollectionTasks:
		return "task"
	case model.CollectionCoupons:
		return "coupon"
	case model.CollectionFeed:
		return "feed"
	case model.CollectionUsers:
		return "user"
	}
	return collection
}

func action(ev model.ChangeEvent) string {
	switch {
	case len(ev.Before) == 0:
		return "created"
	case len(ev.After) == 0:
		return "deleted"
	}
	return "updated"
}
