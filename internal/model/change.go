package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Document collections used in change paths.
const (
	CollectionTasks   = "tasks"
	CollectionCoupons = "coupons"
	CollectionFeed    = "activity_feed"
	CollectionUsers   = "users"
)

// ChangeEvent is one committed write to a document, carrying JSON snapshots
// of the document before and after. Before is nil for creates, After is nil
// for deletes.
type ChangeEvent struct {
	ID          int64           `json:"id"`
	Path        string          `json:"path"`
	HouseholdID string          `json:"householdId"`
	Before      json.RawMessage `json:"before"`
	After       json.RawMessage `json:"after"`
	CreatedAt   time.Time       `json:"createdAt"`
	DeliveredAt *time.Time      `json:"deliveredAt"`
	Attempts    int             `json:"attempts"`
	LastError   *string         `json:"lastError"`
}

// Collection returns the collection segment of the event path, e.g. "tasks".
func (e *ChangeEvent) Collection() string {
	parts := strings.Split(e.Path, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

// DocumentID returns the last segment of the event path.
func (e *ChangeEvent) DocumentID() string {
	i := strings.LastIndex(e.Path, "/")
	return e.Path[i+1:]
}

func TaskPath(householdID, taskID string) string {
	return fmt.Sprintf("households/%s/%s/%s", householdID, CollectionTasks, taskID)
}

func CouponPath(householdID, couponID string) string {
	return fmt.Sprintf("households/%s/%s/%s", householdID, CollectionCoupons, couponID)
}

func FeedPath(householdID, entryID string) string {
	return fmt.Sprintf("households/%s/%s/%s", householdID, CollectionFeed, entryID)
}

func UserPath(uid string) string {
	return CollectionUsers + "/" + uid
}
