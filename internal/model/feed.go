package model

import (
	"fmt"
	"time"
)

type FeedType string

const (
	FeedTaskCreated     FeedType = "task_created"
	FeedTaskCompleted   FeedType = "task_completed"
	FeedCouponPurchased FeedType = "coupon_purchased"
	FeedCouponRedeemed  FeedType = "coupon_redeemed"
	FeedLevelUp         FeedType = "level_up"
	FeedMemberJoined    FeedType = "member_joined"
)

// FeedPageSize is the largest page the feed read returns.
const FeedPageSize = 20

// FeedEntry is an immutable activity record. ActorName is copied at write
// time so later renames do not rewrite history.
type FeedEntry struct {
	ID              string    `json:"entryId"`
	HouseholdID     string    `json:"householdId"`
	Type            FeedType  `json:"type"`
	ActorID         string    `json:"actorId"`
	ActorName       string    `json:"actorName"`
	Message         string    `json:"message"`
	RelatedEntityID *string   `json:"relatedEntityId"`
	Timestamp       time.Time `json:"timestamp"`
}

// NewFeedEntry builds an entry attributed to actor. related may be empty.
func NewFeedEntry(id, householdID string, typ FeedType, actor *User, message, related string, at time.Time) *FeedEntry {
	e := &FeedEntry{
		ID:          id,
		HouseholdID: householdID,
		Type:        typ,
		ActorID:     actor.ID,
		ActorName:   actor.Name(),
		Message:     message,
		Timestamp:   at,
	}
	if related != "" {
		e.RelatedEntityID = &related
	}
	return e
}

func TaskCreatedMessage(name, title string) string {
	return fmt.Sprintf("%s posted a new quest: \"%s\" 📋", name, title)
}

func TaskCompletedMessage(name, title string, xp int) string {
	return fmt.Sprintf("%s completed \"%s\" and earned +%d XP! ✅", name, title, xp)
}

func LevelUpMessage(name string, level int) string {
	return fmt.Sprintf("🆙 %s leveled up to Level %d!", name, level)
}

func CouponPurchasedMessage(name, title string) string {
	return fmt.Sprintf("%s purchased \"%s\" 🎟️", name, title)
}

func CouponRedeemedMessage(name, title string) string {
	return fmt.Sprintf("%s used a reward: \"%s\"! 🎁", name, title)
}

func MemberJoinedMessage(name string) string {
	return fmt.Sprintf("%s joined the household! 👋", name)
}
