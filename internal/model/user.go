package model

import "time"

const MaxDisplayNameLength = 32

// User is keyed by the authenticated identity id. Level, CurrentXP and
// CoinBalance are written only by the economy package.
type User struct {
	ID          string    `json:"uid"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	HouseholdID string    `json:"householdId"`
	Level       int       `json:"level"`
	CurrentXP   int       `json:"currentXp"`
	CoinBalance int       `json:"coinBalance"`
	AvatarURL   *string   `json:"avatarUrl"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Name returns the display name used in feed messages and notifications.
func (u *User) Name() string {
	if u.DisplayName == "" {
		return "Someone"
	}
	return u.DisplayName
}

// LeaderboardEntry is one member row, ranked by accumulated XP.
type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	UserID       string  `json:"uid"`
	DisplayName  string  `json:"displayName"`
	AvatarURL    *string `json:"avatarUrl"`
	Level        int     `json:"level"`
	CurrentXP    int     `json:"currentXp"`
	CoinBalance  int     `json:"coinBalance"`
	LevelFloorXP int     `json:"levelFloorXp"`
	NextLevelXP  int     `json:"nextLevelXp"`
}
