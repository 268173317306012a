package model

import "time"

// Invite codes are InviteCodeLength characters drawn from InviteCodeChars.
const (
	InviteCodeLength       = 6
	InviteCodeChars        = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	MaxHouseholdNameLength = 50
)

type Household struct {
	ID         string    `json:"householdId"`
	Name       string    `json:"name"`
	Members    []string  `json:"members"`
	InviteCode string    `json:"inviteCode"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// IsMember reports whether uid is in the household's member set.
func (h *Household) IsMember(uid string) bool {
	for _, m := range h.Members {
		if m == uid {
			return true
		}
	}
	return false
}
