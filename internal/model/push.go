package model

import "time"

// PushSubscription is a web push endpoint registered by one of a user's
// devices.
type PushSubscription struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"uid"`
	HouseholdID string    `json:"householdId"`
	Endpoint    string    `json:"endpoint"`
	P256dhKey   string    `json:"p256dhKey"`
	AuthKey     string    `json:"authKey"`
	DeviceName  string    `json:"deviceName"`
	CreatedAt   time.Time `json:"createdAt"`
}
