package model

import "time"

const MaxCouponTitleLength = 60

// Coupon is a reward listed by a seller and bought with coins. BuyerID is set
// once by the purchase transaction; IsRedeemed flips once, after purchase.
type Coupon struct {
	ID          string     `json:"couponId"`
	HouseholdID string     `json:"householdId"`
	Title       string     `json:"title"`
	Cost        int        `json:"cost"`
	SellerID    string     `json:"sellerId"`
	BuyerID     *string    `json:"buyerId"`
	IsRedeemed  bool       `json:"isRedeemed"`
	CreatedAt   time.Time  `json:"createdAt"`
	PurchasedAt *time.Time `json:"purchasedAt"`
}

// Available reports whether the coupon can still be bought.
func (c *Coupon) Available() bool {
	return c.BuyerID == nil
}

// Buyer returns the buyer id, or "" when unsold.
func (c *Coupon) Buyer() string {
	if c.BuyerID == nil {
		return ""
	}
	return *c.BuyerID
}
