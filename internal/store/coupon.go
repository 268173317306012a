package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/homequest/internal/model"
)

type CouponStore struct {
	db DBTX
}

func NewCouponStore(db DBTX) *CouponStore {
	return &CouponStore{db: db}
}

func scanCoupon(s scanner) (*model.Coupon, error) {
	var c model.Coupon
	var buyer sql.NullString
	var purchased sql.NullTime
	var redeemed int
	err := s.Scan(&c.ID, &c.HouseholdID, &c.Title, &c.Cost, &c.SellerID, &buyer, &redeemed, &c.CreatedAt, &purchased)
	if err != nil {
		return nil, err
	}
	c.BuyerID = stringPtr(buyer)
	c.PurchasedAt = timePtr(purchased)
	c.IsRedeemed = redeemed != 0
	return &c, nil
}

const couponCols = `id, household_id, title, cost, seller_id, buyer_id, is_redeemed, created_at, purchased_at`

// Create inserts an unsold coupon.
func (s *CouponStore) Create(ctx context.Context, c *model.Coupon) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO coupons (id, household_id, title, cost, seller_id, buyer_id, is_redeemed, created_at, purchased_at)
		 VALUES (?, ?, ?, ?, ?, NULL, 0, ?, NULL)`,
		c.ID, c.HouseholdID, c.Title, c.Cost, c.SellerID, c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

// Get returns the coupon only if it belongs to the household.
func (s *CouponStore) Get(ctx context.Context, householdID, id string) (*model.Coupon, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+couponCols+` FROM coupons WHERE id = ? AND household_id = ?`, id, householdID)
	c, err := scanCoupon(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	return c, nil
}

// CouponFilter narrows List. Available keeps unsold coupons; OwnedBy keeps
// coupons bought by that user.
type CouponFilter struct {
	Available bool
	OwnedBy   string
}

func (s *CouponStore) List(ctx context.Context, householdID string, f CouponFilter) ([]model.Coupon, error) {
	query := `SELECT ` + couponCols + ` FROM coupons WHERE household_id = ?`
	args := []any{householdID}
	if f.Available {
		query += ` AND buyer_id IS NULL`
	}
	if f.OwnedBy != "" {
		query += ` AND buyer_id = ?`
		args = append(args, f.OwnedBy)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list coupons: %w", err)
	}
	defer rows.Close()

	coupons := []model.Coupon{}
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

// SetBuyer records the purchase if the coupon is still unsold, else
// ErrConflict.
func (s *CouponStore) SetBuyer(ctx context.Context, id, buyerID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE coupons SET buyer_id = ?, purchased_at = ? WHERE id = ? AND buyer_id IS NULL`,
		buyerID, at.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set coupon buyer: %w", err)
	}
	return expectOne(result, "set coupon buyer")
}

// MarkRedeemed flips is_redeemed on a purchased, unredeemed coupon, else
// ErrConflict.
func (s *CouponStore) MarkRedeemed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE coupons SET is_redeemed = 1 WHERE id = ? AND is_redeemed = 0 AND buyer_id IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("redeem coupon: %w", err)
	}
	return expectOne(result, "redeem coupon")
}
