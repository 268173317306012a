package economy

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/homequest/internal/apperror"
	"github.com/dukerupert/homequest/internal/metrics"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
	"github.com/dukerupert/homequest/internal/websocket"
)

// Purchaser runs coupon purchases as serializable transactions.
type Purchaser struct {
	db      *sql.DB
	hub     websocket.Broadcaster
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

func NewPurchaser(db *sql.DB, hub websocket.Broadcaster, m *metrics.Metrics, logger *slog.Logger) *Purchaser {
	return &Purchaser{
		db:      db,
		hub:     hub,
		metrics: m,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Purchase buys couponID in householdID for callerID. The debit, the buyer
// assignment and the feed entry commit together or not at all.
func (p *Purchaser) Purchase(ctx context.Context, callerID, householdID, couponID string) error {
	err := p.purchase(ctx, callerID, householdID, couponID)
	if err != nil {
		p.metrics.Purchase(apperror.KindOf(err).String())
		return err
	}
	p.metrics.Purchase("ok")
	p.logger.Info("coupon purchased", "coupon_id", couponID, "buyer_id", callerID, "household_id", householdID)

	if p.hub != nil {
		p.hub.Broadcast(householdID, websocket.NewMessage("coupon", "purchased", couponID, nil))
		p.hub.Broadcast(householdID, websocket.NewMessage("user", "updated", callerID, nil))
		p.hub.Broadcast(householdID, websocket.NewMessage("feed", "created", couponID, nil))
	}
	return nil
}

func (p *Purchaser) purchase(ctx context.Context, callerID, householdID, couponID string) error {
	if callerID == "" {
		return apperror.Unauthenticated("Must be signed in.")
	}
	if householdID == "" || couponID == "" {
		return apperror.Validation("householdId and couponId required.")
	}

	return store.RunInTx(ctx, p.db, func(s *store.Stores) error {
		buyer, err := s.Users.GetByID(ctx, callerID)
		if err != nil {
			return err
		}
		if buyer == nil {
			return apperror.NotFound("User not found.")
		}
		if buyer.HouseholdID != householdID {
			return apperror.Permission("User is not a member of this household.")
		}

		coupon, err := s.Coupons.Get(ctx, householdID, couponID)
		if err != nil {
			return err
		}
		if coupon == nil {
			return apperror.NotFound("Coupon not found.")
		}
		if coupon.SellerID == callerID {
			return apperror.Precondition("You cannot purchase your own reward.")
		}
		if !coupon.Available() {
			return apperror.Precondition("This coupon has already been purchased.")
		}
		if buyer.CoinBalance < coupon.Cost {
			return apperror.Precondition("Insufficient coins. You need %d but have %d.", coupon.Cost, buyer.CoinBalance)
		}

		now := p.now()
		// Both updates are conditional; a zero-row match means another
		// writer got there first and the body is retried.
		if err := s.Users.Debit(ctx, callerID, coupon.Cost); err != nil {
			return err
		}
		if err := s.Coupons.SetBuyer(ctx, couponID, callerID, now); err != nil {
			return err
		}
		entry := model.NewFeedEntry(p.newID(), householdID, model.FeedCouponPurchased, buyer,
			model.CouponPurchasedMessage(buyer.Name(), coupon.Title), couponID, now)
		return s.Feed.Append(ctx, entry)
	})
}
