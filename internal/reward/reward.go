// Package reward manages the household coupon market: listing rewards and
// confirming their redemption. Purchases live in the economy package.
package reward

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukerupert/homequest/internal/apperror"
	"github.com/dukerupert/homequest/internal/household"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
	"github.com/dukerupert/homequest/internal/websocket"
)

type CreateCouponInput struct {
	Title string `json:"title" validate:"required,max=60"`
	Cost  int    `json:"cost" validate:"gt=0"`
}

var fieldMessages = map[string]string{
	"Title.required": "Coupon title is required.",
	"Title.max":      fmt.Sprintf("Title too long (max %d chars).", model.MaxCouponTitleLength),
	"Cost.gt":        "Cost must be greater than 0.",
}

// ListFilter selects which coupons List returns.
type ListFilter struct {
	Available bool
	// Owned keeps the coupons the caller has bought.
	Owned bool
}

type Service struct {
	db       *sql.DB
	hub      websocket.Broadcaster
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
}

func NewService(db *sql.DB, hub websocket.Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		hub:      hub,
		logger:   logger,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *Service) broadcast(householdID string, msg websocket.Message) {
	if s.hub != nil {
		s.hub.Broadcast(householdID, msg)
	}
}

// Create lists a new reward sold by the caller.
func (s *Service) Create(ctx context.Context, callerID, householdID string, in CreateCouponInput) (*model.Coupon, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			if msg, ok := fieldMessages[verrs[0].StructField()+"."+verrs[0].Tag()]; ok {
				return nil, apperror.Validation("%s", msg)
			}
		}
		return nil, apperror.FromValidator(err)
	}

	users := store.NewUserStore(s.db)
	if _, err := household.RequireMember(ctx, users, callerID, householdID); err != nil {
		return nil, err
	}

	c := &model.Coupon{
		ID:          s.newID(),
		HouseholdID: householdID,
		Title:       in.Title,
		Cost:        in.Cost,
		SellerID:    callerID,
		CreatedAt:   s.now(),
	}
	if err := store.NewCouponStore(s.db).Create(ctx, c); err != nil {
		return nil, err
	}

	s.logger.Info("coupon listed", "coupon_id", c.ID, "household_id", householdID, "seller_id", callerID)
	s.broadcast(householdID, websocket.NewMessage("coupon", "created", c.ID, nil))
	return c, nil
}

// List returns the household's coupons, newest first.
func (s *Service) List(ctx context.Context, callerID, householdID string, f ListFilter) ([]model.Coupon, error) {
	st := store.NewStores(s.db)
	if _, err := household.RequireMember(ctx, st.Users, callerID, householdID); err != nil {
		return nil, err
	}
	filter := store.CouponFilter{Available: f.Available}
	if f.Owned {
		filter.OwnedBy = callerID
	}
	return st.Coupons.List(ctx, householdID, filter)
}

// Redeem is the seller confirming that a bought reward has been used.
func (s *Service) Redeem(ctx context.Context, callerID, householdID, couponID string) (*model.Coupon, error) {
	if couponID == "" {
		return nil, apperror.Validation("couponId required.")
	}

	var coupon *model.Coupon
	err := store.RunInTx(ctx, s.db, func(st *store.Stores) error {
		if _, err := household.RequireMember(ctx, st.Users, callerID, householdID); err != nil {
			return err
		}
		c, err := st.Coupons.Get(ctx, householdID, couponID)
		if err != nil {
			return err
		}
		if c == nil {
			return apperror.NotFound("Coupon not found.")
		}
		if c.SellerID != callerID {
			return apperror.Permission("Only the seller can confirm a redemption.")
		}
		if c.BuyerID == nil {
			return apperror.Precondition("This coupon has not been purchased yet.")
		}
		if c.IsRedeemed {
			return apperror.Precondition("This coupon has already been used.")
		}

		buyer, err := st.Users.GetByID(ctx, *c.BuyerID)
		if err != nil {
			return err
		}
		if buyer == nil {
			// Name falls back to a placeholder for a missing buyer.
			buyer = &model.User{ID: *c.BuyerID}
		}

		if err := st.Coupons.MarkRedeemed(ctx, c.ID); err != nil {
			return err
		}
		c.IsRedeemed = true
		entry := model.NewFeedEntry(s.newID(), householdID, model.FeedCouponRedeemed, buyer,
			model.CouponRedeemedMessage(buyer.Name(), c.Title), c.ID, s.now())
		if err := st.Feed.Append(ctx, entry); err != nil {
			return err
		}
		coupon = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("coupon redeemed", "coupon_id", couponID, "household_id", householdID)
	s.broadcast(householdID, websocket.NewMessage("coupon", "updated", couponID, nil))
	s.broadcast(householdID, websocket.NewMessage("feed", "created", couponID, nil))
	return coupon, nil
}
