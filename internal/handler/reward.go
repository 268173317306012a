package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/economy"
	"github.com/dukerupert/homequest/internal/reward"
)

type RewardHandler struct {
	svc       *reward.Service
	purchaser *economy.Purchaser
	logger    *slog.Logger
}

func NewRewardHandler(svc *reward.Service, purchaser *economy.Purchaser, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{svc: svc, purchaser: purchaser, logger: logger}
}

// Create handles POST /api/households/{hid}/coupons
func (h *RewardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req reward.CreateCouponInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	c, err := h.svc.Create(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// List handles GET /api/households/{hid}/coupons
func (h *RewardHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := reward.ListFilter{
		Available: q.Get("available") == "true",
		Owned:     q.Get("owned") == "true",
	}

	coupons, err := h.svc.List(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), f)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, coupons)
}

// Purchase handles POST /api/households/{hid}/coupons/{cid}/purchase
func (h *RewardHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	err := h.purchaser.Purchase(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), r.PathValue("cid"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// Redeem handles POST /api/households/{hid}/coupons/{cid}/redeem
func (h *RewardHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Redeem(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), r.PathValue("cid"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
