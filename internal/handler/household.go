package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/homequest/internal/apperror"
	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/household"
	"github.com/dukerupert/homequest/internal/store"
	"github.com/dukerupert/homequest/internal/websocket"
)

type HouseholdHandler struct {
	svc    *household.Service
	logger *slog.Logger
}

func NewHouseholdHandler(svc *household.Service, logger *slog.Logger) *HouseholdHandler {
	return &HouseholdHandler{svc: svc, logger: logger}
}

// Create handles POST /api/households
func (h *HouseholdHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req household.CreateInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	caller, _ := auth.FromContext(r.Context())

	m, err := h.svc.Create(r.Context(), caller, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// Join handles POST /api/households/join
func (h *HouseholdHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req household.JoinInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	caller, _ := auth.FromContext(r.Context())

	m, err := h.svc.Join(r.Context(), caller, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// Get handles GET /api/households/{hid}
func (h *HouseholdHandler) Get(w http.ResponseWriter, r *http.Request) {
	hh, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, hh)
}

// Leaderboard handles GET /api/households/{hid}/leaderboard
func (h *HouseholdHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Leaderboard(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Me handles GET /api/me
func (h *HouseholdHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Me(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type avatarRequest struct {
	AvatarURL string `json:"avatarUrl"`
}

// SetAvatar handles PUT /api/me/avatar
func (h *HouseholdHandler) SetAvatar(w http.ResponseWriter, r *http.Request) {
	var req avatarRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	u, err := h.svc.SetAvatar(r.Context(), auth.UserID(r.Context()), req.AvatarURL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CallerHousehold resolves the signed-in caller's household for the
// websocket endpoint.
func CallerHousehold(users *store.UserStore) websocket.HouseholdResolver {
	return func(r *http.Request) (string, error) {
		u, err := users.GetByID(r.Context(), auth.UserID(r.Context()))
		if err != nil {
			return "", err
		}
		if u == nil {
			return "", apperror.NotFound("User not found.")
		}
		return u.HouseholdID, nil
	}
}
