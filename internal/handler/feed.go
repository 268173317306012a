package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/homequest/internal/apperror"
	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/household"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
)

type FeedHandler struct {
	userStore *store.UserStore
	feedStore *store.FeedStore
	logger    *slog.Logger
}

func NewFeedHandler(us *store.UserStore, fs *store.FeedStore, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{userStore: us, feedStore: fs, logger: logger}
}

// List handles GET /api/households/{hid}/feed. Entries come newest first;
// pass the last entry id as before to page further back.
func (h *FeedHandler) List(w http.ResponseWriter, r *http.Request) {
	householdID := r.PathValue("hid")
	if _, err := household.RequireMember(r.Context(), h.userStore, auth.UserID(r.Context()), householdID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	limit := model.FeedPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, h.logger, apperror.Validation("invalid limit"))
			return
		}
		limit = min(n, model.FeedPageSize)
	}

	entries, err := h.feedStore.List(r.Context(), householdID, r.URL.Query().Get("before"), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
