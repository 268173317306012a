package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/quest"
)

type QuestHandler struct {
	svc    *quest.Service
	logger *slog.Logger
}

func NewQuestHandler(svc *quest.Service, logger *slog.Logger) *QuestHandler {
	return &QuestHandler{svc: svc, logger: logger}
}

// Create handles POST /api/households/{hid}/tasks
func (h *QuestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req quest.CreateTaskInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.svc.Create(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// List handles GET /api/households/{hid}/tasks
func (h *QuestHandler) List(w http.ResponseWriter, r *http.Request) {
	status := model.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := h.svc.List(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), status)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// Get handles GET /api/households/{hid}/tasks/{tid}
func (h *QuestHandler) Get(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Get(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), r.PathValue("tid"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Claim handles POST /api/households/{hid}/tasks/{tid}/claim
func (h *QuestHandler) Claim(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Claim(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), r.PathValue("tid"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type proofRequest struct {
	ProofImageURL string `json:"proofImageUrl"`
}

// SubmitProof handles POST /api/households/{hid}/tasks/{tid}/proof
func (h *QuestHandler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	task, err := h.svc.SubmitProof(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), r.PathValue("tid"), req.ProofImageURL)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Approve handles POST /api/households/{hid}/tasks/{tid}/approve
func (h *QuestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	task, err := h.svc.Approve(r.Context(), auth.UserID(r.Context()), r.PathValue("hid"), r.PathValue("tid"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
