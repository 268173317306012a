package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/config"
	"github.com/dukerupert/homequest/internal/database"
	"github.com/dukerupert/homequest/internal/household"
	"github.com/dukerupert/homequest/internal/model"
)

const testSecret = "test-secret"

func setupServerTestDB(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Config{
		JWTSecret:          testSecret,
		ChangePollInterval: time.Second,
	}
	srv := New(db, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return srv, srv.Router()
}

func tokenFor(t *testing.T, uid string) string {
	t.Helper()
	token, err := auth.NewVerifier(testSecret, "").Issue(uid, uid+"@example.com", time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func call(t *testing.T, h http.Handler, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, uid))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	_, h := setupServerTestDB(t)

	rec := call(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestMetricsIsPublic(t *testing.T) {
	_, h := setupServerTestDB(t)

	call(t, h, http.MethodGet, "/health", "", nil)
	rec := call(t, h, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "homequest_") {
		t.Error("expected homequest metrics in scrape output")
	}
}

func TestAPIRequiresToken(t *testing.T) {
	_, h := setupServerTestDB(t)

	rec := call(t, h, http.MethodGet, "/api/me", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestPushRoutesAbsentWithoutVAPID(t *testing.T) {
	_, h := setupServerTestDB(t)

	rec := call(t, h, http.MethodGet, "/api/push/vapid-key", "alice", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestQuestFlowAwardsClaimer(t *testing.T) {
	srv, h := setupServerTestDB(t)

	rec := call(t, h, http.MethodPost, "/api/households", "alice", map[string]string{
		"householdName": "The Burrow",
		"displayName":   "Alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create household status = %d, body %s", rec.Code, rec.Body.String())
	}
	var m household.Membership
	decode(t, rec, &m)
	hid := m.Household.ID

	rec = call(t, h, http.MethodPost, "/api/households/join", "bob", map[string]string{
		"inviteCode":  strings.ToLower(m.Household.InviteCode),
		"displayName": "Bob",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = call(t, h, http.MethodPost, "/api/households/"+hid+"/tasks", "alice", map[string]any{
		"title":      "Take out the trash",
		"xpReward":   100,
		"coinReward": 20,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task status = %d, body %s", rec.Code, rec.Body.String())
	}
	var task model.Task
	decode(t, rec, &task)
	base := "/api/households/" + hid + "/tasks/" + task.ID

	if rec := call(t, h, http.MethodPost, base+"/claim", "bob", nil); rec.Code != http.StatusOK {
		t.Fatalf("claim status = %d, body %s", rec.Code, rec.Body.String())
	}
	rec = call(t, h, http.MethodPost, base+"/proof", "bob", map[string]string{"proofImageUrl": "proofs/trash.jpg"})
	if rec.Code != http.StatusOK {
		t.Fatalf("proof status = %d, body %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &task)
	if task.Status != model.TaskPendingVerification {
		t.Errorf("status after proof = %q, want %q", task.Status, model.TaskPendingVerification)
	}
	if rec := call(t, h, http.MethodPost, base+"/approve", "alice", nil); rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d, body %s", rec.Code, rec.Body.String())
	}

	if _, err := srv.Changes().Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	rec = call(t, h, http.MethodGet, "/api/me", "bob", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d, body %s", rec.Code, rec.Body.String())
	}
	var bob model.User
	decode(t, rec, &bob)
	if bob.CurrentXP != 100 {
		t.Errorf("CurrentXP = %d, want 100", bob.CurrentXP)
	}
	if bob.CoinBalance != 20 {
		t.Errorf("CoinBalance = %d, want 20", bob.CoinBalance)
	}

	rec = call(t, h, http.MethodGet, "/api/households/"+hid+"/feed", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("feed status = %d, body %s", rec.Code, rec.Body.String())
	}
	var feed []model.FeedEntry
	decode(t, rec, &feed)
	var completed *model.FeedEntry
	for i := range feed {
		if feed[i].Type == model.FeedTaskCompleted {
			completed = &feed[i]
		}
	}
	if completed == nil {
		t.Fatalf("feed = %+v, want a task_completed entry", feed)
	}
	if completed.ActorID != "bob" {
		t.Errorf("ActorID = %q, want %q", completed.ActorID, "bob")
	}

	// Outsiders cannot read the household.
	rec = call(t, h, http.MethodGet, "/api/households/"+hid, "mallory", nil)
	if rec.Code == http.StatusOK {
		t.Errorf("outsider read status = %d, want an error", rec.Code)
	}
}

func TestStartStop(t *testing.T) {
	srv, _ := setupServerTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv.Stop()
}
