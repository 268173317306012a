package economy

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/homequest/internal/database"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
	"github.com/dukerupert/homequest/internal/websocket"
)

var testNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func setupEconomyTestDB(t *testing.T, members ...string) (*sql.DB, *store.Stores) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.NewStores(db)
	ctx := context.Background()
	h := &model.Household{ID: "h1", Name: "Home", InviteCode: "ABC123", CreatedBy: members[0], CreatedAt: testNow, Members: members}
	if err := s.Households.Create(ctx, h); err != nil {
		t.Fatalf("create household: %v", err)
	}
	for _, uid := range members {
		if err := s.Users.Create(ctx, &model.User{ID: uid, DisplayName: uid, HouseholdID: "h1", CreatedAt: testNow}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return db, s
}

func setBalance(t *testing.T, s *store.Stores, uid string, xp, coins, lvl int) {
	t.Helper()
	if err := s.Users.ApplyAward(context.Background(), uid, xp, coins, &lvl); err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) NotifyTaskCompleted(ctx context.Context, householdID, actorID, actorName, taskTitle string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, actorID+":"+taskTitle)
}

type recordingHub struct {
	mu   sync.Mutex
	msgs []websocket.Message
}

func (h *recordingHub) Broadcast(householdID string, msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
}

func newTestEngine(db *sql.DB, n Notifier, hub websocket.Broadcaster) *Engine {
	e := NewEngine(db, n, hub, nil, slog.Default())
	e.now = func() time.Time { return testNow }
	return e
}

func strPtr(s string) *string { return &s }

// completionEvent stores task in its claimed state and returns the change
// event for its transition to completed.
func completionEvent(t *testing.T, s *store.Stores, task *model.Task) model.ChangeEvent {
	t.Helper()
	ctx := context.Background()
	if err := s.Tasks.Create(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}
	after := *task
	after.Status = model.TaskCompleted
	b, _ := model.EncodeTask(task)
	a, _ := model.EncodeTask(&after)
	return model.ChangeEvent{Path: task.Path(), HouseholdID: task.HouseholdID, Before: b, After: a, CreatedAt: testNow}
}

func claimedTask(id, creator, claimer string, xp, coins int) *model.Task {
	return &model.Task{
		ID: id, HouseholdID: "h1", Title: "Task " + id, Status: model.TaskPendingVerification,
		XPReward: xp, CoinReward: coins, CreatedBy: creator, ClaimedBy: strPtr(claimer), CreatedAt: testNow,
	}
}

func feedOfType(t *testing.T, s *store.Stores, typ model.FeedType) []model.FeedEntry {
	t.Helper()
	entries, err := s.Feed.List(context.Background(), "h1", "", 100)
	if err != nil {
		t.Fatalf("list feed: %v", err)
	}
	var out []model.FeedEntry
	for _, e := range entries {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}
