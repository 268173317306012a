package push

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/homequest/internal/database"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     map[string]Payload
	failWith map[string]error
}

func (f *fakeSender) Send(ctx context.Context, sub *model.PushSubscription, p Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failWith[sub.Endpoint]; err != nil {
		return err
	}
	if f.sent == nil {
		f.sent = make(map[string]Payload)
	}
	f.sent[sub.Endpoint] = p
	return nil
}

func setupDispatcherTestDB(t *testing.T) *store.Stores {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := store.NewStores(db)
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.Households.Create(ctx, &model.Household{ID: "h1", Name: "Home", InviteCode: "ABC123", CreatedBy: "alice", CreatedAt: now, Members: []string{"alice", "bob", "carol"}}); err != nil {
		t.Fatalf("create household: %v", err)
	}
	for _, uid := range []string{"alice", "bob", "carol"} {
		s.Users.Create(ctx, &model.User{ID: uid, DisplayName: uid, HouseholdID: "h1", CreatedAt: now})
		s.Push.CreateSubscription(ctx, &model.PushSubscription{UserID: uid, HouseholdID: "h1", Endpoint: "https://push.example/" + uid, P256dhKey: "p", AuthKey: "a", CreatedAt: now})
	}
	return s
}

func TestNotifyTaskCompletedSkipsActor(t *testing.T) {
	s := setupDispatcherTestDB(t)
	sender := &fakeSender{}
	d := &Dispatcher{sender: sender, households: s.Households, push: s.Push, logger: slog.Default()}

	d.NotifyTaskCompleted(context.Background(), "h1", "alice", "Alice", "Dishes")

	if len(sender.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sender.sent))
	}
	if _, ok := sender.sent["https://push.example/alice"]; ok {
		t.Error("actor should not be notified")
	}
	p := sender.sent["https://push.example/bob"]
	if p.Title != "Quest Complete! 🎉" {
		t.Errorf("title = %q", p.Title)
	}
	if p.Body != `Alice just completed "Dishes"` {
		t.Errorf("body = %q", p.Body)
	}
}

func TestNotifyTaskCompletedDeletesExpired(t *testing.T) {
	s := setupDispatcherTestDB(t)
	sender := &fakeSender{failWith: map[string]error{
		"https://push.example/bob":   ErrExpired,
		"https://push.example/carol": errors.New("network down"),
	}}
	d := &Dispatcher{sender: sender, households: s.Households, push: s.Push, logger: slog.Default()}

	d.NotifyTaskCompleted(context.Background(), "h1", "alice", "Alice", "Dishes")

	bob, _ := s.Push.ListByUser(context.Background(), "bob")
	if len(bob) != 0 {
		t.Error("expired subscription should be deleted")
	}
	carol, _ := s.Push.ListByUser(context.Background(), "carol")
	if len(carol) != 1 {
		t.Error("subscription with a transient failure should be kept")
	}
}

func TestNotifyDisabled(t *testing.T) {
	var d *Dispatcher
	d.NotifyTaskCompleted(context.Background(), "h1", "alice", "Alice", "Dishes")

	d = NewDispatcher(nil, nil, nil, slog.Default())
	d.NotifyTaskCompleted(context.Background(), "h1", "alice", "Alice", "Dishes")
}

func TestNotifyTaskCompletedBoundedByDeadline(t *testing.T) {
	s := setupDispatcherTestDB(t)
	srv := newHangingServer(t)

	sub := newTestSubscription(t, srv.URL)
	sub.UserID = "bob"
	sub.HouseholdID = "h1"
	sub.CreatedAt = time.Now().UTC()
	if _, err := s.Push.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}

	pub, priv, _ := GenerateVAPIDKeys()
	d := &Dispatcher{
		sender:     NewService(pub, priv, ""),
		households: s.Households,
		push:       s.Push,
		logger:     slog.Default(),
		timeout:    300 * time.Millisecond,
	}

	done := make(chan struct{})
	go func() {
		d.NotifyTaskCompleted(context.Background(), "h1", "alice", "Alice", "Dishes")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("NotifyTaskCompleted still blocked on an unresponsive push endpoint")
	}

	bob, _ := s.Push.ListByUser(context.Background(), "bob")
	if len(bob) != 2 {
		t.Errorf("bob subscriptions = %d, want 2 (timeouts are not expiry)", len(bob))
	}
}
