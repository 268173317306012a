package changefeed

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
	"github.com/dukerupert/homequest/internal/websocket"
)

func setupChangefeedTestDB(t *testing.T) (*Dispatcher, *store.ChangeStore) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, 10*time.Millisecond, nil, slog.Default()), store.NewChangeStore(db)
}

func appendEvent(t *testing.T, cs *store.ChangeStore, taskID string) int64 {
	t.Helper()
	id, err := cs.Append(context.Background(), &model.ChangeEvent{
		Path:        model.TaskPath("h1", taskID),
		HouseholdID: "h1",
		After:       []byte(`{"taskId":"` + taskID + `"}`),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	return id
}

type recorder struct {
	mu   sync.Mutex
	seen []string
	fail map[string]int
}

func (r *recorder) HandleChange(ctx context.Context, ev model.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := ev.DocumentID()
	if r.fail[id] > 0 {
		r.fail[id]--
		return errors.New("transient")
	}
	r.seen = append(r.seen, id)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestPollDeliversInOrder(t *testing.T) {
	d, cs := setupChangefeedTestDB(t)
	rec := &recorder{}
	d.Subscribe(rec)

	appendEvent(t, cs, "a")
	appendEvent(t, cs, "b")
	appendEvent(t, cs, "c")

	n, err := d.Poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 3 {
		t.Errorf("delivered = %d, want 3", n)
	}
	got := rec.ids()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("order = %v, want [a b c]", got)
	}

	// Delivered events are not offered again.
	n, _ = d.Poll(context.Background())
	if n != 0 {
		t.Errorf("second poll delivered = %d, want 0", n)
	}
}

func TestPollRedeliversAfterFailure(t *testing.T) {
	d, cs := setupChangefeedTestDB(t)
	rec := &recorder{fail: map[string]int{"b": 1}}
	d.Subscribe(rec)
	ctx := context.Background()

	appendEvent(t, cs, "a")
	id := appendEvent(t, cs, "b")
	appendEvent(t, cs, "c")

	n, err := d.Poll(ctx)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if n != 1 {
		t.Errorf("delivered = %d, want 1 (stops at failing event)", n)
	}
	ev, _ := cs.GetByID(ctx, id)
	if ev.DeliveredAt != nil || ev.Attempts != 1 || ev.LastError == nil {
		t.Errorf("failed event = %+v", ev)
	}

	n, _ = d.Poll(ctx)
	if n != 2 {
		t.Errorf("redelivery = %d, want 2", n)
	}
	got := rec.ids()
	if len(got) != 3 || got[1] != "b" || got[2] != "c" {
		t.Errorf("order = %v, want [a b c]", got)
	}
}

func TestPollAbandonsPoisonEvent(t *testing.T) {
	d, cs := setupChangefeedTestDB(t)
	rec := &recorder{fail: map[string]int{"bad": MaxAttempts + 5}}
	d.Subscribe(rec)
	ctx := context.Background()

	appendEvent(t, cs, "bad")
	appendEvent(t, cs, "good")

	for i := 0; i < MaxAttempts; i++ {
		d.Poll(ctx)
	}
	got := rec.ids()
	if len(got) != 1 || got[0] != "good" {
		t.Errorf("delivered = %v, want [good]", got)
	}
}

func TestStartDeliversOnNotify(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	defer db.Close()
	d := New(db, time.Hour, nil, slog.Default())
	cs := store.NewChangeStore(db)
	rec := &recorder{}
	d.Subscribe(rec)

	d.Start(context.Background())
	defer d.Stop()

	appendEvent(t, cs, "x")
	d.Notify()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.ids()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event not delivered after Notify")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStopWithoutStart(t *testing.T) {
	d, _ := setupChangefeedTestDB(t)
	d.Stop()
}

type hubRecorder struct {
	mu   sync.Mutex
	msgs map[string][]websocket.Message
}

func (h *hubRecorder) Broadcast(householdID string, msg websocket.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.msgs == nil {
		h.msgs = make(map[string][]websocket.Message)
	}
	h.msgs[householdID] = append(h.msgs[householdID], msg)
}

func TestBroadcastHandler(t *testing.T) {
	hub := &hubRecorder{}
	h := Broadcast(hub)
	ctx := context.Background()

	h.HandleChange(ctx, model.ChangeEvent{Path: model.TaskPath("h1", "t1"), HouseholdID: "h1", After: []byte(`{}`)})
	h.HandleChange(ctx, model.ChangeEvent{Path: model.TaskPath("h1", "t1"), HouseholdID: "h1", Before: []byte(`{}`), After: []byte(`{}`)})

	msgs := hub.msgs["h1"]
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Type != "task_created" || msgs[0].ID != "t1" {
		t.Errorf("first = %+v, want task_created t1", msgs[0])
	}
	if msgs[1].Type != "task_updated" {
		t.Errorf("second = %+v, want task_updated", msgs[1])
	}
}
