package household

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukerupert/homequest/internal/apperror"
	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/database"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
)

func setupHouseholdTestDB(t *testing.T) (*sql.DB, *Service) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, NewService(db, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func alice() auth.AuthContext {
	return auth.AuthContext{UserID: "alice", Email: "alice@example.com"}
}

func TestGenerateInviteCode(t *testing.T) {
	code, err := GenerateInviteCode()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(code) != model.InviteCodeLength {
		t.Errorf("len = %d, want %d", len(code), model.InviteCodeLength)
	}
	for _, c := range code {
		if !strings.ContainsRune(model.InviteCodeChars, c) {
			t.Errorf("unexpected character %q in %q", c, code)
		}
	}
}

func TestCreateHousehold(t *testing.T) {
	db, svc := setupHouseholdTestDB(t)
	ctx := context.Background()

	m, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "  The Burrow ", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.Household.Name != "The Burrow" {
		t.Errorf("name = %q, want The Burrow", m.Household.Name)
	}
	if m.Household.CreatedBy != "alice" || !m.Household.IsMember("alice") {
		t.Errorf("household = %+v", m.Household)
	}
	if m.User.Level != 1 || m.User.CurrentXP != 0 || m.User.CoinBalance != 0 {
		t.Errorf("new user economy = %d/%d/%d, want 1/0/0", m.User.Level, m.User.CurrentXP, m.User.CoinBalance)
	}

	feed, err := store.NewFeedStore(db).List(ctx, m.Household.ID, "", 20)
	if err != nil {
		t.Fatalf("list feed: %v", err)
	}
	if len(feed) != 1 || feed[0].Type != model.FeedMemberJoined {
		t.Fatalf("feed = %+v, want one member_joined", feed)
	}
	if feed[0].Message != model.MemberJoinedMessage("Alice") {
		t.Errorf("message = %q", feed[0].Message)
	}
}

func TestCreateHouseholdValidation(t *testing.T) {
	_, svc := setupHouseholdTestDB(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "", DisplayName: "Alice"})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("empty name: err = %v, want validation", err)
	}
	_, err = svc.Create(ctx, alice(), CreateInput{HouseholdName: strings.Repeat("x", 51), DisplayName: "Alice"})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Errorf("long name: err = %v, want validation", err)
	}
	_, err = svc.Create(ctx, auth.AuthContext{}, CreateInput{HouseholdName: "Home", DisplayName: "Anon"})
	if !apperror.Is(err, apperror.KindUnauthenticated) {
		t.Errorf("anonymous: err = %v, want unauthenticated", err)
	}
}

func TestCreateHouseholdRetriesInviteCollision(t *testing.T) {
	_, svc := setupHouseholdTestDB(t)
	ctx := context.Background()

	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}

	first, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "One", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := svc.Create(ctx, auth.AuthContext{UserID: "bob"}, CreateInput{HouseholdName: "Two", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first.Household.InviteCode != "AAAAAA" || second.Household.InviteCode != "BBBBBB" {
		t.Errorf("codes = %s, %s, want AAAAAA, BBBBBB", first.Household.InviteCode, second.Household.InviteCode)
	}
}

func TestCreateHouseholdGivesUpOnCollisions(t *testing.T) {
	_, svc := setupHouseholdTestDB(t)
	ctx := context.Background()
	svc.newCode = func() (string, error) { return "SAME00", nil }

	if _, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "One", DisplayName: "Alice"}); err != nil {
		t.Fatalf("create first: %v", err)
	}
	_, err := svc.Create(ctx, auth.AuthContext{UserID: "bob"}, CreateInput{HouseholdName: "Two", DisplayName: "Bob"})
	if !apperror.Is(err, apperror.KindPrecondition) {
		t.Errorf("err = %v, want precondition", err)
	}
}

func TestJoinHousehold(t *testing.T) {
	db, svc := setupHouseholdTestDB(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "Home", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	joined, err := svc.Join(ctx, auth.AuthContext{UserID: "bob"}, JoinInput{
		InviteCode:  strings.ToLower(created.Household.InviteCode),
		DisplayName: "Bob",
	})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if joined.Household.ID != created.Household.ID {
		t.Errorf("joined %s, want %s", joined.Household.ID, created.Household.ID)
	}
	if joined.User.HouseholdID != created.Household.ID {
		t.Errorf("user household = %s", joined.User.HouseholdID)
	}

	members, err := store.NewHouseholdStore(db).ListMembers(ctx, created.Household.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("members = %v, want 2", members)
	}

	n, err := store.NewFeedStore(db).Count(ctx, created.Household.ID)
	if err != nil {
		t.Fatalf("count feed: %v", err)
	}
	if n != 2 {
		t.Errorf("feed entries = %d, want 2", n)
	}
}

func TestJoinHouseholdErrors(t *testing.T) {
	_, svc := setupHouseholdTestDB(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "Home", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Join(ctx, auth.AuthContext{UserID: "bob"}, JoinInput{InviteCode: "ZZZZZZ", DisplayName: "Bob"})
	if !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("unknown code: err = %v, want not found", err)
	}

	_, err = svc.Join(ctx, alice(), JoinInput{InviteCode: created.Household.InviteCode, DisplayName: "Alice"})
	if !apperror.Is(err, apperror.KindPrecondition) {
		t.Errorf("existing user: err = %v, want precondition", err)
	}
}

func TestGetAndLeaderboard(t *testing.T) {
	db, svc := setupHouseholdTestDB(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "Home", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Join(ctx, auth.AuthContext{UserID: "bob"}, JoinInput{InviteCode: created.Household.InviteCode, DisplayName: "Bob"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	newLevel := 3
	if err := store.NewUserStore(db).ApplyAward(ctx, "bob", 600, 40, &newLevel); err != nil {
		t.Fatalf("award: %v", err)
	}

	h, err := svc.Get(ctx, "alice", created.Household.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(h.Members) != 2 {
		t.Errorf("members = %v, want 2", h.Members)
	}

	board, err := svc.Leaderboard(ctx, "alice", created.Household.ID)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("len = %d, want 2", len(board))
	}
	if board[0].UserID != "bob" || board[0].Rank != 1 {
		t.Errorf("first = %+v, want bob at rank 1", board[0])
	}
	if board[0].LevelFloorXP != 500 || board[0].NextLevelXP != 1000 {
		t.Errorf("bob progress = %d..%d, want 500..1000", board[0].LevelFloorXP, board[0].NextLevelXP)
	}

	if _, err := svc.Get(ctx, "stranger", created.Household.ID); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("stranger: err = %v, want not found", err)
	}
}

func TestRequireMemberOtherHousehold(t *testing.T) {
	db, svc := setupHouseholdTestDB(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "One", DisplayName: "Alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	other, err := svc.Create(ctx, auth.AuthContext{UserID: "bob"}, CreateInput{HouseholdName: "Two", DisplayName: "Bob"})
	if err != nil {
		t.Fatalf("create other: %v", err)
	}

	_, err = RequireMember(ctx, store.NewUserStore(db), "alice", other.Household.ID)
	if !apperror.Is(err, apperror.KindPermission) {
		t.Errorf("err = %v, want permission", err)
	}
}

func TestMeAndSetAvatar(t *testing.T) {
	_, svc := setupHouseholdTestDB(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, alice(), CreateInput{HouseholdName: "Home", DisplayName: "Alice"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, err := svc.SetAvatar(ctx, "alice", " https://cdn.example.com/a.jpg ")
	if err != nil {
		t.Fatalf("set avatar: %v", err)
	}
	if u.AvatarURL == nil || *u.AvatarURL != "https://cdn.example.com/a.jpg" {
		t.Errorf("avatar = %v", u.AvatarURL)
	}

	p, err := svc.Me(ctx, "alice")
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if p.AvatarURL == nil || p.Progress.Level != 1 || p.Progress.NextXP != 200 {
		t.Errorf("profile = %+v", p)
	}

	if _, err := svc.Me(ctx, "nobody"); !apperror.Is(err, apperror.KindNotFound) {
		t.Errorf("missing user: err = %v, want not found", err)
	}
}
