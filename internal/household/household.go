// Package household runs the sign-up flows and the member-facing reads of a
// household: create, join by invite code, profile and leaderboard.
package household

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/dukerupert/homequest/internal/apperror"
	"github.com/dukerupert/homequest/internal/auth"
	"github.com/dukerupert/homequest/internal/level"
	"github.com/dukerupert/homequest/internal/model"
	"github.com/dukerupert/homequest/internal/store"
	"github.com/dukerupert/homequest/internal/websocket"
)

// maxInviteCodeAttempts bounds how many fresh codes are tried before
// creation gives up.
const maxInviteCodeAttempts = 5

type CreateInput struct {
	HouseholdName string `json:"householdName" validate:"required,max=50"`
	DisplayName   string `json:"displayName" validate:"required,max=32"`
}

type JoinInput struct {
	InviteCode  string `json:"inviteCode" validate:"required,len=6"`
	DisplayName string `json:"displayName" validate:"required,max=32"`
}

// Membership is the result of a sign-up flow.
type Membership struct {
	Household *model.Household `json:"household"`
	User      *model.User      `json:"user"`
}

type Service struct {
	db       *sql.DB
	hub      websocket.Broadcaster
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	newID    func() string
	newCode  func() (string, error)
}

func NewService(db *sql.DB, hub websocket.Broadcaster, logger *slog.Logger) *Service {
	return &Service{
		db:       db,
		hub:      hub,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		newCode:  GenerateInviteCode,
	}
}

// GenerateInviteCode returns a random code of model.InviteCodeLength
// characters from model.InviteCodeChars.
func GenerateInviteCode() (string, error) {
	n := big.NewInt(int64(len(model.InviteCodeChars)))
	var b strings.Builder
	for i := 0; i < model.InviteCodeLength; i++ {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", fmt.Errorf("generate invite code: %w", err)
		}
		b.WriteByte(model.InviteCodeChars[idx.Int64()])
	}
	return b.String(), nil
}

// RequireMember loads uid and checks that it belongs to householdID.
func RequireMember(ctx context.Context, users *store.UserStore, uid, householdID string) (*model.User, error) {
	if uid == "" {
		return nil, apperror.Unauthenticated("Must be signed in.")
	}
	u, err := users.GetByID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperror.NotFound("User not found.")
	}
	if u.HouseholdID != householdID {
		return nil, apperror.Permission("User is not a member of this household.")
	}
	return u, nil
}

// Create makes a new household with the caller as its creator and first
// member.
func (s *Service) Create(ctx context.Context, caller auth.AuthContext, in CreateInput) (*Membership, error) {
	in.HouseholdName = strings.TrimSpace(in.HouseholdName)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.FromValidator(err)
	}
	if caller.UserID == "" {
		return nil, apperror.Unauthenticated("Must be signed in.")
	}

	var m *Membership
	err := store.RunInTx(ctx, s.db, func(st *store.Stores) error {
		if err := s.ensureNewUser(ctx, st, caller.UserID); err != nil {
			return err
		}
		code, err := s.uniqueInviteCode(ctx, st)
		if err != nil {
			return err
		}

		now := s.now()
		h := &model.Household{
			ID:         s.newID(),
			Name:       in.HouseholdName,
			Members:    []string{caller.UserID},
			InviteCode: code,
			CreatedBy:  caller.UserID,
			CreatedAt:  now,
		}
		if err := st.Households.Create(ctx, h); err != nil {
			return err
		}
		u, err := s.createUser(ctx, st, caller, in.DisplayName, h.ID, now)
		if err != nil {
			return err
		}
		m = &Membership{Household: h, User: u}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("household created", "household_id", m.Household.ID, "uid", caller.UserID)
	s.broadcastJoin(m)
	return m, nil
}

// Join adds the caller to the household holding the invite code.
func (s *Service) Join(ctx context.Context, caller auth.AuthContext, in JoinInput) (*Membership, error) {
	in.InviteCode = strings.ToUpper(strings.TrimSpace(in.InviteCode))
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := s.validate.Struct(in); err != nil {
		return nil, apperror.FromValidator(err)
	}
	if caller.UserID == "" {
		return nil, apperror.Unauthenticated("Must be signed in.")
	}

	var m *Membership
	err := store.RunInTx(ctx, s.db, func(st *store.Stores) error {
		if err := s.ensureNewUser(ctx, st, caller.UserID); err != nil {
			return err
		}
		h, err := st.Households.GetByInviteCode(ctx, in.InviteCode)
		if err != nil {
			return err
		}
		if h == nil {
			return apperror.NotFound("Invite code not found. Check and try again.")
		}

		now := s.now()
		if err := st.Households.AddMember(ctx, h.ID, caller.UserID, now); err != nil {
			return err
		}
		h.Members = append(h.Members, caller.UserID)
		u, err := s.createUser(ctx, st, caller, in.DisplayName, h.ID, now)
		if err != nil {
			return err
		}
		m = &Membership{Household: h, User: u}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("household joined", "household_id", m.Household.ID, "uid", caller.UserID)
	s.broadcastJoin(m)
	return m, nil
}

func (s *Service) ensureNewUser(ctx context.Context, st *store.Stores, uid string) error {
	existing, err := st.Users.GetByID(ctx, uid)
	if err != nil {
		return err
	}
	if existing != nil {
		return apperror.Precondition("You already belong to a household.")
	}
	return nil
}

func (s *Service) uniqueInviteCode(ctx context.Context, st *store.Stores) (string, error) {
	for i := 0; i < maxInviteCodeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", err
		}
		taken, err := st.Households.InviteCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", apperror.Precondition("Failed to generate unique invite code. Try again.")
}

// createUser writes the user document and its member_joined entry.
func (s *Service) createUser(ctx context.Context, st *store.Stores, caller auth.AuthContext, name, householdID string, now time.Time) (*model.User, error) {
	u := &model.User{
		ID:          caller.UserID,
		DisplayName: name,
		Email:       caller.Email,
		HouseholdID: householdID,
		CreatedAt:   now,
	}
	if err := st.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	entry := model.NewFeedEntry(s.newID(), householdID, model.FeedMemberJoined, u,
		model.MemberJoinedMessage(u.Name()), u.ID, now)
	if err := st.Feed.Append(ctx, entry); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) broadcastJoin(m *Membership) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(m.Household.ID, websocket.NewMessage("user", "created", m.User.ID, nil))
	s.hub.Broadcast(m.Household.ID, websocket.NewMessage("feed", "created", m.User.ID, nil))
}

// Get returns the household document for a member.
func (s *Service) Get(ctx context.Context, callerID, householdID string) (*model.Household, error) {
	st := store.NewStores(s.db)
	if _, err := RequireMember(ctx, st.Users, callerID, householdID); err != nil {
		return nil, err
	}
	h, err := st.Households.GetByID(ctx, householdID)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, apperror.NotFound("Household not found.")
	}
	return h, nil
}

// Leaderboard ranks the household's members by XP, highest first.
func (s *Service) Leaderboard(ctx context.Context, callerID, householdID string) ([]model.LeaderboardEntry, error) {
	st := store.NewStores(s.db)
	if _, err := RequireMember(ctx, st.Users, callerID, householdID); err != nil {
		return nil, err
	}
	users, err := st.Users.ListByHousehold(ctx, householdID)
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(users))
	for i, u := range users {
		p := level.ProgressFor(u.CurrentXP)
		entries = append(entries, model.LeaderboardEntry{
			Rank:         i + 1,
			UserID:       u.ID,
			DisplayName:  u.DisplayName,
			AvatarURL:    u.AvatarURL,
			Level:        u.Level,
			CurrentXP:    u.CurrentXP,
			CoinBalance:  u.CoinBalance,
			LevelFloorXP: p.FloorXP,
			NextLevelXP:  p.NextXP,
		})
	}
	return entries, nil
}

// Profile is the caller's user document with level progress.
type Profile struct {
	*model.User
	Progress level.Progress `json:"progress"`
}

func (s *Service) Me(ctx context.Context, callerID string) (*Profile, error) {
	u, err := store.NewUserStore(s.db).GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperror.NotFound("User not found.")
	}
	return &Profile{User: u, Progress: level.ProgressFor(u.CurrentXP)}, nil
}

// SetAvatar stores the caller's avatar reference. An empty reference clears
// it.
func (s *Service) SetAvatar(ctx context.Context, callerID, avatarURL string) (*model.User, error) {
	users := store.NewUserStore(s.db)
	u, err := users.GetByID(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperror.NotFound("User not found.")
	}

	var ref *string
	if v := strings.TrimSpace(avatarURL); v != "" {
		ref = &v
	}
	if err := users.SetAvatar(ctx, callerID, ref); err != nil {
		return nil, err
	}
	u.AvatarURL = ref

	if s.hub != nil {
		s.hub.Broadcast(u.HouseholdID, websocket.NewMessage("user", "updated", u.ID, nil))
	}
	return u, nil
}
