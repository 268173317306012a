package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/homequest/internal/model"
)

type UserStore struct {
	db DBTX
}

func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

func scanUser(s scanner) (*model.User, error) {
	var u model.User
	var avatar sql.NullString
	err := s.Scan(&u.ID, &u.DisplayName, &u.Email, &u.HouseholdID, &u.Level, &u.CurrentXP, &u.CoinBalance, &avatar, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	u.AvatarURL = stringPtr(avatar)
	return &u, nil
}

const userCols = `id, display_name, email, household_id, level, current_xp, coin_balance, avatar_url, created_at`

// Create inserts a new user at level 1 with no XP or coins. The economy
// fields of u are ignored.
func (s *UserStore) Create(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, display_name, email, household_id, avatar_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.DisplayName, u.Email, u.HouseholdID, nullString(u.AvatarURL), u.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.Level, u.CurrentXP, u.CoinBalance = 1, 0, 0
	return nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// ListByHousehold returns the household's users ordered by XP, highest first.
func (s *UserStore) ListByHousehold(ctx context.Context, householdID string) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users WHERE household_id = ? ORDER BY current_xp DESC, display_name, id`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *UserStore) SetAvatar(ctx context.Context, id string, avatarURL *string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET avatar_url = ? WHERE id = ?`, nullString(avatarURL), id)
	if err != nil {
		return fmt.Errorf("set avatar: %w", err)
	}
	return expectOne(result, "set avatar")
}

// ApplyAward adds xp and coins to the user. When newLevel is non-nil the
// level is set to it as well.
func (s *UserStore) ApplyAward(ctx context.Context, id string, xp, coins int, newLevel *int) error {
	var lvl sql.NullInt64
	if newLevel != nil {
		lvl = sql.NullInt64{Int64: int64(*newLevel), Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET current_xp = current_xp + ?, coin_balance = coin_balance + ?, level = COALESCE(?, level) WHERE id = ?`,
		xp, coins, lvl, id,
	)
	if err != nil {
		return fmt.Errorf("apply award: %w", err)
	}
	return expectOne(result, "apply award")
}

// Debit subtracts amount from the user's coins only if the balance covers it.
// A short balance yields ErrConflict.
func (s *UserStore) Debit(ctx context.Context, id string, amount int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET coin_balance = coin_balance - ? WHERE id = ? AND coin_balance >= ?`,
		amount, id, amount,
	)
	if err != nil {
		return fmt.Errorf("debit coins: %w", err)
	}
	return expectOne(result, "debit coins")
}
