package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/homequest/internal/model"
)

type HouseholdStore struct {
	db DBTX
}

func NewHouseholdStore(db DBTX) *HouseholdStore {
	return &HouseholdStore{db: db}
}

func scanHousehold(s scanner) (*model.Household, error) {
	var h model.Household
	err := s.Scan(&h.ID, &h.Name, &h.InviteCode, &h.CreatedBy, &h.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

const householdCols = `id, name, invite_code, created_by, created_at`

// Create inserts the household and its initial members. The invite code is
// stored upper-cased.
func (s *HouseholdStore) Create(ctx context.Context, h *model.Household) error {
	h.InviteCode = normalizeInviteCode(h.InviteCode)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO households (id, name, invite_code, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.Name, h.InviteCode, h.CreatedBy, h.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert household: %w", err)
	}
	for _, uid := range h.Members {
		if err := s.AddMember(ctx, h.ID, uid, h.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (s *HouseholdStore) GetByID(ctx context.Context, id string) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	return s.loadOne(ctx, row)
}

// GetByInviteCode matches the code case-insensitively.
func (s *HouseholdStore) GetByInviteCode(ctx context.Context, code string) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+householdCols+` FROM households WHERE invite_code = ?`,
		normalizeInviteCode(code),
	)
	return s.loadOne(ctx, row)
}

func normalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *HouseholdStore) loadOne(ctx context.Context, row *sql.Row) (*model.Household, error) {
	h, err := scanHousehold(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	members, err := s.ListMembers(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	h.Members = members
	return h, nil
}

func (s *HouseholdStore) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM households WHERE invite_code = ?`, normalizeInviteCode(code)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check invite code: %w", err)
	}
	return n > 0, nil
}

// AddMember appends uid to the member set. Adding an existing member is a
// no-op.
func (s *HouseholdStore) AddMember(ctx context.Context, householdID, uid string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO household_members (household_id, user_id, joined_at) VALUES (?, ?, ?)`,
		householdID, uid, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("add household member: %w", err)
	}
	return nil
}

// ListMembers returns member ids in join order.
func (s *HouseholdStore) ListMembers(ctx context.Context, householdID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM household_members WHERE household_id = ? ORDER BY joined_at, user_id`,
		householdID,
	)
	if err != nil {
		return nil, fmt.Errorf("list household members: %w", err)
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan household member: %w", err)
		}
		members = append(members, uid)
	}
	return members, rows.Err()
}

// ListIDs returns every household id.
func (s *HouseholdStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM households ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list household ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan household id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
