package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrConflict is returned when a conditional write matched no row because a
// concurrent writer changed it first. RunInTx retries on it.
var ErrConflict = errors.New("write conflict")

// DBTX is the query surface shared by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Stores bundles every collection store over one query surface, so a
// transaction body can write several collections atomically.
type Stores struct {
	Households *HouseholdStore
	Users      *UserStore
	Tasks      *TaskStore
	Coupons    *CouponStore
	Feed       *FeedStore
	Changes    *ChangeStore
	Awards     *AwardStore
	Push       *PushStore
}

func NewStores(q DBTX) *Stores {
	return &Stores{
		Households: NewHouseholdStore(q),
		Users:      NewUserStore(q),
		Tasks:      NewTaskStore(q),
		Coupons:    NewCouponStore(q),
		Feed:       NewFeedStore(q),
		Changes:    NewChangeStore(q),
		Awards:     NewAwardStore(q),
		Push:       NewPushStore(q),
	}
}

// MaxTxAttempts bounds how many times RunInTx retries a conflicting body.
const MaxTxAttempts = 5

// RunInTx runs fn inside a write transaction and commits it. If fn or the
// commit fails with ErrConflict or a busy database the whole body is rerun
// with exponential backoff. fn must not have side effects outside the
// transaction.
func RunInTx(ctx context.Context, db *sql.DB, fn func(s *Stores) error) error {
	b := retry.WithMaxRetries(MaxTxAttempts-1, retry.NewExponential(10*time.Millisecond))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := runOnce(ctx, db, fn)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func runOnce(ctx context.Context, db *sql.DB, fn func(s *Stores) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(NewStores(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	return false
}

type scanner interface{ Scan(...any) error }

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expectOne maps a conditional update that touched no row to ErrConflict.
func expectOne(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrConflict)
	}
	return nil
}
