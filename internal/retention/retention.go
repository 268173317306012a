// Package retention bounds the activity feed by age and by size.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dukerupert/homequest/internal/metrics"
	"github.com/dukerupert/homequest/internal/store"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultSchedule   = "0 3 * * *"
	DefaultMaxAge     = 30 * 24 * time.Hour
	DefaultMaxEntries = 500
)

type Config struct {
	// Schedule is a five-field cron spec evaluated in UTC.
	Schedule   string
	MaxAge     time.Duration
	MaxEntries int
}

// Result summarizes one pruning pass.
type Result struct {
	Households     int
	Failed         int
	FeedDeleted    int64
	ChangesDeleted int64
}

// Pruner deletes expired and excess feed entries household by household,
// plus delivered change events past the same age.
type Pruner struct {
	households *store.HouseholdStore
	feed       *store.FeedStore
	changes    *store.ChangeStore
	cfg        Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	cron       *cron.Cron
}

func New(db store.DBTX, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Pruner {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &Pruner{
		households: store.NewHouseholdStore(db),
		feed:       store.NewFeedStore(db),
		changes:    store.NewChangeStore(db),
		cfg:        cfg,
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start schedules RunOnce on the configured cron spec.
func (p *Pruner) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(p.cfg.Schedule, func() {
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Error("feed retention run", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention %q: %w", p.cfg.Schedule, err)
	}
	p.cron = c
	c.Start()
	p.logger.Info("feed retention scheduled", "schedule", p.cfg.Schedule, "max_age", p.cfg.MaxAge, "max_entries", p.cfg.MaxEntries)
	return nil
}

// Stop waits for a running pass to finish.
func (p *Pruner) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

// RunOnce prunes every household. A household that fails is logged and
// skipped; the error return is reserved for failing to list households.
func (p *Pruner) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	ids, err := p.households.ListIDs(ctx)
	if err != nil {
		return res, err
	}

	cutoff := p.now().Add(-p.cfg.MaxAge)
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Households++
		n, err := p.pruneHousehold(ctx, id, cutoff)
		res.FeedDeleted += n
		if err != nil {
			res.Failed++
			p.logger.Error("prune household feed", "household_id", id, "error", err)
			continue
		}
		if n > 0 {
			p.logger.Info("pruned household feed", "household_id", id, "deleted", n)
		}
	}
	p.metrics.RetentionDeleted(res.FeedDeleted)

	n, err := p.changes.DeleteDeliveredBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("prune delivered changes", "error", err)
	}
	res.ChangesDeleted = n

	p.logger.Info("feed retention complete",
		"households", res.Households,
		"failed", res.Failed,
		"feed_deleted", res.FeedDeleted,
		"changes_deleted", res.ChangesDeleted,
	)
	return res, nil
}

func (p *Pruner) pruneHousehold(ctx context.Context, householdID string, cutoff time.Time) (int64, error) {
	old, err := p.feed.DeleteOlderThan(ctx, householdID, cutoff)
	if err != nil {
		return 0, err
	}
	excess, err := p.feed.DeleteBeyond(ctx, householdID, p.cfg.MaxEntries)
	if err != nil {
		return old, err
	}
	return old + excess, nil
}
