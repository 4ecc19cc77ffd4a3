package baseline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/guardianshield/internal/txlog"
)

// Recompute defaults.
const (
	DefaultRefreshInterval = time.Hour
	HistoryWindow          = 30 * 24 * time.Hour
	// MinSampleTransactions is the fewest logged transactions a user needs
	// before their history replaces the stored profile.
	MinSampleTransactions = 5
)

// Summarizer aggregates logged transactions per user.
type Summarizer interface {
	Summaries(ctx context.Context, since time.Time, minCount int) ([]txlog.UserSummary, error)
}

// Refresher periodically rebuilds stored profiles from the transaction log
// and pushes them into the provider's cache tiers.
type Refresher struct {
	log      Summarizer
	store    Store
	provider *Provider
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
}

// NewRefresher creates an hourly recompute worker. provider may be nil.
func NewRefresher(log Summarizer, store Store, provider *Provider, logger *slog.Logger) *Refresher {
	return &Refresher{
		log:      log,
		store:    store,
		provider: provider,
		logger:   logger,
		interval: DefaultRefreshInterval,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// WithInterval overrides the recompute period.
func (r *Refresher) WithInterval(d time.Duration) *Refresher {
	r.interval = d
	return r
}

// WithClock replaces the time source for the history window and stamps.
func (r *Refresher) WithClock(now func() time.Time) *Refresher {
	r.now = now
	return r
}

// Running reports whether the loop is active.
func (r *Refresher) Running() bool {
	return r.running.Load()
}

// Start recomputes once and then on every tick until ctx is done or Stop
// is called. Call in a goroutine.
func (r *Refresher) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	r.safeRun(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.safeRun(ctx)
		}
	}
}

// Stop signals the loop to exit.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Refresher) safeRun(ctx context.Context) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("panic in baseline refresher", "panic", fmt.Sprint(v))
		}
	}()
	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("baseline recompute failed", "error", err)
	}
}

// RunOnce rebuilds every profile with enough recent history and returns
// how many were saved. A failed upsert skips that user only.
func (r *Refresher) RunOnce(ctx context.Context) (int, error) {
	now := r.now().UTC()
	sums, err := r.log.Summaries(ctx, now.Add(-HistoryWindow), MinSampleTransactions)
	if err != nil {
		return 0, fmt.Errorf("failed to summarize transaction log: %w", err)
	}

	saved := 0
	for _, s := range sums {
		prof := FromSummary(s, now)
		if err := r.store.Upsert(ctx, prof); err != nil {
			r.logger.Warn("baseline recompute: failed to save profile", "user_id", s.UserID, "error", err)
			continue
		}
		if r.provider != nil {
			r.provider.Prime(ctx, prof)
		}
		saved++
	}

	if saved > 0 {
		r.logger.Info("baselines recomputed", "users", saved)
	}
	return saved, nil
}

// FromSummary converts aggregated history into a profile stamped with now.
func FromSummary(s txlog.UserSummary, now time.Time) *Profile {
	merchants := s.TopMerchants
	if merchants == nil {
		merchants = []string{}
	}
	return &Profile{
		UserID:            s.UserID,
		AvgAmount:         s.AvgAmount,
		StdAmount:         s.StdAmount,
		AvgTime:           min(max(int(math.Round(s.AvgHour)), 0), 23),
		TotalTransactions: s.Count,
		CommonMerchants:   merchants,
		LastUpdated:       now.UTC(),
	}
}
