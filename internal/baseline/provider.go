package baseline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mbd888/guardianshield/internal/metrics"
	"github.com/mbd888/guardianshield/internal/traces"
	"golang.org/x/sync/singleflight"
)

// Lookup sources, also used as metric labels.
const (
	SourceMemory  = "memory"
	SourceRedis   = "redis"
	SourceStore   = "store"
	SourceDefault = "default"
)

// Defaults for a Provider built without options.
const (
	DefaultTTL          = 300 * time.Second
	DefaultFetchTimeout = 2 * time.Second
)

// Provider resolves a user's baseline through the cache tiers.
type Provider struct {
	store        Store
	local        *Cache
	remote       RemoteCache
	group        singleflight.Group
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

// WithRemoteCache adds a shared cache tier between memory and the store.
func WithRemoteCache(rc RemoteCache) Option {
	return func(p *Provider) { p.remote = rc }
}

// WithTTL sets how long a cached profile stays fresh.
func WithTTL(ttl time.Duration) Option {
	return func(p *Provider) { p.ttl = ttl }
}

// WithFetchTimeout bounds each backing store or remote cache call.
func WithFetchTimeout(d time.Duration) Option {
	return func(p *Provider) { p.fetchTimeout = d }
}

// WithClock replaces the time source for cache freshness and default stamps.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// WithLogger sets the logger for degraded lookups.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates a provider over store. A nil store always yields the
// default profile.
func NewProvider(store Store, opts ...Option) *Provider {
	p := &Provider{
		store:        store,
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.local = NewCache(p.ttl, p.now)
	return p
}

type lookup struct {
	profile *Profile
	source  string
}

// Get returns the baseline for userID. It never fails: any store problem
// degrades to DefaultProfile. Concurrent misses for the same user share a
// single backing fetch.
func (p *Provider) Get(ctx context.Context, userID string) *Profile {
	ctx, span := traces.StartSpan(ctx, "baseline.Get", traces.UserID(userID))
	defer span.End()

	if prof, ok := p.local.Get(userID); ok {
		metrics.BaselineLookupsTotal.WithLabelValues(SourceMemory).Inc()
		span.SetAttributes(traces.Source(SourceMemory))
		return prof
	}

	// The shared fetch must not die with whichever caller started it.
	detached := context.WithoutCancel(ctx)
	v, _, _ := p.group.Do(userID, func() (any, error) {
		return p.load(detached, userID), nil
	})
	res := v.(lookup)

	metrics.BaselineLookupsTotal.WithLabelValues(res.source).Inc()
	span.SetAttributes(traces.Source(res.source))
	return res.profile
}

func (p *Provider) load(ctx context.Context, userID string) lookup {
	if prof, ok := p.local.Get(userID); ok {
		return lookup{profile: prof, source: SourceMemory}
	}

	if p.remote != nil {
		if prof, fetchedAt := p.fromRemote(ctx, userID); prof != nil {
			p.local.RefreshAt(userID, prof, fetchedAt)
			return lookup{profile: prof, source: SourceRedis}
		}
	}

	prof, source := p.fromStore(ctx, userID)
	p.local.Refresh(userID, prof)

	if p.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
		if err := p.remote.Set(rctx, prof, p.ttl); err != nil {
			p.logger.Warn("baseline remote cache write failed", "user_id", userID, "error", err)
		}
		cancel()
	}
	return lookup{profile: prof, source: source}
}

// fromRemote returns the shared profile and the time it was originally
// cached, so the local copy expires no later than the remote one.
func (p *Provider) fromRemote(ctx context.Context, userID string) (*Profile, time.Time) {
	rctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	prof, remaining, err := p.remote.Get(rctx, userID)
	if err != nil {
		p.logger.Warn("baseline remote cache read failed", "user_id", userID, "error", err)
		return nil, time.Time{}
	}
	now := p.now()
	if prof == nil || remaining <= 0 || remaining > p.ttl {
		return prof, now
	}
	return prof, now.Add(remaining - p.ttl)
}

func (p *Provider) fromStore(ctx context.Context, userID string) (*Profile, string) {
	if p.store == nil {
		return DefaultProfile(userID, p.now()), SourceDefault
	}

	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	prof, err := p.store.Get(fctx, userID)
	switch {
	case errors.Is(err, ErrNotFound), err == nil && prof == nil:
		p.logger.Info("no stored baseline, using default", "user_id", userID)
		return DefaultProfile(userID, p.now()), SourceDefault
	case err != nil:
		p.logger.Warn("baseline fetch failed, using default", "user_id", userID, "error", err)
		return DefaultProfile(userID, p.now()), SourceDefault
	}
	return prof, SourceStore
}

// Invalidate drops userID from the local tier so the next Get refetches.
func (p *Provider) Invalidate(userID string) {
	p.local.Invalidate(userID)
}

// Cached reports how many users the local tier currently holds.
func (p *Provider) Cached() int {
	return p.local.Len()
}

// Prime replaces userID's cached profile in every tier with prof.
func (p *Provider) Prime(ctx context.Context, prof *Profile) {
	p.local.Refresh(prof.UserID, prof)
	if p.remote == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()
	if err := p.remote.Set(rctx, prof, p.ttl); err != nil {
		p.logger.Warn("baseline remote cache write failed", "user_id", prof.UserID, "error", err)
	}
}
