package txlog

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

// NewMemoryStore creates an empty in-memory transaction log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendBatch(_ context.Context, recs []*Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range recs {
		s.records = append(s.records, cloneRecord(r))
	}
	return nil
}

func (s *MemoryStore) ListRecent(_ context.Context, userID string, limit int) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Record
	for _, r := range s.records {
		if userID == "" || r.UserID == userID {
			matched = append(matched, r)
		}
	}
	slices.SortStableFunc(matched, func(a, b *Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*Record, 0, len(matched))
	for _, r := range matched {
		out = append(out, cloneRecord(r))
	}
	return out, nil
}

func (s *MemoryStore) CountDecisions(_ context.Context, since, until time.Time) (DecisionCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c DecisionCounts
	for _, r := range s.records {
		if !r.CreatedAt.Before(since) && r.CreatedAt.Before(until) {
			c.Add(r.Decision)
		}
	}
	return c, nil
}

func (s *MemoryStore) ListRange(_ context.Context, since, until time.Time) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*Record{}
	for _, r := range s.records {
		if !r.CreatedAt.Before(since) && r.CreatedAt.Before(until) {
			out = append(out, cloneRecord(r))
		}
	}
	slices.SortStableFunc(out, func(a, b *Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) Summaries(_ context.Context, since time.Time, minCount int) ([]UserSummary, error) {
	s.mu.RLock()
	byUser := make(map[string][]*Record)
	for _, r := range s.records {
		if !r.CreatedAt.Before(since) && CountsAsHistory(r.Decision) {
			byUser[r.UserID] = append(byUser[r.UserID], r)
		}
	}
	s.mu.RUnlock()

	var out []UserSummary
	for userID, recs := range byUser {
		if len(recs) < minCount || len(recs) == 0 {
			continue
		}
		out = append(out, summarize(userID, recs))
	}
	slices.SortFunc(out, func(a, b UserSummary) int { return cmp.Compare(a.UserID, b.UserID) })
	return out, nil
}

func summarize(userID string, recs []*Record) UserSummary {
	n := float64(len(recs))
	var sumAmount, sumHour float64
	merchants := make(map[string]int)
	for _, r := range recs {
		sumAmount += r.Amount
		sumHour += float64(r.TimeHour)
		merchants[strings.ToLower(r.Merchant)]++
	}
	mean := sumAmount / n

	var sq float64
	for _, r := range recs {
		d := r.Amount - mean
		sq += d * d
	}

	names := make([]string, 0, len(merchants))
	for m := range merchants {
		names = append(names, m)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(merchants[b], merchants[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	if len(names) > TopMerchantCount {
		names = names[:TopMerchantCount]
	}

	return UserSummary{
		UserID:       userID,
		Count:        len(recs),
		AvgAmount:    mean,
		StdAmount:    math.Sqrt(sq / n),
		AvgHour:      sumHour / n,
		TopMerchants: names,
	}
}
