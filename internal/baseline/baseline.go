// Package baseline supplies each user's 30-day behavioral profile to the
// scoring pipeline.
//
// Lookups go through three tiers: a process-local TTL cache, an optional
// shared Redis cache, and the backing Store. A lookup never fails; when the
// store errors or has no row the caller gets DefaultProfile.
package baseline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned by a Store that has no row for the user.
var ErrNotFound = errors.New("baseline: profile not found")

// Default profile values served when no stored baseline is available.
const (
	DefaultAvgAmount         = 2500.0
	DefaultStdAmount         = 1200.0
	DefaultAvgTime           = 14
	DefaultTotalTransactions = 67

	// MinStdAmount floors the standard deviation to keep deviation finite.
	MinStdAmount = 1.0
)

// DefaultMerchants is the canonical merchant set of the default profile.
var DefaultMerchants = []string{"swiggy", "amazon", "bigbasket", "zara", "flipkart"}

// Profile is a user's behavioral baseline. Values handed out by a Provider
// are shared and must be treated as read-only.
type Profile struct {
	UserID            string    `json:"user_id"`
	AvgAmount         float64   `json:"avg_amount"`
	StdAmount         float64   `json:"std_amount"`
	AvgTime           int       `json:"avg_time"`
	TotalTransactions int       `json:"total_transactions"`
	CommonMerchants   []string  `json:"common_merchants"`
	LastUpdated       time.Time `json:"last_updated"`
}

// DefaultProfile returns the fallback baseline for userID stamped with now.
func DefaultProfile(userID string, now time.Time) *Profile {
	return &Profile{
		UserID:            userID,
		AvgAmount:         DefaultAvgAmount,
		StdAmount:         DefaultStdAmount,
		AvgTime:           DefaultAvgTime,
		TotalTransactions: DefaultTotalTransactions,
		CommonMerchants:   slices.Clone(DefaultMerchants),
		LastUpdated:       now.UTC(),
	}
}

// StdFloor returns the standard deviation floored at MinStdAmount.
func (p *Profile) StdFloor() float64 {
	return max(p.StdAmount, MinStdAmount)
}

// HasMerchant reports whether merchant is one of the user's common merchants.
// Comparison is exact after lowercasing both sides.
func (p *Profile) HasMerchant(merchant string) bool {
	m := strings.ToLower(merchant)
	for _, cm := range p.CommonMerchants {
		if strings.ToLower(cm) == m {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	c := *p
	c.CommonMerchants = slices.Clone(p.CommonMerchants)
	if c.CommonMerchants == nil {
		c.CommonMerchants = []string{}
	}
	return &c
}

// Store is the durable source of baselines.
type Store interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
}
