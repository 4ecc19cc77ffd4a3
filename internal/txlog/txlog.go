// Package txlog keeps the log of evaluated transactions.
//
// Records reach the store through Writer, a bounded queue drained in
// batches by a background goroutine. The scoring path only ever enqueues;
// a full queue or a failing store drops records and never slows an
// evaluation down.
package txlog

import (
	"context"
	"time"
)

// Record is one evaluated transaction.
type Record struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Amount           float64   `json:"amount"`
	Merchant         string    `json:"merchant"`
	TimeHour         int       `json:"time_hour"`
	PhoneActivity    bool      `json:"phone_activity"`
	RiskScore        int       `json:"risk_score"`
	Decision         string    `json:"decision"`
	FraudProbability float64   `json:"fraud_probability"`
	Reasons          []string  `json:"reasons"`
	Adjustments      []string  `json:"adjustments"`
	CreatedAt        time.Time `json:"created_at"`
}

// Decision labels as stored in the log.
const (
	DecisionSafe      = "SAFE"
	DecisionCaution   = "CAUTION"
	DecisionChallenge = "CHALLENGE"
	DecisionBlock     = "BLOCK"
)

// DecisionCounts tallies records by decision over a time range.
type DecisionCounts struct {
	Total     int `json:"total"`
	Safe      int `json:"safe"`
	Blocked   int `json:"blocked"`
	Challenge int `json:"challenge"`
	Caution   int `json:"caution"`
}

// Add counts one record with the given decision.
func (c *DecisionCounts) Add(decision string) {
	c.Total++
	switch decision {
	case DecisionSafe:
		c.Safe++
	case DecisionBlock:
		c.Blocked++
	case DecisionChallenge:
		c.Challenge++
	case DecisionCaution:
		c.Caution++
	}
}

// CountsAsHistory reports whether a record with this decision describes a
// payment the user actually made. BLOCK and CHALLENGE outcomes are often
// someone else's scam attempts and must never shape the user's baseline.
func CountsAsHistory(decision string) bool {
	return decision == DecisionSafe || decision == DecisionCaution
}

// UserSummary aggregates one user's recent history.
type UserSummary struct {
	UserID       string
	Count        int
	AvgAmount    float64
	StdAmount    float64 // population standard deviation
	AvgHour      float64
	TopMerchants []string // lowercased, most frequent first
}

// Limits for listing.
const (
	DefaultListLimit = 10
	MaxListLimit     = 100
	TopMerchantCount = 5
)

// Store persists transaction records.
type Store interface {
	AppendBatch(ctx context.Context, recs []*Record) error
	// ListRecent returns the newest records first. An empty userID lists
	// every user.
	ListRecent(ctx context.Context, userID string, limit int) ([]*Record, error)
	// CountDecisions tallies records created in [since, until).
	CountDecisions(ctx context.Context, since, until time.Time) (DecisionCounts, error)
	// Summaries aggregates records created at or after since, per user, for
	// users with at least minCount records. Only payments that went through
	// (see CountsAsHistory) are included.
	Summaries(ctx context.Context, since time.Time, minCount int) ([]UserSummary, error)
	// ListRange returns the records created in [since, until), oldest first.
	ListRange(ctx context.Context, since, until time.Time) ([]*Record, error)
}

func cloneRecord(r *Record) *Record {
	c := *r
	c.Reasons = append([]string{}, r.Reasons...)
	c.Adjustments = append([]string{}, r.Adjustments...)
	return &c
}
