// Package risk scores a single transaction and decides what to do with it.
//
// Evaluation runs baseline lookup, feature extraction, model inference,
// score computation, the decision policy and explanation generation in that
// order. Everything after the baseline lookup is pure computation. Scores
// are integers in [0,100]; decisions are one of four tiers.
package risk

import (
	"context"

	"github.com/mbd888/guardianshield/internal/baseline"
	"github.com/mbd888/guardianshield/internal/txlog"
)

// Decision is the verdict on a transaction.
type Decision string

const (
	DecisionSafe      Decision = "SAFE"
	DecisionCaution   Decision = "CAUTION"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionBlock     Decision = "BLOCK"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// Thresholds are the inclusive lower bounds of the upper three tiers.
type Thresholds struct {
	Block     int
	Challenge int
	Caution   int
}

// DefaultThresholds returns 90/71/41.
func DefaultThresholds() Thresholds {
	return Thresholds{Block: 90, Challenge: 71, Caution: 41}
}

// Assessment is the result of evaluating one transaction. It is built once
// and not modified afterwards.
type Assessment struct {
	RiskScore        int      `json:"risk_score"`
	Decision         Decision `json:"decision"`
	Reasons          []string `json:"reasons"`
	FraudProbability float64  `json:"fraud_probability"`
	AmountDeviation  float64  `json:"amount_deviation"`
	Adjustments      []string `json:"adjustments"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// BaselineSource resolves a user's baseline. It must not fail.
type BaselineSource interface {
	Get(ctx context.Context, userID string) *baseline.Profile
}

// Predictor returns a fraud probability in [0,1]. It must not fail.
type Predictor interface {
	Predict(ctx context.Context, vector []float64) float64
}

// Recorder accepts evaluated transactions for the log. Enqueue must not
// block; it reports false when the record was dropped.
type Recorder interface {
	Enqueue(rec *txlog.Record) bool
}

// Publisher fans evaluated transactions out to live subscribers. It must
// not block.
type Publisher interface {
	PublishAssessment(rec *txlog.Record)
}
