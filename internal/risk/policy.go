package risk

import (
	"github.com/mbd888/guardianshield/internal/baseline"
	"github.com/mbd888/guardianshield/internal/merchant"
)

// Policy maps a score to a decision tier. Tiers are half-open, lower bound
// inclusive:
//
//	[Block, ∞)          BLOCK
//	[Challenge, Block)  CHALLENGE for verified merchants, else BLOCK
//	[Caution, Challenge) SAFE for trusted merchants, else CAUTION
//	(-∞, Caution)       SAFE
//
// Verified comes from the curated keyword lists, trusted from the user's own
// history.
type Policy struct {
	thresholds Thresholds
	classifier *merchant.Classifier
}

// NewPolicy creates a decision policy.
func NewPolicy(t Thresholds, classifier *merchant.Classifier) *Policy {
	return &Policy{thresholds: t, classifier: classifier}
}

// Thresholds returns the configured tier bounds.
func (p *Policy) Thresholds() Thresholds {
	return p.thresholds
}

// Decide is a pure function of its arguments and the immutable policy.
func (p *Policy) Decide(score int, merchantName string, profile *baseline.Profile) Decision {
	switch {
	case score >= p.thresholds.Block:
		return DecisionBlock
	case score >= p.thresholds.Challenge:
		if p.classifier.IsVerified(merchantName) {
			return DecisionChallenge
		}
		return DecisionBlock
	case score >= p.thresholds.Caution:
		if merchant.IsTrusted(merchantName, profile) {
			return DecisionSafe
		}
		return DecisionCaution
	default:
		return DecisionSafe
	}
}
