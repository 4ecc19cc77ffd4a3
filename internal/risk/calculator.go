package risk

import (
	"math"

	"github.com/mbd888/guardianshield/internal/baseline"
	"github.com/mbd888/guardianshield/internal/features"
	"github.com/mbd888/guardianshield/internal/merchant"
)

// Penalties added on top of the model probability.
const (
	PenaltyPhoneActivity = 20
	PenaltyUnusualTime   = 10
	PenaltyNewMerchant   = 8
)

// Discounts for verified or familiar merchants.
const (
	DiscountHealthcare = 15
	DiscountEducation  = 10
	DiscountTrusted    = 20
)

// Adjustment strings, in the order they can appear.
const (
	AdjustmentHealthcare  = "Verified healthcare provider (-15 points)"
	AdjustmentEducation   = "Verified education institution (-10 points)"
	AdjustmentTrusted     = "Merchant in your trusted list (-20 points)"
	AdjustmentNoPhoneScam = "No phone scam signals detected"
	AdjustmentNormalTime  = "Normal transaction time"
)

// noPhoneScamFloor is the running score above which a clean phone signal is
// worth mentioning.
const noPhoneScamFloor = 40

// Calculator turns a model probability and the extracted signals into a
// bounded score.
type Calculator struct {
	classifier *merchant.Classifier
}

// NewCalculator creates a calculator using classifier for merchant
// verification.
func NewCalculator(classifier *merchant.Classifier) *Calculator {
	return &Calculator{classifier: classifier}
}

// Compute returns the score in [0,100] and the ordered adjustment trail.
func (c *Calculator) Compute(probability float64, tx features.Transaction, fs features.Set, profile *baseline.Profile) (int, []string) {
	adjustments := []string{}
	score := probability * 100

	if fs.PhoneActivity {
		score += PenaltyPhoneActivity
	}
	if fs.IsUnusualTime {
		score += PenaltyUnusualTime
	}
	if fs.IsNewMerchant {
		score += PenaltyNewMerchant
	}

	if c.classifier.IsHealthcare(tx.Merchant) {
		score -= DiscountHealthcare
		adjustments = append(adjustments, AdjustmentHealthcare)
	}
	if c.classifier.IsEducation(tx.Merchant) {
		score -= DiscountEducation
		adjustments = append(adjustments, AdjustmentEducation)
	}
	if merchant.IsTrusted(tx.Merchant, profile) {
		score -= DiscountTrusted
		adjustments = append(adjustments, AdjustmentTrusted)
	}

	if !fs.PhoneActivity && score > noPhoneScamFloor {
		adjustments = append(adjustments, AdjustmentNoPhoneScam)
	}
	if !fs.IsUnusualTime {
		adjustments = append(adjustments, AdjustmentNormalTime)
	}

	return finalScore(score), adjustments
}

// finalScore clamps to [0,100] first and then rounds half to even.
func finalScore(score float64) int {
	if math.IsNaN(score) {
		return MinScore
	}
	clamped := math.Max(MinScore, math.Min(MaxScore, score))
	return int(math.RoundToEven(clamped))
}
