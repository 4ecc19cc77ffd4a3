// Package features derives the scoring signals for one transaction from the
// user's baseline. Extraction is pure: no I/O, no shared state.
package features

import (
	"github.com/mbd888/guardianshield/internal/baseline"
)

// Vector layout. The model was trained on 29 inputs; only the first six
// carry signal and the rest stay zero.
const (
	MeaningfulSlots = 6
	ReservedSlots   = 23
	VectorWidth     = MeaningfulSlots + ReservedSlots
)

// Active hours. A transaction before EarliestUsualHour or after
// LatestUsualHour is unusual.
const (
	EarliestUsualHour = 6
	LatestUsualHour   = 22
)

// Transaction is a validated scoring request.
type Transaction struct {
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Merchant      string  `json:"merchant"`
	Hour          int     `json:"time_hour"`
	PhoneActivity bool    `json:"phone_activity"`
}

// Set holds the derived signals for one transaction.
type Set struct {
	Amount          float64
	AmountDeviation float64
	TimeDeviation   int
	IsUnusualTime   bool
	IsNewMerchant   bool
	PhoneActivity   bool

	// Vector is the model input. Slots past MeaningfulSlots are always zero.
	Vector [VectorWidth]float64
}

// Extract computes the feature set for tx against profile.
func Extract(tx Transaction, profile *baseline.Profile) Set {
	s := Set{
		Amount:          tx.Amount,
		AmountDeviation: (tx.Amount - profile.AvgAmount) / profile.StdFloor(),
		TimeDeviation:   abs(tx.Hour - profile.AvgTime),
		IsUnusualTime:   IsUnusualHour(tx.Hour),
		IsNewMerchant:   !profile.HasMerchant(tx.Merchant),
		PhoneActivity:   tx.PhoneActivity,
	}

	s.Vector[0] = s.Amount
	s.Vector[1] = s.AmountDeviation
	s.Vector[2] = boolToFloat(s.IsUnusualTime)
	s.Vector[3] = float64(s.TimeDeviation)
	s.Vector[4] = boolToFloat(s.IsNewMerchant)
	s.Vector[5] = boolToFloat(s.PhoneActivity)
	return s
}

// IsUnusualHour reports whether hour falls outside the active window.
func IsUnusualHour(hour int) bool {
	return hour < EarliestUsualHour || hour > LatestUsualHour
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
