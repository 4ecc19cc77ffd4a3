// Package oracle wraps the fraud probability model.
//
// The model is a black box that maps a fixed-width feature vector to a
// probability in [0,1]. Callers go through Guarded, which turns every
// failure into a fallback probability so inference problems never reach
// the scoring pipeline.
package oracle

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means no model is loaded or reachable.
	ErrUnavailable = errors.New("oracle: model unavailable")

	// ErrInputWidth means the vector does not match the model's input width.
	ErrInputWidth = errors.New("oracle: unexpected input width")
)

// Oracle estimates the probability that a transaction is fraudulent.
// Implementations must be safe for concurrent use.
type Oracle interface {
	Predict(ctx context.Context, vector []float64) (float64, error)
}

// Metadata describes the model behind an oracle.
type Metadata struct {
	Version string `json:"version"`
	Loaded  bool   `json:"loaded"`
	Source  string `json:"source"`
}

// Describer is implemented by oracles that can report their metadata.
type Describer interface {
	Metadata() Metadata
}
