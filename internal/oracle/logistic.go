package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
)

// LogisticModel is a linear model with sigmoid output. It is immutable after
// load, so Predict needs no locking.
type LogisticModel struct {
	version string
	bias    float64
	weights []float64
}

var (
	_ Oracle    = (*LogisticModel)(nil)
	_ Describer = (*LogisticModel)(nil)
)

type modelFile struct {
	Version string    `json:"version"`
	Bias    float64   `json:"bias"`
	Weights []float64 `json:"weights"`
}

// NewLogisticModel builds a model from explicit parameters. weights is copied.
func NewLogisticModel(version string, bias float64, weights []float64) (*LogisticModel, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("model %q has no weights", version)
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("model %q weight %d is not finite", version, i)
		}
	}
	return &LogisticModel{
		version: version,
		bias:    bias,
		weights: slices.Clone(weights),
	}, nil
}

// LoadLogisticModel reads a {version, bias, weights} JSON file.
func LoadLogisticModel(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}

	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", path, err)
	}
	if mf.Version == "" {
		mf.Version = "unknown"
	}
	return NewLogisticModel(mf.Version, mf.Bias, mf.Weights)
}

// Width returns the number of inputs the model expects.
func (m *LogisticModel) Width() int {
	return len(m.weights)
}

func (m *LogisticModel) Predict(_ context.Context, vector []float64) (float64, error) {
	if len(vector) != len(m.weights) {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrInputWidth, len(vector), len(m.weights))
	}

	z := m.bias
	for i, v := range vector {
		z += v * m.weights[i]
	}
	return sigmoid(z), nil
}

func (m *LogisticModel) Metadata() Metadata {
	return Metadata{Version: m.version, Loaded: true, Source: "local"}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
