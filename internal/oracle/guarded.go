package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mbd888/guardianshield/internal/metrics"
	"github.com/mbd888/guardianshield/internal/traces"
)

// DefaultFallbackProbability is used whenever inference cannot produce a value.
const DefaultFallbackProbability = 0.2

// Fallback reasons, also used as metric labels.
const (
	FallbackUnloaded   = "unloaded"
	FallbackError      = "error"
	FallbackOutOfRange = "out_of_range"
)

// Guarded never fails: a missing model, an inference error or a result
// outside [0,1] all yield the fallback probability.
type Guarded struct {
	inner    Oracle
	fallback float64
	logger   *slog.Logger
}

// NewGuarded wraps inner. inner may be nil when no model is configured.
func NewGuarded(inner Oracle, fallback float64, logger *slog.Logger) *Guarded {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guarded{inner: inner, fallback: fallback, logger: logger}
}

// Predict returns the model's probability or the fallback.
func (g *Guarded) Predict(ctx context.Context, vector []float64) float64 {
	ctx, span := traces.StartSpan(ctx, "oracle.Predict")
	defer span.End()

	if g.inner == nil {
		g.fallbackUsed(FallbackUnloaded, ErrUnavailable)
		return g.fallback
	}

	p, err := g.predict(ctx, vector)
	if err != nil {
		reason := FallbackError
		if errors.Is(err, ErrUnavailable) {
			reason = FallbackUnloaded
		}
		span.RecordError(err)
		g.fallbackUsed(reason, err)
		return g.fallback
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		g.fallbackUsed(FallbackOutOfRange, fmt.Errorf("probability %v outside [0,1]", p))
		return g.fallback
	}
	return p
}

// predict converts a panicking model into an error.
func (g *Guarded) predict(ctx context.Context, vector []float64) (p float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()
	return g.inner.Predict(ctx, vector)
}

func (g *Guarded) fallbackUsed(reason string, err error) {
	metrics.OracleFallbacksTotal.WithLabelValues(reason).Inc()
	g.logger.Warn("oracle inference unavailable, using fallback probability",
		"reason", reason,
		"fallback", g.fallback,
		"error", err,
	)
}

// Loaded reports whether a model is configured.
func (g *Guarded) Loaded() bool {
	return g.inner != nil
}

// Metadata describes the wrapped model.
func (g *Guarded) Metadata() Metadata {
	if d, ok := g.inner.(Describer); ok {
		return d.Metadata()
	}
	if g.inner == nil {
		return Metadata{Version: "unknown", Loaded: false, Source: "fallback"}
	}
	return Metadata{Version: "unknown", Loaded: true}
}

// PingContext lets a remote oracle serve as a health.Pinger: it fails while
// the breaker is open or no model is configured.
func (g *Guarded) PingContext(context.Context) error {
	if !g.Metadata().Loaded {
		return ErrUnavailable
	}
	return nil
}
