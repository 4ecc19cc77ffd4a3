package risk

import (
	"context"
	"math"
	"slices"
	"time"

	"github.com/mbd888/guardianshield/internal/features"
	"github.com/mbd888/guardianshield/internal/idgen"
	"github.com/mbd888/guardianshield/internal/logging"
	"github.com/mbd888/guardianshield/internal/metrics"
	"github.com/mbd888/guardianshield/internal/traces"
	"github.com/mbd888/guardianshield/internal/txlog"
)

// Engine runs the evaluation pipeline. Safe for concurrent use.
type Engine struct {
	baselines  BaselineSource
	oracle     Predictor
	calculator *Calculator
	policy     *Policy
	recorder   Recorder
	publisher  Publisher
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRecorder sends every evaluation to the transaction log.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithPublisher streams every evaluation to live subscribers.
func WithPublisher(p Publisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// WithClock replaces the time source used for processing time and log stamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires the pipeline stages together.
func NewEngine(baselines BaselineSource, oracle Predictor, calculator *Calculator, policy *Policy, opts ...EngineOption) *Engine {
	e := &Engine{
		baselines:  baselines,
		oracle:     oracle,
		calculator: calculator,
		policy:     policy,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scores tx. tx must already be validated (hour in 0..23, amount
// non-negative). It never fails; degraded dependencies fall back to
// defaults inside the baseline source and the predictor.
func (e *Engine) Evaluate(ctx context.Context, tx features.Transaction) *Assessment {
	start := e.now()
	ctx, span := traces.StartSpan(ctx, "risk.Evaluate",
		traces.UserID(tx.UserID),
		traces.Merchant(tx.Merchant),
		traces.Amount(tx.Amount),
	)
	defer span.End()

	profile := e.baselines.Get(ctx, tx.UserID)
	fs := features.Extract(tx, profile)
	probability := e.oracle.Predict(ctx, fs.Vector[:])
	score, adjustments := e.calculator.Compute(probability, tx, fs, profile)
	decision := e.policy.Decide(score, tx.Merchant, profile)
	reasons := Reasons(fs, tx)

	elapsed := e.now().Sub(start)
	a := &Assessment{
		RiskScore:        score,
		Decision:         decision,
		Reasons:          reasons,
		FraudProbability: roundTo(probability, 4),
		AmountDeviation:  roundTo(fs.AmountDeviation, 2),
		Adjustments:      adjustments,
		ProcessingTimeMs: max(elapsed.Milliseconds(), 0),
	}

	span.SetAttributes(traces.Score(score), traces.Decision(string(decision)))
	metrics.EvaluationsTotal.WithLabelValues(string(decision)).Inc()
	metrics.EvaluationDuration.Observe(elapsed.Seconds())
	metrics.RiskScore.Observe(float64(score))

	logging.L(ctx).Debug("transaction evaluated",
		"user_id", tx.UserID,
		"risk_score", score,
		"decision", decision,
		"fraud_probability", a.FraudProbability,
	)

	e.dispatch(ctx, tx, a)
	return a
}

// dispatch hands the outcome to the log and the live feed. Both sinks are
// non-blocking; a panic in either is contained here.
func (e *Engine) dispatch(ctx context.Context, tx features.Transaction, a *Assessment) {
	if e.recorder == nil && e.publisher == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("assessment dispatch panicked", "user_id", tx.UserID, "panic", r)
		}
	}()

	rec := &txlog.Record{
		ID:               idgen.Transaction(),
		UserID:           tx.UserID,
		Amount:           tx.Amount,
		Merchant:         tx.Merchant,
		TimeHour:         tx.Hour,
		PhoneActivity:    tx.PhoneActivity,
		RiskScore:        a.RiskScore,
		Decision:         string(a.Decision),
		FraudProbability: a.FraudProbability,
		Reasons:          slices.Clone(a.Reasons),
		Adjustments:      slices.Clone(a.Adjustments),
		CreatedAt:        e.now().UTC(),
	}

	if e.recorder != nil && !e.recorder.Enqueue(rec) {
		logging.L(ctx).Warn("transaction log queue full, record dropped", "user_id", tx.UserID)
	}
	if e.publisher != nil {
		e.publisher.PublishAssessment(rec)
	}
}

// Policy returns the decision policy in use.
func (e *Engine) Policy() *Policy {
	return e.policy
}

func roundTo(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.RoundToEven(v*p) / p
}
