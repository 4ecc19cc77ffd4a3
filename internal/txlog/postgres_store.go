package txlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists records in the transactions table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// AppendBatch inserts recs in a single transaction.
func (s *PostgresStore) AppendBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions
			(id, user_id, amount, merchant, time_hour, phone_activity,
			 risk_score, decision, fraud_probability, reasons, adjustments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range recs {
		reasons, err := json.Marshal(nonNil(r.Reasons))
		if err != nil {
			return fmt.Errorf("failed to marshal reasons: %w", err)
		}
		adjustments, err := json.Marshal(nonNil(r.Adjustments))
		if err != nil {
			return fmt.Errorf("failed to marshal adjustments: %w", err)
		}

		if _, err := stmt.ExecContext(ctx,
			r.ID,
			r.UserID,
			r.Amount,
			r.Merchant,
			r.TimeHour,
			r.PhoneActivity,
			r.RiskScore,
			r.Decision,
			r.FraudProbability,
			reasons,
			adjustments,
			r.CreatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, userID string, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, merchant, time_hour, phone_activity,
		       risk_score, decision, fraud_probability, reasons, adjustments, created_at
		FROM transactions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func (s *PostgresStore) ListRange(ctx context.Context, since, until time.Time) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, amount, merchant, time_hour, phone_activity,
		       risk_score, decision, fraud_probability, reasons, adjustments, created_at
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at, id
	`, since, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list transaction range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]*Record, error) {
	result := []*Record{}
	for rows.Next() {
		var (
			r                    Record
			reasons, adjustments []byte
		)
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.Amount, &r.Merchant, &r.TimeHour, &r.PhoneActivity,
			&r.RiskScore, &r.Decision, &r.FraudProbability, &reasons, &adjustments, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		r.Reasons = []string{}
		r.Adjustments = []string{}
		_ = json.Unmarshal(reasons, &r.Reasons)
		_ = json.Unmarshal(adjustments, &r.Adjustments)
		r.CreatedAt = r.CreatedAt.UTC()
		result = append(result, &r)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CountDecisions(ctx context.Context, since, until time.Time) (DecisionCounts, error) {
	var c DecisionCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE decision = 'SAFE'),
		       COUNT(*) FILTER (WHERE decision = 'BLOCK'),
		       COUNT(*) FILTER (WHERE decision = 'CHALLENGE'),
		       COUNT(*) FILTER (WHERE decision = 'CAUTION')
		FROM transactions
		WHERE created_at >= $1 AND created_at < $2
	`, since, until).Scan(&c.Total, &c.Safe, &c.Blocked, &c.Challenge, &c.Caution)
	if err != nil {
		return DecisionCounts{}, fmt.Errorf("failed to count decisions: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Summaries(ctx context.Context, since time.Time, minCount int) ([]UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH recent AS (
			SELECT user_id, amount, time_hour, LOWER(merchant) AS merchant
			FROM transactions
			WHERE created_at >= $1 AND decision IN ('SAFE', 'CAUTION')
		),
		ranked AS (
			SELECT user_id, merchant,
			       ROW_NUMBER() OVER (PARTITION BY user_id ORDER BY COUNT(*) DESC, merchant) AS rn
			FROM recent
			GROUP BY user_id, merchant
		)
		SELECT r.user_id,
		       COUNT(*),
		       AVG(r.amount),
		       COALESCE(STDDEV_POP(r.amount), 0),
		       AVG(r.time_hour),
		       COALESCE((
		           SELECT ARRAY_AGG(k.merchant ORDER BY k.rn)
		           FROM ranked k
		           WHERE k.user_id = r.user_id AND k.rn <= $3
		       ), '{}')
		FROM recent r
		GROUP BY r.user_id
		HAVING COUNT(*) >= $2
		ORDER BY r.user_id
	`, since, minCount, TopMerchantCount)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []UserSummary
	for rows.Next() {
		var us UserSummary
		if err := rows.Scan(&us.UserID, &us.Count, &us.AvgAmount, &us.StdAmount, &us.AvgHour, pq.Array(&us.TopMerchants)); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		out = append(out, us)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
