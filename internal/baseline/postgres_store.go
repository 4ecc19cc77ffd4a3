package baseline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"
)

// PostgresStore reads baselines from the user_baselines table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed baseline store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Profile, error) {
	var (
		p         Profile
		avgTime   float64
		merchants []string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, avg_amount, std_amount, avg_time, total_transactions,
		       common_merchants, last_updated
		FROM user_baselines
		WHERE user_id = $1
	`, userID).Scan(
		&p.UserID,
		&p.AvgAmount,
		&p.StdAmount,
		&avgTime,
		&p.TotalTransactions,
		pq.Array(&merchants),
		&p.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}

	p.AvgTime = int(math.Round(avgTime))
	p.CommonMerchants = merchants
	if p.CommonMerchants == nil {
		p.CommonMerchants = []string{}
	}
	p.LastUpdated = p.LastUpdated.UTC()
	return &p, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p *Profile) error {
	lastUpdated := p.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_baselines
			(user_id, avg_amount, std_amount, avg_time, total_transactions, common_merchants, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			avg_amount         = EXCLUDED.avg_amount,
			std_amount         = EXCLUDED.std_amount,
			avg_time           = EXCLUDED.avg_time,
			total_transactions = EXCLUDED.total_transactions,
			common_merchants   = EXCLUDED.common_merchants,
			last_updated       = EXCLUDED.last_updated
	`,
		p.UserID,
		p.AvgAmount,
		p.StdAmount,
		p.AvgTime,
		p.TotalTransactions,
		pq.Array(p.CommonMerchants),
		lastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert baseline: %w", err)
	}
	return nil
}
