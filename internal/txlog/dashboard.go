package txlog

import (
	"fmt"
	"math"
	"time"
)

// Hours of the day shown in the volume chart, inclusive.
const (
	volumeFirstHour = 8
	volumeLastHour  = 19
	trendDays       = 7
)

// DayRisk is the mean risk score of one UTC day.
type DayRisk struct {
	Date    string  `json:"date"`
	AvgRisk float64 `json:"avg_risk"`
}

// HourVolume counts today's records created in one UTC hour.
type HourVolume struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// Dashboard is the summary shown on the analytics landing page. Changes are
// percentages relative to yesterday.
type Dashboard struct {
	TotalTransactions       int            `json:"total_transactions"`
	TotalTransactionsChange float64        `json:"total_transactions_change"`
	FraudBlocked            int            `json:"fraud_blocked"`
	FraudBlockedChange      float64        `json:"fraud_blocked_change"`
	AmountSaved             int64          `json:"amount_saved"`
	AmountSavedChange       float64        `json:"amount_saved_change"`
	SuccessRate             float64        `json:"success_rate"`
	SuccessRateChange       float64        `json:"success_rate_change"`
	RiskTrend               []DayRisk      `json:"risk_trend_7days"`
	HourlyVolume            []HourVolume   `json:"transaction_volume_hourly"`
	DecisionDistribution    map[string]int `json:"decision_distribution"`
}

// DashboardWindow returns the range of records BuildDashboard needs for the
// UTC day containing now: the last seven days through the end of today.
func DashboardWindow(now time.Time) (since, until time.Time) {
	today := startOfDay(now)
	return today.AddDate(0, 0, -(trendDays - 1)), today.AddDate(0, 0, 1)
}

// BuildDashboard summarizes recs, which should cover DashboardWindow(now).
func BuildDashboard(recs []*Record, now time.Time) Dashboard {
	today := startOfDay(now)
	yesterday := today.AddDate(0, 0, -1)

	var cur, prev periodTotals
	trendSum := make([]float64, trendDays)
	trendN := make([]int, trendDays)
	hourly := make([]int, volumeLastHour-volumeFirstHour+1)

	for _, r := range recs {
		at := r.CreatedAt.UTC()
		day := startOfDay(at)

		if idx := trendDays - 1 - int(today.Sub(day).Hours()/24); idx >= 0 && idx < trendDays {
			trendSum[idx] += float64(r.RiskScore)
			trendN[idx]++
		}

		switch {
		case day.Equal(today):
			cur.add(r)
			if h := at.Hour(); h >= volumeFirstHour && h <= volumeLastHour {
				hourly[h-volumeFirstHour]++
			}
		case day.Equal(yesterday):
			prev.add(r)
		}
	}

	d := Dashboard{
		TotalTransactions:       cur.counts.Total,
		TotalTransactionsChange: percentChange(float64(cur.counts.Total), float64(prev.counts.Total)),
		FraudBlocked:            cur.counts.Blocked,
		FraudBlockedChange:      percentChange(float64(cur.counts.Blocked), float64(prev.counts.Blocked)),
		AmountSaved:             int64(math.RoundToEven(cur.amountBlocked)),
		AmountSavedChange:       percentChange(cur.amountBlocked, prev.amountBlocked),
		SuccessRate:             round1(cur.successRate()),
		SuccessRateChange:       percentChange(cur.successRate(), prev.successRate()),
		RiskTrend:               make([]DayRisk, trendDays),
		HourlyVolume:            make([]HourVolume, len(hourly)),
		DecisionDistribution: map[string]int{
			DecisionSafe:      cur.counts.Safe,
			DecisionCaution:   cur.counts.Caution,
			DecisionChallenge: cur.counts.Challenge,
			DecisionBlock:     cur.counts.Blocked,
		},
	}

	for i := range trendDays {
		var avg float64
		if trendN[i] > 0 {
			avg = math.RoundToEven(trendSum[i]/float64(trendN[i])*100) / 100
		}
		d.RiskTrend[i] = DayRisk{
			Date:    today.AddDate(0, 0, i-(trendDays-1)).Format(time.DateOnly),
			AvgRisk: avg,
		}
	}
	for i, n := range hourly {
		d.HourlyVolume[i] = HourVolume{Hour: fmt.Sprintf("%d:00", volumeFirstHour+i), Count: n}
	}
	return d
}

type periodTotals struct {
	counts        DecisionCounts
	amountBlocked float64
}

func (p *periodTotals) add(r *Record) {
	p.counts.Add(r.Decision)
	if r.Decision == DecisionBlock {
		p.amountBlocked += r.Amount
	}
}

func (p *periodTotals) successRate() float64 {
	if p.counts.Total == 0 {
		return 0
	}
	return float64(p.counts.Safe) / float64(p.counts.Total) * 100
}

// percentChange compares cur to prev, treating an empty previous period as 1.
func percentChange(cur, prev float64) float64 {
	if prev == 0 {
		prev = 1
	}
	return round1((cur - prev) / prev * 100)
}

func round1(v float64) float64 {
	return math.RoundToEven(v*10) / 10
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
