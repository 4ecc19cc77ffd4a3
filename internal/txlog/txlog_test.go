package txlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/guardianshield/internal/logging"
	"github.com/mbd888/guardianshield/internal/retry"
	"github.com/mbd888/guardianshield/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func record(id, userID, decision string, at time.Time) *Record {
	return &Record{
		ID:               id,
		UserID:           userID,
		Amount:           1500,
		Merchant:         "amazon",
		TimeHour:         14,
		RiskScore:        0,
		Decision:         decision,
		FraudProbability: 0.2,
		Reasons:          []string{},
		Adjustments:      []string{"Merchant in your trusted list (-20 points)"},
		CreatedAt:        at,
	}
}

// flakyStore fails the first failN AppendBatch calls.
type flakyStore struct {
	*MemoryStore
	failN   int32
	calls   atomic.Int32
	batches atomic.Int32
	panics  bool
}

func (s *flakyStore) AppendBatch(ctx context.Context, recs []*Record) error {
	n := s.calls.Add(1)
	if s.panics {
		panic("driver bug")
	}
	if n <= s.failN {
		return errors.New("connection refused")
	}
	s.batches.Add(1)
	return s.MemoryStore.AppendBatch(ctx, recs)
}

// startWriter runs w in the background and waits until its loop is live, so a
// following Stop always waits for the final flush.
func startWriter(t *testing.T, ctx context.Context, w *Writer) {
	t.Helper()
	go w.Start(ctx)
	require.Eventually(t, w.Running, time.Second, time.Millisecond)
}

func fastRetry() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestMemoryStore_ListRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AppendBatch(ctx, []*Record{
		record("txn_1", "u1", DecisionSafe, epoch),
		record("txn_2", "u2", DecisionBlock, epoch.Add(time.Minute)),
		record("txn_3", "u1", DecisionCaution, epoch.Add(2*time.Minute)),
	}))

	all, err := s.ListRecent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "txn_3", all[0].ID)
	assert.Equal(t, "txn_1", all[2].ID)

	mine, err := s.ListRecent(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "txn_3", mine[0].ID)

	mine[0].Reasons = append(mine[0].Reasons, "mutated")
	again, _ := s.ListRecent(ctx, "u1", 1)
	assert.Empty(t, again[0].Reasons, "store must hand out copies")
}

func TestMemoryStore_CountDecisions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AppendBatch(ctx, []*Record{
		record("a", "u1", DecisionSafe, epoch),
		record("b", "u1", DecisionSafe, epoch.Add(time.Hour)),
		record("c", "u1", DecisionBlock, epoch.Add(2*time.Hour)),
		record("d", "u1", DecisionChallenge, epoch.Add(3*time.Hour)),
		record("e", "u1", DecisionCaution, epoch.Add(4*time.Hour)),
	}))

	c, err := s.CountDecisions(ctx, epoch, epoch.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, DecisionCounts{Total: 4, Safe: 2, Blocked: 1, Challenge: 1}, c, "until is exclusive")
}

func TestMemoryStore_Summaries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var recs []*Record
	for i, m := range []string{"Amazon", "amazon", "swiggy", "zara", "zara", "zara"} {
		r := record(fmt.Sprintf("t%d", i), "u1", DecisionSafe, epoch)
		r.Merchant = m
		r.Amount = float64(100 * (i + 1))
		r.TimeHour = 10 + i
		recs = append(recs, r)
	}
	recs = append(recs, record("old", "u1", DecisionSafe, epoch.AddDate(0, 0, -60)))
	recs = append(recs, record("x", "u2", DecisionSafe, epoch))
	require.NoError(t, s.AppendBatch(ctx, recs))

	got, err := s.Summaries(ctx, epoch.AddDate(0, 0, -30), 2)
	require.NoError(t, err)
	require.Len(t, got, 1, "u2 is below the minimum count")

	u1 := got[0]
	assert.Equal(t, "u1", u1.UserID)
	assert.Equal(t, 6, u1.Count)
	assert.InDelta(t, 350, u1.AvgAmount, 1e-9)
	assert.InDelta(t, 170.78, u1.StdAmount, 0.01)
	assert.InDelta(t, 12.5, u1.AvgHour, 1e-9)
	assert.Equal(t, []string{"zara", "amazon", "swiggy"}, u1.TopMerchants)
}

func TestMemoryStore_SummariesSkipStoppedPayments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var recs []*Record
	for i := range 5 {
		r := record(fmt.Sprintf("scam%d", i), "u1", DecisionBlock, epoch)
		r.Merchant = "kyc update services"
		r.Amount = 75000
		recs = append(recs, r)
	}
	recs = append(recs,
		record("ch", "u1", DecisionChallenge, epoch),
		record("ok1", "u1", DecisionSafe, epoch),
		record("ok2", "u1", DecisionCaution, epoch),
	)
	require.NoError(t, s.AppendBatch(ctx, recs))

	got, err := s.Summaries(ctx, epoch.AddDate(0, 0, -30), 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Count)
	assert.InDelta(t, 1500, got[0].AvgAmount, 1e-9)
	assert.Equal(t, []string{"amazon"}, got[0].TopMerchants)

	got, err = s.Summaries(ctx, epoch.AddDate(0, 0, -30), 3)
	require.NoError(t, err)
	assert.Empty(t, got, "blocked attempts do not count toward the minimum")
}

func TestCountsAsHistory(t *testing.T) {
	assert.True(t, CountsAsHistory(DecisionSafe))
	assert.True(t, CountsAsHistory(DecisionCaution))
	assert.False(t, CountsAsHistory(DecisionChallenge))
	assert.False(t, CountsAsHistory(DecisionBlock))
}

func TestMemoryStore_ListRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.AppendBatch(ctx, []*Record{
		record("b", "u1", DecisionSafe, epoch.Add(time.Hour)),
		record("a", "u1", DecisionSafe, epoch),
		record("c", "u1", DecisionSafe, epoch.Add(2*time.Hour)),
	}))

	got, err := s.ListRange(ctx, epoch, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)

	none, err := s.ListRange(ctx, epoch.Add(-time.Hour), epoch)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func dashboardRecords() []*Record {
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	mk := func(id, decision string, at time.Time, amount float64, score int) *Record {
		r := record(id, "u1", decision, at)
		r.Amount = amount
		r.RiskScore = score
		return r
	}
	return []*Record{
		mk("t1", DecisionSafe, today.Add(9*time.Hour), 100, 10),
		mk("t2", DecisionBlock, today.Add(9*time.Hour+30*time.Minute), 5000, 95),
		mk("t3", DecisionSafe, today.Add(21*time.Hour), 100, 20),
		mk("y1", DecisionBlock, today.Add(-14*time.Hour), 2000, 90),
		mk("w1", DecisionSafe, today.AddDate(0, 0, -5), 100, 30),
		mk("old", DecisionSafe, today.AddDate(0, 0, -14), 100, 99),
	}
}

func TestBuildDashboard(t *testing.T) {
	d := BuildDashboard(dashboardRecords(), epoch)

	assert.Equal(t, 3, d.TotalTransactions)
	assert.InDelta(t, 200.0, d.TotalTransactionsChange, 1e-9)
	assert.Equal(t, 1, d.FraudBlocked)
	assert.InDelta(t, 0.0, d.FraudBlockedChange, 1e-9)
	assert.Equal(t, int64(5000), d.AmountSaved)
	assert.InDelta(t, 150.0, d.AmountSavedChange, 1e-9)
	assert.InDelta(t, 66.7, d.SuccessRate, 1e-9)
	assert.Equal(t, map[string]int{"SAFE": 2, "CAUTION": 0, "CHALLENGE": 0, "BLOCK": 1}, d.DecisionDistribution)

	require.Len(t, d.RiskTrend, 7)
	assert.Equal(t, DayRisk{Date: "2024-06-09", AvgRisk: 0}, d.RiskTrend[0])
	assert.Equal(t, DayRisk{Date: "2024-06-10", AvgRisk: 30}, d.RiskTrend[1])
	assert.Equal(t, DayRisk{Date: "2024-06-14", AvgRisk: 90}, d.RiskTrend[5])
	assert.Equal(t, DayRisk{Date: "2024-06-15", AvgRisk: 41.67}, d.RiskTrend[6])

	require.Len(t, d.HourlyVolume, 12)
	assert.Equal(t, HourVolume{Hour: "8:00", Count: 0}, d.HourlyVolume[0])
	assert.Equal(t, HourVolume{Hour: "9:00", Count: 2}, d.HourlyVolume[1])
	assert.Equal(t, "19:00", d.HourlyVolume[11].Hour)
}

func TestBuildDashboard_Empty(t *testing.T) {
	d := BuildDashboard(nil, epoch)

	assert.Zero(t, d.TotalTransactions)
	assert.Zero(t, d.SuccessRate)
	assert.InDelta(t, -100.0, d.TotalTransactionsChange, 1e-9, "empty yesterday counts as one")
	assert.Len(t, d.RiskTrend, 7)
	assert.Len(t, d.HourlyVolume, 12)
}

func TestDashboardWindow(t *testing.T) {
	since, until := DashboardWindow(epoch)
	assert.Equal(t, time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC), since)
	assert.Equal(t, time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC), until)
}

func TestWriter_FlushesOnBatchSize(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	w := NewWriter(store, logging.Nop(), WithBatchSize(2), WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startWriter(t, ctx, w)

	assert.True(t, w.Enqueue(record("a", "u1", DecisionSafe, epoch)))
	assert.True(t, w.Enqueue(record("b", "u1", DecisionSafe, epoch)))

	require.Eventually(t, func() bool { return store.batches.Load() == 1 }, time.Second, 5*time.Millisecond)
	w.Stop()

	written, failed, dropped := w.Stats()
	assert.Equal(t, int64(2), written)
	assert.Zero(t, failed)
	assert.Zero(t, dropped)
}

func TestWriter_FlushesOnInterval(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, logging.Nop(), WithFlushInterval(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startWriter(t, ctx, w)

	w.Enqueue(record("a", "u1", DecisionSafe, epoch))

	require.Eventually(t, func() bool {
		recs, _ := store.ListRecent(context.Background(), "", 10)
		return len(recs) == 1
	}, time.Second, 5*time.Millisecond)
	w.Stop()
}

func TestWriter_StopFlushesRemaining(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, logging.Nop(), WithFlushInterval(time.Hour))

	startWriter(t, context.Background(), w)

	for i := 0; i < 5; i++ {
		w.Enqueue(record(fmt.Sprintf("t%d", i), "u1", DecisionSafe, epoch))
	}
	w.Stop()

	recs, _ := store.ListRecent(context.Background(), "", 10)
	assert.Len(t, recs, 5)
	assert.False(t, w.Running())
	assert.False(t, w.Enqueue(record("late", "u1", DecisionSafe, epoch)), "stopped writer drops")
}

func TestWriter_DropsWhenFull(t *testing.T) {
	w := NewWriter(NewMemoryStore(), logging.Nop(), WithQueueSize(2))

	assert.True(t, w.Enqueue(record("a", "u1", DecisionSafe, epoch)))
	assert.True(t, w.Enqueue(record("b", "u1", DecisionSafe, epoch)))
	assert.False(t, w.Enqueue(record("c", "u1", DecisionSafe, epoch)))

	_, _, dropped := w.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestWriter_EnqueueNeverBlocks(t *testing.T) {
	w := NewWriter(NewMemoryStore(), logging.Nop(), WithQueueSize(1))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			w.Enqueue(record("x", "u1", DecisionSafe, epoch))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked with nobody draining")
	}
}

func TestWriter_RetriesTransientFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failN: 2}
	w := NewWriter(store, logging.Nop(), WithRetryPolicy(fastRetry()), WithFlushInterval(time.Hour))

	startWriter(t, context.Background(), w)
	w.Enqueue(record("a", "u1", DecisionSafe, epoch))
	w.Stop()

	assert.Equal(t, int32(3), store.calls.Load())
	written, failed, _ := w.Stats()
	assert.Equal(t, int64(1), written)
	assert.Zero(t, failed)
}

func TestWriter_GivesUpAfterRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failN: 100}
	w := NewWriter(store, logging.Nop(), WithRetryPolicy(fastRetry()), WithFlushInterval(time.Hour))

	startWriter(t, context.Background(), w)
	w.Enqueue(record("a", "u1", DecisionSafe, epoch))
	w.Enqueue(record("b", "u1", DecisionSafe, epoch))
	w.Stop()

	assert.Equal(t, int32(3), store.calls.Load())
	_, failed, _ := w.Stats()
	assert.Equal(t, int64(2), failed)
}

func TestWriter_ContainsPanics(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), panics: true}
	w := NewWriter(store, logging.Nop(), WithBatchSize(1), WithFlushInterval(time.Hour))

	startWriter(t, context.Background(), w)
	w.Enqueue(record("a", "u1", DecisionSafe, epoch))
	w.Enqueue(record("b", "u1", DecisionSafe, epoch))
	w.Stop()

	_, failed, _ := w.Stats()
	assert.Equal(t, int64(2), failed, "each batch panics independently")
}

func TestWriter_ConcurrentEnqueue(t *testing.T) {
	store := NewMemoryStore()
	w := NewWriter(store, logging.Nop(), WithBatchSize(7), WithFlushInterval(5*time.Millisecond))
	startWriter(t, context.Background(), w)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				w.Enqueue(record(fmt.Sprintf("t%d_%d", i, j), "u1", DecisionSafe, epoch))
			}
		}(i)
	}
	wg.Wait()
	w.Stop()

	recs, _ := store.ListRecent(context.Background(), "", 1000)
	assert.Len(t, recs, 200)
}

func setupRouter(store Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store).WithClock(func() time.Time { return epoch }).RegisterRoutes(r.Group("/api"))
	return r
}

func TestHandler_List(t *testing.T) {
	store := NewMemoryStore()
	var recs []*Record
	for i := 0; i < 15; i++ {
		recs = append(recs, record(fmt.Sprintf("t%02d", i), "u1", DecisionSafe, epoch.Add(time.Duration(i)*time.Second)))
	}
	recs = append(recs, record("other", "u2", DecisionBlock, epoch))
	require.NoError(t, store.AppendBatch(context.Background(), recs))
	r := setupRouter(store)

	tests := []struct {
		query string
		want  int
	}{
		{"", 10},
		{"?limit=3", 3},
		{"?user_id=u2", 1},
		{"?limit=1000", 16},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transactions"+tt.query, nil))
		require.Equal(t, http.StatusOK, w.Code, tt.query)

		var body struct {
			Transactions []Record `json:"transactions"`
			Total        int      `json:"total"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tt.want, body.Total, tt.query)
		assert.Len(t, body.Transactions, tt.want, tt.query)
	}
}

func TestHandler_ListRejectsBadLimit(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	for _, q := range []string{"0", "-5", "ten"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transactions?limit="+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHandler_ListEmpty(t *testing.T) {
	r := setupRouter(NewMemoryStore())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transactions", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"transactions": [], "total": 0}`, w.Body.String())
}

func TestHandler_Stats(t *testing.T) {
	store := NewMemoryStore()
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendBatch(context.Background(), []*Record{
		record("a", "u1", DecisionSafe, today.Add(time.Hour)),
		record("b", "u1", DecisionBlock, today.Add(2*time.Hour)),
		record("c", "u1", DecisionCaution, today.Add(-time.Hour)),
		record("d", "u1", DecisionChallenge, today.AddDate(0, 0, -5)),
		record("e", "u1", DecisionSafe, today.AddDate(0, 0, -10)),
	}))
	r := setupRouter(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/analytics/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, DecisionCounts{Total: 2, Safe: 1, Blocked: 1}, resp.Today)
	assert.Equal(t, DecisionCounts{Total: 1, Caution: 1}, resp.Yesterday)
	assert.Equal(t, DecisionCounts{Total: 4, Safe: 1, Blocked: 1, Challenge: 1, Caution: 1}, resp.Week)
}

func TestHandler_Dashboard(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.AppendBatch(context.Background(), dashboardRecords()))
	r := setupRouter(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/analytics/dashboard", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var d Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, 3, d.TotalTransactions)
	assert.Equal(t, 1, d.FraudBlocked)
	assert.Len(t, d.RiskTrend, 7)
}

func TestPostgresStore_AppendAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	s := NewPostgresStore(db)

	first := record("txn_1", "u1", DecisionSafe, epoch)
	second := record("txn_2", "u1", DecisionBlock, epoch.Add(time.Minute))
	second.Reasons = []string{"Phone call detected recently - possible social engineering"}
	require.NoError(t, s.AppendBatch(ctx, []*Record{first, second}))
	require.NoError(t, s.AppendBatch(ctx, []*Record{first}), "duplicate ids are ignored")

	got, err := s.ListRecent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "txn_2", got[0].ID)
	assert.Equal(t, second.Reasons, got[0].Reasons)
	assert.Equal(t, first.Adjustments, got[1].Adjustments)
	assert.WithinDuration(t, epoch, got[1].CreatedAt, time.Millisecond)

	none, err := s.ListRecent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresStore_CountsAndSummaries(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	ctx := context.Background()
	s := NewPostgresStore(db)

	a := record("a", "u1", DecisionSafe, epoch)
	b := record("b", "u1", DecisionCaution, epoch.Add(time.Hour))
	b.Amount = 2500
	b.Merchant = "Zara"
	b.TimeHour = 20
	blocked := record("d", "u1", DecisionBlock, epoch.Add(90*time.Minute))
	blocked.Amount = 75000
	blocked.Merchant = "kyc update services"
	require.NoError(t, s.AppendBatch(ctx, []*Record{a, b, blocked}))

	c, err := s.CountDecisions(ctx, epoch, epoch.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, DecisionCounts{Total: 3, Safe: 1, Caution: 1, Blocked: 1}, c)

	sums, err := s.Summaries(ctx, epoch.Add(-time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, 2, sums[0].Count)
	assert.InDelta(t, 2000, sums[0].AvgAmount, 1e-9)
	assert.InDelta(t, 500, sums[0].StdAmount, 1e-9)
	assert.InDelta(t, 17, sums[0].AvgHour, 1e-9)
	assert.ElementsMatch(t, []string{"amazon", "zara"}, sums[0].TopMerchants)

	rng, err := s.ListRange(ctx, epoch, epoch.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rng, 1)
	assert.Equal(t, "a", rng[0].ID)
}
