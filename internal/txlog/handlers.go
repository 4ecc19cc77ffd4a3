package txlog

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/guardianshield/internal/logging"
	"github.com/mbd888/guardianshield/internal/validation"
)

// Handler serves the transaction history and decision statistics.
type Handler struct {
	store Store
	now   func() time.Time
}

// NewHandler creates a new transaction log handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

// WithClock replaces the time source used for the stats day boundaries.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// RegisterRoutes sets up the transaction log routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/transactions", h.List)
	r.GET("/analytics/stats", h.Stats)
	r.GET("/analytics/dashboard", h.Dashboard)
}

// List handles GET /api/transactions?user_id=&limit=
func (h *Handler) List(c *gin.Context) {
	limit := DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			validation.Abort(c, http.StatusBadRequest, validation.ValidationErrors{
				{Field: "limit", Message: "must be positive"},
			})
			return
		}
		limit = min(n, MaxListLimit)
	}
	userID := validation.SanitizeString(c.Query("user_id"), validation.MaxIdentifierLength)

	recs, err := h.store.ListRecent(c.Request.Context(), userID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("transaction list failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list transactions",
		})
		return
	}
	if recs == nil {
		recs = []*Record{}
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": recs,
		"total":        len(recs),
	})
}

// StatsResponse counts decisions for today, yesterday and the last seven
// days, using UTC day boundaries.
type StatsResponse struct {
	Today     DecisionCounts `json:"today"`
	Yesterday DecisionCounts `json:"yesterday"`
	Week      DecisionCounts `json:"week"`
}

// Stats handles GET /api/analytics/stats
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	today := startOfDay(h.now())
	tomorrow := today.AddDate(0, 0, 1)

	var resp StatsResponse
	for _, q := range []struct {
		dst          *DecisionCounts
		since, until time.Time
	}{
		{&resp.Today, today, tomorrow},
		{&resp.Yesterday, today.AddDate(0, 0, -1), today},
		{&resp.Week, today.AddDate(0, 0, -7), tomorrow},
	} {
		counts, err := h.store.CountDecisions(ctx, q.since, q.until)
		if err != nil {
			logging.L(ctx).Error("decision stats failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to compute statistics",
			})
			return
		}
		*q.dst = counts
	}

	c.JSON(http.StatusOK, resp)
}

// Dashboard handles GET /api/analytics/dashboard
func (h *Handler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	now := h.now()
	since, until := DashboardWindow(now)

	recs, err := h.store.ListRange(ctx, since, until)
	if err != nil {
		logging.L(ctx).Error("dashboard query failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to build dashboard",
		})
		return
	}

	c.JSON(http.StatusOK, BuildDashboard(recs, now))
}
