package baseline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(p *Provider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(p).RegisterRoutes(r.Group("/api"))
	return r
}

func TestHandler_GetStored(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(context.Background(), storedProfile("user_42")))
	r := setupRouter(newTestProvider(store, newTestClock()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/user/user_42/baseline", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user_42", body["user_id"])
	assert.Equal(t, 1800.0, body["avg_amount"])
	assert.Equal(t, 450.0, body["std_amount"])
	assert.Equal(t, 19.0, body["avg_time"])
	assert.Equal(t, 212.0, body["total_transactions"])
	assert.Equal(t, []any{"Swiggy", "uber"}, body["common_merchants"])
	assert.Equal(t, "2024-05-31T10:00:00Z", body["last_updated"])
}

func TestHandler_GetDefault(t *testing.T) {
	r := setupRouter(newTestProvider(NewMemoryStore(), newTestClock()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/user/nobody/baseline", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var p Profile
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, "nobody", p.UserID)
	assert.Equal(t, DefaultMerchants, p.CommonMerchants)
}

func TestHandler_RejectsOversizedID(t *testing.T) {
	r := setupRouter(newTestProvider(nil, newTestClock()))

	w := httptest.NewRecorder()
	path := "/api/user/" + strings.Repeat("a", 200) + "/baseline"
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
