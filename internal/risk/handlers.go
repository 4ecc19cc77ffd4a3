package risk

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/guardianshield/internal/features"
	"github.com/mbd888/guardianshield/internal/validation"
)

// Handler serves transaction evaluation.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new risk handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up the risk routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/predict", h.Predict)
}

// PredictRequest is the wire form of a transaction. Pointers distinguish a
// missing field from its zero value.
type PredictRequest struct {
	UserID        string   `json:"user_id" binding:"required"`
	Amount        *float64 `json:"amount" binding:"required,gte=0"`
	Merchant      string   `json:"merchant" binding:"required"`
	TimeHour      *int     `json:"time_hour" binding:"required,gte=0,lte=23"`
	PhoneActivity *bool    `json:"phone_activity" binding:"required"`
}

// Predict handles POST /api/predict
func (h *Handler) Predict(c *gin.Context) {
	var req PredictRequest
	if !validation.BindJSON(c, &req) {
		return
	}

	req.UserID = validation.SanitizeString(req.UserID, validation.MaxIdentifierLength+1)
	req.Merchant = validation.SanitizeString(req.Merchant, validation.MaxMerchantLength+1)
	if errs := validation.Validate(
		validation.Required("user_id", req.UserID),
		validation.MaxLength("user_id", req.UserID, validation.MaxIdentifierLength),
		validation.Required("merchant", req.Merchant),
		validation.MaxLength("merchant", req.Merchant, validation.MaxMerchantLength),
	); len(errs) > 0 {
		validation.Abort(c, http.StatusUnprocessableEntity, errs)
		return
	}

	tx := features.Transaction{
		UserID:        req.UserID,
		Amount:        *req.Amount,
		Merchant:      req.Merchant,
		Hour:          *req.TimeHour,
		PhoneActivity: *req.PhoneActivity,
	}
	c.JSON(http.StatusOK, h.engine.Evaluate(c.Request.Context(), tx))
}
