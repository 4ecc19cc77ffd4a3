package baseline

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/guardianshield/internal/validation"
)

// Handler serves baseline lookups.
type Handler struct {
	provider *Provider
}

// NewHandler creates a new baseline handler.
func NewHandler(provider *Provider) *Handler {
	return &Handler{provider: provider}
}

// RegisterRoutes sets up the baseline routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/user/:user_id/baseline", h.Get)
}

// Get handles GET /api/user/:user_id/baseline
func (h *Handler) Get(c *gin.Context) {
	userID := validation.SanitizeString(c.Param("user_id"), validation.MaxIdentifierLength+1)
	if errs := validation.Validate(
		validation.Required("user_id", userID),
		validation.MaxLength("user_id", userID, validation.MaxIdentifierLength),
	); len(errs) > 0 {
		validation.Abort(c, http.StatusBadRequest, errs)
		return
	}

	c.JSON(http.StatusOK, h.provider.Get(c.Request.Context(), userID))
}
