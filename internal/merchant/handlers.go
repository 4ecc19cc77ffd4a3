package merchant

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/guardianshield/internal/validation"
)

// Handler serves merchant insight lookups.
type Handler struct {
	classifier *Classifier
}

// NewHandler creates a new merchant handler.
func NewHandler(classifier *Classifier) *Handler {
	return &Handler{classifier: classifier}
}

// RegisterRoutes sets up the merchant routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:name", h.Get)
}

// Get handles GET /api/merchants/:name
func (h *Handler) Get(c *gin.Context) {
	name := validation.SanitizeString(c.Param("name"), validation.MaxMerchantLength+1)
	if errs := validation.Validate(
		validation.Required("name", name),
		validation.MaxLength("name", name, validation.MaxMerchantLength),
	); len(errs) > 0 {
		validation.Abort(c, http.StatusBadRequest, errs)
		return
	}

	c.JSON(http.StatusOK, h.classifier.Insight(name))
}
