package report

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the manual sweep endpoint.
type Handler struct {
	reconciler *Reconciler
}

// NewHandler creates a new report handler.
func NewHandler(reconciler *Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// RegisterAdminRoutes sets up admin-only report routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/reports/sweep", h.Sweep)
}

// Sweep handles POST /v1/admin/reports/sweep, the manual equivalent of the
// periodic status poll.
func (h *Handler) Sweep(c *gin.Context) {
	checked, settled, err := h.reconciler.Sweep(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checked": checked,
		"settled": settled,
		"message": "status sweep completed",
	})
}
