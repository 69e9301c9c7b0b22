package refund

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for refund queries and administration.
type Handler struct {
	service *Service
}

// NewHandler creates a new refund handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up refund query routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/refunds", h.List)
	r.GET("/refunds/stats", h.GetStats)
}

// RegisterAdminRoutes sets up admin-only refund routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/refunds/process", h.Process)
}

// List handles GET /v1/refunds?status=
func (h *Handler) List(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "X-User-ID header is required",
		})
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	intents, err := h.service.ListByUser(c.Request.Context(), userID, Status(c.Query("status")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"refunds": intents,
		"count":   len(intents),
	})
}

// GetStats handles GET /v1/refunds/stats
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// Process handles POST /v1/admin/refunds/process, the manual equivalent of
// the periodic sweep (cron entrypoint).
func (h *Handler) Process(c *gin.Context) {
	processed, cancelled, err := h.service.ProcessMature(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processed": processed,
		"cancelled": cancelled,
		"message":   "refund sweep completed",
	})
}
