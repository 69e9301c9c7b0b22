package ledger

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for system credit administration.
type Handler struct {
	service *Service
}

// NewHandler creates a new system credit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up admin-only system credit routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/system-credit", h.GetSystemCredit)
	r.POST("/system-credit", h.UpdateSystemCredit)
}

// GetSystemCredit handles GET /v1/admin/system-credit
func (h *Handler) GetSystemCredit(c *gin.Context) {
	balance, err := h.service.Balance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

// UpdateSystemCredit handles POST /v1/admin/system-credit.
// Exactly one of "value" (replace) or "add" (increment) must be present.
func (h *Handler) UpdateSystemCredit(c *gin.Context) {
	var req struct {
		Value *int64 `json:"value"`
		Add   *int64 `json:"add"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be JSON with value or add",
		})
		return
	}

	if (req.Value == nil) == (req.Add == nil) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Provide exactly one of value or add",
		})
		return
	}

	ctx := c.Request.Context()

	if req.Value != nil {
		if *req.Value < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "value must be non-negative",
			})
			return
		}
		if err := h.service.Set(ctx, *req.Value); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": *req.Value})
		return
	}

	balance, err := h.service.Credit(ctx, *req.Add)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if err == ErrInvalidAmount {
			status = http.StatusBadRequest
			code = "invalid_request"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"balance": balance})
}
