package account

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for account administration.
type Handler struct {
	service *Service
}

// NewHandler creates a new account handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterAdminRoutes sets up admin-only account routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/users", h.CreateUser)
	r.GET("/users/:id", h.GetUser)
	r.POST("/users/:id/credit", h.AdjustCredit)
}

// CreateUser handles POST /v1/admin/users
func (h *Handler) CreateUser(c *gin.Context) {
	var req struct {
		Username       string `json:"username" binding:"required"`
		Role           string `json:"role"`
		CepSMSUsername string `json:"cepsmsUsername"`
		Credit         int64  `json:"credit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Username is required",
		})
		return
	}

	user, err := h.service.Register(c.Request.Context(), req.Username, Role(req.Role), req.CepSMSUsername, req.Credit)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if err == ErrUserExists {
			status = http.StatusConflict
			code = "already_exists"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// GetUser handles GET /v1/admin/users/:id
func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == ErrUserNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No such user",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// AdjustCredit handles POST /v1/admin/users/:id/credit.
// Exactly one of "set" (replace) or "add" (increment) must be present.
func (h *Handler) AdjustCredit(c *gin.Context) {
	var req struct {
		Set *int64 `json:"set"`
		Add *int64 `json:"add"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Body must be JSON with set or add",
		})
		return
	}

	if (req.Set == nil) == (req.Add == nil) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Provide exactly one of set or add",
		})
		return
	}

	ctx := c.Request.Context()
	userID := c.Param("id")

	if req.Set != nil {
		if *req.Set < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "set must be non-negative",
			})
			return
		}
		if err := h.service.SetCredit(ctx, userID, *req.Set); err != nil {
			status := http.StatusInternalServerError
			code := "internal_error"
			if err == ErrUserNotFound {
				status = http.StatusNotFound
				code = "not_found"
			}
			c.JSON(status, gin.H{"error": code, "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"credit": *req.Set})
		return
	}

	balance, err := h.service.AddCredit(ctx, userID, *req.Add)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch err {
		case ErrUserNotFound:
			status = http.StatusNotFound
			code = "not_found"
		case ErrInvalidAmount:
			status = http.StatusBadRequest
			code = "invalid_request"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"credit": balance})
}
