package dispatch

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilicc/kentsms-sub000/internal/account"
)

// Handler provides HTTP endpoints for sending SMS.
type Handler struct {
	service *Service
}

// NewHandler creates a new dispatch handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up send routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sms/send", h.Send)
	r.POST("/sms/send-bulk", h.SendBulk)
}

// Send handles POST /v1/sms/send
func (h *Handler) Send(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "X-User-ID header is required",
		})
		return
	}

	var req struct {
		Phone   string `json:"phone" binding:"required"`
		Message string `json:"message" binding:"required"`
		Sender  string `json:"sender"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "phone and message are required",
		})
		return
	}

	result, err := h.service.DispatchSingle(c.Request.Context(), userID, req.Phone, req.Message, req.Sender)
	if err != nil {
		writeDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SendBulk handles POST /v1/sms/send-bulk
func (h *Handler) SendBulk(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "X-User-ID header is required",
		})
		return
	}

	var req struct {
		Phones  []string `json:"phones" binding:"required"`
		Message string   `json:"message" binding:"required"`
		Sender  string   `json:"sender"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "phones and message are required",
		})
		return
	}
	if len(req.Phones) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "phones must not be empty",
		})
		return
	}

	result, err := h.service.DispatchBulk(c.Request.Context(), userID, req.Phones, req.Message, req.Sender)
	if err != nil {
		writeDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// writeDispatchError maps admission failures onto HTTP statuses.
func writeDispatchError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, ErrInsufficientCredit):
		status = http.StatusPaymentRequired
		code = "insufficient_credit"
	case errors.Is(err, ErrNoGatewayAccount):
		status = http.StatusUnprocessableEntity
		code = "no_gateway_account"
	case errors.Is(err, ErrNoValidRecipients):
		status = http.StatusBadRequest
		code = "no_valid_recipients"
	case errors.Is(err, account.ErrUserNotFound):
		status = http.StatusNotFound
		code = "user_not_found"
	}

	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
