package payment

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/auth"
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/state"
	"github.com/mbd888/sentinel/internal/validation"
)

// Service executes payments.
type Service interface {
	SecurePayment(ctx context.Context, caller, recipient state.Principal, amount uint64) (Receipt, error)
}

// Request is the body of POST /v1/payments.
type Request struct {
	Recipient string  `json:"recipient"`
	Amount    *uint64 `json:"amount"`
}

// Handler provides the payment endpoint.
type Handler struct {
	service Service
}

// NewHandler creates a new payment handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up caller-required payment routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.SecurePayment)
}

// SecurePayment handles POST /v1/payments
func (h *Handler) SecurePayment(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("recipient", req.Recipient),
		validation.ValidAddress("recipient", req.Recipient),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}
	recipient, _ := validation.ParsePrincipal(req.Recipient)
	caller, _ := auth.GetCaller(c)

	receipt, err := h.service.SecurePayment(c.Request.Context(), caller, recipient, *req.Amount)
	if err != nil {
		codes.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": receipt})
}
