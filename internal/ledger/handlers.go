package ledger

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/auth"
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/state"
	"github.com/mbd888/sentinel/internal/validation"
)

// Service is the ledger surface the handlers need.
type Service interface {
	Deposit(ctx context.Context, caller state.Principal, amount uint64) (uint64, error)
	GetBalance(ctx context.Context, user state.Principal) (uint64, error)
}

// DepositRequest is the body of POST /v1/deposits.
type DepositRequest struct {
	Amount *uint64 `json:"amount"`
}

// Handler provides HTTP endpoints for balances.
type Handler struct {
	service Service
}

// NewHandler creates a new ledger handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) ledger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:address/balance", h.GetBalance)
}

// RegisterProtectedRoutes sets up caller-required ledger routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/deposits", h.Deposit)
}

// Deposit handles POST /v1/deposits
func (h *Handler) Deposit(c *gin.Context) {
	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must be {\"amount\": <uint64>}",
		})
		return
	}

	caller, _ := auth.GetCaller(c)
	balance, err := h.service.Deposit(c.Request.Context(), caller, *req.Amount)
	if err != nil {
		codes.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"account": caller,
		"balance": balance,
	})
}

// GetBalance handles GET /v1/accounts/:address/balance
func (h *Handler) GetBalance(c *gin.Context) {
	user, err := validation.ParsePrincipal(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": err.Error()})
		return
	}

	balance, err := h.service.GetBalance(c.Request.Context(), user)
	if err != nil {
		codes.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"address": user, "balance": balance})
}
