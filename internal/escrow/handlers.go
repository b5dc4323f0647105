package escrow

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/auth"
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/state"
	"github.com/mbd888/sentinel/internal/validation"
)

// Service is the escrow surface the handlers need.
type Service interface {
	CreateEscrow(ctx context.Context, caller, recipient state.Principal, amount, nonce uint64) (Details, error)
	ReleaseEscrow(ctx context.Context, caller state.Principal, key state.EscrowKey) (Details, error)
	GetEscrowDetails(ctx context.Context, key state.EscrowKey) (Details, error)
}

// CreateRequest is the body of POST /v1/escrows.
type CreateRequest struct {
	Recipient string  `json:"recipient"`
	Amount    *uint64 `json:"amount"`
	Nonce     *uint64 `json:"nonce"`
}

// Handler provides HTTP endpoints for escrow operations.
type Handler struct {
	service Service
}

// NewHandler creates a new escrow handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) escrow routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/escrows/:sender/:recipient/:nonce", h.GetEscrow)
}

// RegisterProtectedRoutes sets up caller-required escrow routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/escrows", h.CreateEscrow)
	r.POST("/escrows/:sender/:recipient/:nonce/release", h.ReleaseEscrow)
}

// CreateEscrow handles POST /v1/escrows
func (h *Handler) CreateEscrow(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Amount == nil || req.Nonce == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include recipient, amount, and nonce",
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

	escrow, err := h.service.CreateEscrow(c.Request.Context(), caller, recipient, *req.Amount, *req.Nonce)
	if err != nil {
		codes.Respond(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"escrow": escrow})
}

// GetEscrow handles GET /v1/escrows/:sender/:recipient/:nonce
func (h *Handler) GetEscrow(c *gin.Context) {
	key, ok := keyFromPath(c)
	if !ok {
		return
	}

	escrow, err := h.service.GetEscrowDetails(c.Request.Context(), key)
	if err != nil {
		codes.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"escrow": escrow})
}

// ReleaseEscrow handles POST /v1/escrows/:sender/:recipient/:nonce/release
func (h *Handler) ReleaseEscrow(c *gin.Context) {
	key, ok := keyFromPath(c)
	if !ok {
		return
	}
	caller, _ := auth.GetCaller(c)

	escrow, err := h.service.ReleaseEscrow(c.Request.Context(), caller, key)
	if err != nil {
		codes.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "escrow": escrow})
}

// keyFromPath parses the escrow key path parameters, writing a 400 on failure.
func keyFromPath(c *gin.Context) (state.EscrowKey, bool) {
	sender, err := validation.ParsePrincipal(c.Param("sender"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "sender " + err.Error()})
		return state.EscrowKey{}, false
	}
	recipient, err := validation.ParsePrincipal(c.Param("recipient"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "recipient " + err.Error()})
		return state.EscrowKey{}, false
	}
	nonce, err := validation.ParseUint(c.Param("nonce"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_nonce", "message": "nonce " + err.Error()})
		return state.EscrowKey{}, false
	}
	return state.EscrowKey{Sender: sender, Recipient: recipient, Nonce: nonce}, true
}
