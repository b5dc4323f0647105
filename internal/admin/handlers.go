package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/auth"
	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/state"
	"github.com/mbd888/sentinel/internal/validation"
)

// Service abstracts the owner-gated operations for admin handlers.
// Authorization is enforced by the service, not the transport.
type Service interface {
	FreezeAccount(ctx context.Context, caller, account state.Principal) error
	UnfreezeAccount(ctx context.Context, caller, account state.Principal) error
	BlacklistAddress(ctx context.Context, caller, address state.Principal) error
	WhitelistAddress(ctx context.Context, caller, address state.Principal) error
	ToggleFraudDetection(ctx context.Context, caller state.Principal) (bool, error)
	AdvanceDayCounter(ctx context.Context, caller state.Principal) (uint64, error)
	UpdateMaxTransactionAmount(ctx context.Context, caller state.Principal, amount uint64) error
	UpdateDailyLimit(ctx context.Context, caller state.Principal, limit uint64) error
	GetContractSettings(ctx context.Context) (state.Settings, error)
}

// LimitRequest is the body of the limit update endpoints.
type LimitRequest struct {
	Amount *uint64 `json:"amount"`
}

// Handler provides admin HTTP endpoints.
type Handler struct {
	service Service
}

// NewHandler creates a new admin handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) settings routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings", h.getSettings)
}

// RegisterProtectedRoutes sets up admin routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/admin/accounts/:address/freeze", h.registryOp(h.service.FreezeAccount, "frozen", true))
	r.POST("/admin/accounts/:address/unfreeze", h.registryOp(h.service.UnfreezeAccount, "frozen", false))
	r.POST("/admin/accounts/:address/blacklist", h.registryOp(h.service.BlacklistAddress, "blacklisted", true))
	r.POST("/admin/accounts/:address/whitelist", h.registryOp(h.service.WhitelistAddress, "blacklisted", false))
	r.POST("/admin/fraud-detection/toggle", h.toggleFraudDetection)
	r.POST("/admin/day/advance", h.advanceDay)
	r.PUT("/admin/limits/max-transaction", h.updateLimit(h.service.UpdateMaxTransactionAmount, "maxTransactionAmount"))
	r.PUT("/admin/limits/daily", h.updateLimit(h.service.UpdateDailyLimit, "dailyLimit"))
}

// getSettings returns the contract settings.
func (h *Handler) getSettings(c *gin.Context) {
	s, err := h.service.GetContractSettings(c.Request.Context())
	if err != nil {
		codes.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": s})
}

// registryOp adapts a freeze/blacklist style operation to a handler that
// reports the resulting membership under field.
func (h *Handler) registryOp(
	op func(ctx context.Context, caller, account state.Principal) error,
	field string,
	value bool,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := validation.ParsePrincipal(c.Param("address"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": err.Error()})
			return
		}
		caller, _ := auth.GetCaller(c)

		if err := op(c.Request.Context(), caller, account); err != nil {
			codes.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "address": account, field: value})
	}
}

// toggleFraudDetection flips fraud detection and returns the new flag.
func (h *Handler) toggleFraudDetection(c *gin.Context) {
	caller, _ := auth.GetCaller(c)
	enabled, err := h.service.ToggleFraudDetection(c.Request.Context(), caller)
	if err != nil {
		codes.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fraudDetectionEnabled": enabled})
}

// advanceDay moves the logical day forward by one.
func (h *Handler) advanceDay(c *gin.Context) {
	caller, _ := auth.GetCaller(c)
	day, err := h.service.AdvanceDayCounter(c.Request.Context(), caller)
	if err != nil {
		codes.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currentDay": day})
}

func (h *Handler) updateLimit(
	op func(ctx context.Context, caller state.Principal, amount uint64) error,
	field string,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LimitRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Amount == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Request body must be {\"amount\": <uint64>}",
			})
			return
		}
		caller, _ := auth.GetCaller(c)

		if err := op(c.Request.Context(), caller, *req.Amount); err != nil {
			codes.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, field: *req.Amount})
	}
}
