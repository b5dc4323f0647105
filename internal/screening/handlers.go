package screening

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/codes"
	"github.com/mbd888/sentinel/internal/fraud"
	"github.com/mbd888/sentinel/internal/period"
	"github.com/mbd888/sentinel/internal/state"
	"github.com/mbd888/sentinel/internal/validation"
)

// Service answers read-only account risk queries.
type Service interface {
	IsAccountFrozen(ctx context.Context, account state.Principal) (bool, error)
	IsBlacklisted(ctx context.Context, address state.Principal) (bool, error)
	GetFraudScore(ctx context.Context, user state.Principal, amount uint64) (fraud.Assessment, error)
	GetDailyStats(ctx context.Context, user state.Principal) (period.Daily, error)
}

// Handler exposes per-account screening state. None of these endpoints
// require a caller.
type Handler struct {
	service Service
}

// NewHandler creates a new screening handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the account status routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:address/frozen", h.IsFrozen)
	r.GET("/accounts/:address/blacklisted", h.IsBlacklisted)
	r.GET("/accounts/:address/fraud-score", h.GetFraudScore)
	r.GET("/accounts/:address/daily-stats", h.GetDailyStats)
}

// IsFrozen handles GET /v1/accounts/:address/frozen
func (h *Handler) IsFrozen(c *gin.Context) {
	p, ok := principalParam(c)
	if !ok {
		return
	}
	frozen, err := h.service.IsAccountFrozen(c.Request.Context(), p)
	if err != nil {
		codes.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": p, "frozen": frozen})
}

// IsBlacklisted handles GET /v1/accounts/:address/blacklisted
func (h *Handler) IsBlacklisted(c *gin.Context) {
	p, ok := principalParam(c)
	if !ok {
		return
	}
	listed, err := h.service.IsBlacklisted(c.Request.Context(), p)
	if err != nil {
		codes.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": p, "blacklisted": listed})
}

// GetFraudScore handles GET /v1/accounts/:address/fraud-score?amount=N
func (h *Handler) GetFraudScore(c *gin.Context) {
	p, ok := principalParam(c)
	if !ok {
		return
	}
	amount, err := validation.ParseUint(c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "amount " + err.Error()})
		return
	}

	a, err := h.service.GetFraudScore(c.Request.Context(), p, amount)
	if err != nil {
		codes.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessment": a})
}

// GetDailyStats handles GET /v1/accounts/:address/daily-stats
func (h *Handler) GetDailyStats(c *gin.Context) {
	p, ok := principalParam(c)
	if !ok {
		return
	}
	stats, err := h.service.GetDailyStats(c.Request.Context(), p)
	if err != nil {
		codes.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

func principalParam(c *gin.Context) (state.Principal, bool) {
	p, err := validation.ParsePrincipal(c.Param("address"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": err.Error()})
		return "", false
	}
	return p, true
}
