// Package auth resolves the calling principal of an HTTP request.
//
// Signature verification happens upstream: the fronting host authenticates
// the caller and forwards its address in HeaderCaller. This package only
// validates and normalizes that address.
package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/logging"
	"github.com/mbd888/sentinel/internal/state"
	"github.com/mbd888/sentinel/internal/validation"
)

const (
	// HeaderCaller carries the pre-authenticated caller address
	HeaderCaller = "X-Caller-Address"
	// ContextKeyCaller is the key for storing the caller principal in gin context
	ContextKeyCaller = "callerAddr"
)

// Middleware extracts the caller principal from HeaderCaller.
// A malformed address is rejected; a missing one leaves the request anonymous.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderCaller)
		if raw == "" {
			c.Next()
			return
		}

		caller, err := validation.ParsePrincipal(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_caller",
				"message": HeaderCaller + " " + err.Error(),
			})
			return
		}

		c.Set(ContextKeyCaller, caller)
		c.Request = c.Request.WithContext(logging.WithCaller(c.Request.Context(), string(caller)))
		c.Next()
	}
}

// RequireCaller rejects anonymous requests
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetCaller(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "Caller address required. Include '" + HeaderCaller + ": 0x...' header.",
			})
			return
		}
		c.Next()
	}
}

// GetCaller returns the caller principal from context (if present)
func GetCaller(c *gin.Context) (state.Principal, bool) {
	v, exists := c.Get(ContextKeyCaller)
	if !exists {
		return "", false
	}
	p, ok := v.(state.Principal)
	return p, ok
}
