// Package validation provides input validation for the ledger API.
package validation

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/state"
)

// MaxRequestSize is the maximum request body size (64KB)
const MaxRequestSize = 64 << 10

var (
	ErrInvalidAddress = errors.New("must be a valid address (0x + 40 hex chars)")
	ErrInvalidNumber  = errors.New("must be an unsigned 64-bit integer")
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidAddress checks for a 0x-prefixed 20-byte hex address.
func IsValidAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}

// NormalizeAddress lower-cases an address so checksummed and plain
// spellings name the same principal.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ParsePrincipal validates and normalizes an address into a principal.
func ParsePrincipal(addr string) (state.Principal, error) {
	addr = strings.TrimSpace(addr)
	if !IsValidAddress(addr) {
		return "", ErrInvalidAddress
	}
	return state.Principal(NormalizeAddress(addr)), nil
}

// ParseUint parses a base-10 uint64 such as an amount or nonce.
func ParseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, ErrInvalidNumber
	}
	return v, nil
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAddress checks if a field is a valid address
func ValidAddress(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidAddress(strings.TrimSpace(value)) {
			return &ValidationError{Field: field, Message: ErrInvalidAddress.Error()}
		}
		return nil
	}
}

// ValidUint checks if a field parses as a uint64
func ValidUint(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, err := ParseUint(value); err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
		return nil
	}
}

// AddressParamMiddleware validates every address-valued URL parameter
// (address, sender, recipient) on the routes it wraps.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, name := range []string{"address", "sender", "recipient"} {
			addr := c.Param(name)
			if addr != "" && !IsValidAddress(addr) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"error":   "invalid_address",
					"message": name + " " + ErrInvalidAddress.Error(),
				})
				return
			}
		}
		c.Next()
	}
}
