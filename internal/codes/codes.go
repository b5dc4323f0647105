// Package codes defines the numeric error space shared by every ledger
// operation. Codes are part of the public wire contract and must not change.
package codes

import (
	"errors"
	"net/http"
)

// Code is a numeric operation error code.
type Code uint32

const (
	Unauthorized          Code = 100
	InsufficientFunds     Code = 101
	PaymentFrozen         Code = 102 // reserved; frozen senders surface as FraudDetected
	FraudDetected         Code = 103
	InvalidAmount         Code = 104
	DailyLimitExceeded    Code = 105 // reserved; limit breaches surface as FraudDetected
	AddressBlacklisted    Code = 106 // reserved; blacklisted recipients surface as FraudDetected
	InvalidRecipient      Code = 107
	EscrowExists          Code = 108
	EscrowNotFound        Code = 109
	EscrowAlreadyReleased Code = 110
)

// Kind groups codes by the class of failure.
type Kind string

const (
	KindAuthorization      Kind = "authorization"
	KindInputValidation    Kind = "input_validation"
	KindStateConflict      Kind = "state_conflict"
	KindNotFound           Kind = "not_found"
	KindPolicyRejection    Kind = "policy_rejection"
	KindResourceExhaustion Kind = "resource_exhaustion"
	KindFatal              Kind = "fatal"
)

// Error is an expected, typed operation outcome.
type Error struct {
	Code    Code
	Kind    Kind
	Name    string // snake_case identifier used on the wire
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrUnauthorized          = &Error{Unauthorized, KindAuthorization, "unauthorized", "caller is not authorized for this operation"}
	ErrInsufficientFunds     = &Error{InsufficientFunds, KindResourceExhaustion, "insufficient_funds", "insufficient balance"}
	ErrPaymentFrozen         = &Error{PaymentFrozen, KindPolicyRejection, "payment_frozen", "account is frozen"}
	ErrFraudDetected         = &Error{FraudDetected, KindPolicyRejection, "fraud_detected", "transaction rejected by fraud screening"}
	ErrInvalidAmount         = &Error{InvalidAmount, KindInputValidation, "invalid_amount", "amount must be greater than zero"}
	ErrDailyLimitExceeded    = &Error{DailyLimitExceeded, KindPolicyRejection, "daily_limit_exceeded", "daily limit exceeded"}
	ErrAddressBlacklisted    = &Error{AddressBlacklisted, KindPolicyRejection, "address_blacklisted", "address is blacklisted"}
	ErrInvalidRecipient      = &Error{InvalidRecipient, KindInputValidation, "invalid_recipient", "sender and recipient must differ"}
	ErrEscrowExists          = &Error{EscrowExists, KindStateConflict, "escrow_exists", "escrow already exists for this key"}
	ErrEscrowNotFound        = &Error{EscrowNotFound, KindNotFound, "escrow_not_found", "escrow not found"}
	ErrEscrowAlreadyReleased = &Error{EscrowAlreadyReleased, KindStateConflict, "escrow_already_released", "escrow already released"}
)

// ErrOverflow signals unsigned arithmetic leaving the representable range.
// It is a configuration/economic-scale fault, not a caller mistake, and has
// no numeric code.
var ErrOverflow = &Error{Kind: KindFatal, Name: "arithmetic_overflow", Message: "arithmetic overflow"}

var byCode = map[Code]*Error{}

func init() {
	for _, e := range []*Error{
		ErrUnauthorized, ErrInsufficientFunds, ErrPaymentFrozen, ErrFraudDetected,
		ErrInvalidAmount, ErrDailyLimitExceeded, ErrAddressBlacklisted, ErrInvalidRecipient,
		ErrEscrowExists, ErrEscrowNotFound, ErrEscrowAlreadyReleased,
	} {
		byCode[e.Code] = e
	}
}

// Lookup returns the sentinel registered for a code.
func Lookup(c Code) (*Error, bool) {
	e, ok := byCode[c]
	return e, ok
}

// CodeOf extracts the numeric code from err. Fatal and foreign errors
// report false.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindFatal {
		return e.Code, true
	}
	return 0, false
}

// IsFatal reports whether err is an unrecoverable arithmetic fault.
func IsFatal(err error) bool {
	return errors.Is(err, ErrOverflow)
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindAuthorization:
		return http.StatusForbidden
	case KindInputValidation:
		return http.StatusBadRequest
	case KindStateConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindPolicyRejection:
		return http.StatusUnprocessableEntity
	case KindResourceExhaustion:
		return http.StatusPaymentRequired
	}
	return http.StatusInternalServerError
}
