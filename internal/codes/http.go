package codes

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/sentinel/internal/logging"
)

// Body is the JSON error envelope returned by the API.
type Body struct {
	Error   string `json:"error"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message"`
}

// BodyOf renders err as an API error body. Errors outside this package are
// reported as internal without leaking their text.
func BodyOf(err error) Body {
	var e *Error
	if !errors.As(err, &e) {
		return Body{Error: "internal_error", Message: "internal error"}
	}
	return Body{Error: e.Name, Code: e.Code, Message: e.Message}
}

// Respond aborts the request with the status and body for err.
func Respond(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status >= 500 {
		logging.L(c.Request.Context()).Error("request failed",
			"path", c.FullPath(),
			"error", err,
		)
	}
	c.AbortWithStatusJSON(status, BodyOf(err))
}
