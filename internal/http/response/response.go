package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gonasi/gonasi-backend/internal/platform/apierr"
)

type APIError struct {
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

func RespondErrorDetails(c *gin.Context, status int, code string, err error, details interface{}) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code, Details: details}})
}

// statusCoder is implemented by typed service errors that know their HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// RespondServiceError picks the status from apierr.Error or a typed service error.
// Internal errors are rendered without their cause.
func RespondServiceError(c *gin.Context, fallbackCode string, err error) {
	var ae *apierr.Error
	if errors.As(err, &ae) && ae.Status != 0 {
		code := ae.Code
		if code == "" {
			code = fallbackCode
		}
		if ae.Status >= http.StatusInternalServerError {
			RespondError(c, ae.Status, code, errors.New("internal error"))
			return
		}
		RespondError(c, ae.Status, code, err)
		return
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		RespondError(c, sc.HTTPStatus(), fallbackCode, err)
		return
	}
	RespondError(c, http.StatusInternalServerError, fallbackCode, errors.New("internal error"))
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
