package api

import (
	"net/http"

	"notification-engine/internal/common/errors"

	"github.com/gin-gonic/gin"
)

// statusFor maps engine error codes onto HTTP statuses.
func statusFor(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeValidationFailed, errors.ErrCodeInvalidRecipient,
		errors.ErrCodeTemplateRender, errors.ErrCodeMissingVariable:
		return http.StatusBadRequest
	case errors.ErrCodeSignatureInvalid:
		return http.StatusUnauthorized
	case errors.ErrCodeSystemTemplate:
		return http.StatusForbidden
	case errors.ErrCodeNotFound, errors.ErrCodeTemplateNotFound:
		return http.StatusNotFound
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	status := statusFor(code)

	body := gin.H{"error": err.Error()}
	if code != "" {
		body["code"] = string(code)
	}
	c.JSON(status, body)
}
