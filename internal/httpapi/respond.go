package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rvph10/old-saas-sub000/internal/auth"
)

func nowUnix() int64 { return time.Now().Unix() }

// errorBody is the wire shape of every error response.
type errorBody struct {
	Code    auth.Code              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

var statusByCode = map[auth.Code]int{
	auth.CodeInvalidCredentials:   http.StatusUnauthorized,
	auth.CodeAccountLocked:        http.StatusLocked,
	auth.CodeEmailNotVerified:     http.StatusForbidden,
	auth.CodeSessionLimitExceeded: http.StatusConflict,
	auth.CodeSessionExpired:       http.StatusUnauthorized,
	auth.CodeInvalidRefreshToken:  http.StatusUnauthorized,
	auth.CodeSecurityBreach:       http.StatusUnauthorized,
	auth.CodeCsrfTokenMissing:     http.StatusForbidden,
	auth.CodeCsrfTokenInvalid:     http.StatusForbidden,
	auth.CodeInvalidDuration:      http.StatusBadRequest,
	auth.CodeValidationFailed:     http.StatusBadRequest,
	auth.CodeAlreadyExists:        http.StatusConflict,
	auth.CodeTwoFactorRequired:    http.StatusUnauthorized,
	auth.CodeTwoFactorInvalid:     http.StatusUnauthorized,
	auth.CodeRateLimited:          http.StatusTooManyRequests,
	auth.CodeInternal:             http.StatusInternalServerError,
}

// fail writes the error response. Details are stripped in production;
// internal causes never reach the client.
func (s *Server) fail(c *gin.Context, err error) {
	body := errorBody{
		Code:    auth.CodeInternal,
		Message: "Internal error",
	}

	var authErr *auth.Error
	if errors.As(err, &authErr) {
		body.Code = authErr.Code
		body.Message = authErr.Message
		if !s.cfg.Production {
			body.Details = authErr.Details
		}
	}

	status, ok := statusByCode[body.Code]
	if !ok {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
		Code:    auth.CodeValidationFailed,
		Message: message,
	})
}
