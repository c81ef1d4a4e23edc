package api

import (
	"net/http"

	"notification-dispatch/internal/common/errors"
	"notification-dispatch/internal/notification/dispatch"

	"github.com/gin-gonic/gin"
)

var statusByCode = map[errors.ErrorCode]int{
	errors.ErrCodeValidationFailed:         http.StatusBadRequest,
	errors.ErrCodeNotificationNotFound:     http.StatusNotFound,
	errors.ErrCodeConfiguration:            http.StatusUnprocessableEntity,
	errors.ErrCodeInvalidStateTransition:   http.StatusConflict,
	errors.ErrCodeConcurrentModification:   http.StatusConflict,
	errors.ErrCodeTransport:                http.StatusBadGateway,
	errors.ErrCodeDatabaseConnectionFailed: http.StatusServiceUnavailable,
}

// statusFor maps a StandardError code to an HTTP status. Anything else is a 500.
func statusFor(err error) (int, string) {
	stdErr, ok := errors.AsStandardError(err)
	if !ok {
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
	if status, ok := statusByCode[stdErr.Code]; ok {
		return status, string(stdErr.Code)
	}
	return http.StatusInternalServerError, string(stdErr.Code)
}

func (s *Server) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", map[string]interface{}{
			"path":  c.FullPath(),
			"code":  code,
			"error": err.Error(),
		})
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

// respondResult writes a dispatch result. A transport failure still carries
// the persisted notification so callers can track it; it is reported as 502.
func (s *Server) respondResult(c *gin.Context, result *dispatch.Result, err error) {
	if err != nil && result == nil {
		s.respondError(c, err)
		return
	}

	status := http.StatusOK
	switch result.Outcome {
	case dispatch.OutcomeScheduled:
		status = http.StatusAccepted
	case dispatch.OutcomeSent:
		status = http.StatusCreated
	}
	if err != nil {
		status, _ = statusFor(err)
		c.JSON(status, gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(status, result)
}
