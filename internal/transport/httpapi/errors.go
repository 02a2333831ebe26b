package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// ErrorResponse: тело ответа с ошибкой.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail описывает ошибку и её контекст для корреляции с аудитом.
type ErrorDetail struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	SessionID   string `json:"session_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Details     any    `json:"details,omitempty"`
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	c.JSON(status, ErrorResponse{Error: ErrorDetail{
		Code:        code,
		Message:     message,
		SessionID:   c.Param("id"),
		OperationID: domain.OperationIDFromContext(c.Request.Context()),
		Details:     details,
	}})
}

// respondError переводит доменную ошибку в HTTP-ответ.
func respondError(c *gin.Context, err error, details map[string]any) {
	status, code := classify(err)

	detail := ErrorDetail{
		Code:        code,
		Message:     err.Error(),
		SessionID:   c.Param("id"),
		OperationID: domain.OperationIDFromContext(c.Request.Context()),
	}

	var opErr *domain.OpError
	if errors.As(err, &opErr) {
		detail.Message = opErr.Err.Error()
		if opErr.SessionID != "" {
			detail.SessionID = opErr.SessionID
		}
		if opErr.OperationID != "" {
			detail.OperationID = opErr.OperationID
		}
	}

	if details == nil {
		details = map[string]any{}
	}
	var violations domain.ValidationErrors
	var single domain.ValidationError
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &violations):
		details["violations"] = violations
	case errors.As(err, &single):
		details["violations"] = domain.ValidationErrors{single}
	case errors.As(err, &conflict):
		details["reason"] = conflict.Reason
		if conflict.ItemID != "" {
			details["item_id"] = conflict.ItemID
		}
	}
	if status >= http.StatusInternalServerError && code == "internal" {
		// Внутренние детали не отдаются клиенту.
		detail.Message = "internal error"
	}
	if len(details) > 0 {
		detail.Details = details
	}

	c.JSON(status, ErrorResponse{Error: detail})
}

func classify(err error) (int, string) {
	switch {
	case domain.IsValidation(err):
		return http.StatusUnprocessableEntity, "validation_failed"
	case domain.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case domain.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrDraftClosed), errors.Is(err, domain.ErrIllegalTransition):
		return http.StatusConflict, "draft_closed"
	case domain.IsTransient(err):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, domain.ErrBackendFatal):
		return http.StatusBadGateway, "backend_error"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
