package handlers

import (
	"net/http"

	"taskflow/internal/logger"
	"taskflow/internal/service"

	"go.uber.org/zap"
)

// handleBusinessError writes err as a JSON error. Errors that carry no business code
// become a generic 500 so internal text never reaches the client.
func handleBusinessError(w http.ResponseWriter, r *http.Request, err error) {
	businessErr, ok := service.AsBusinessError(err)
	if !ok {
		logger.Error("HTTP: unexpected error", err, zap.String("path", r.URL.Path))
		responseWithError(w, http.StatusInternalServerError, "INTERNAL", "internal server error")
		return
	}

	statusCode := mapBusinessErrorToHTTP(businessErr.Code)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("HTTP: service unavailable", businessErr.Err,
			zap.String("error_code", businessErr.Code),
			zap.Any("details", businessErr.Details))
	} else {
		logger.Warn("HTTP: business error",
			zap.String("error_code", businessErr.Code),
			zap.String("message", businessErr.Message),
			zap.Int("http_status", statusCode))
	}

	if businessErr.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	responseWithJSON(w, statusCode,
		toPayload("error", businessErr.Code),
		toPayload("message", businessErr.Message),
		toPayload("details", businessErr.Details),
	)
}

func mapBusinessErrorToHTTP(code string) int {
	switch code {
	case service.CodeInvalidArgument, service.CodeInvalidState:
		return http.StatusBadRequest
	case service.CodeForbidden:
		return http.StatusForbidden
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeConflict:
		return http.StatusConflict
	case service.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
