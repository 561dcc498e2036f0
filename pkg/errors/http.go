package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Ordered so the most specific taxonomy entry wins when an error matches several.
var errorStatusCodes = []struct {
	err    error
	status int
}{
	{ErrSessionActive, http.StatusConflict},
	{ErrNotActive, http.StatusConflict},
	{ErrDevice, http.StatusServiceUnavailable},
	{ErrConfiguration, http.StatusServiceUnavailable},
	{ErrUpload, http.StatusBadGateway},
	{ErrService, http.StatusBadGateway},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrPersistence, http.StatusInternalServerError},
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrFailedPrecondition, http.StatusPreconditionFailed},
	{ErrAborted, http.StatusConflict},
	{ErrUnavailable, http.StatusServiceUnavailable},
	{ErrInternalError, http.StatusInternalServerError},
}

// WriteError writes a standardized error response to the HTTP response writer
func WriteError(w http.ResponseWriter, err error) {
	var statusCode int
	var response map[string]interface{}

	var serr *Error
	if err == nil {
		statusCode = http.StatusInternalServerError
		response = map[string]interface{}{
			"error": "Unknown error",
		}
	} else if errors.As(err, &serr) {
		statusCode = HTTPStatusFromError(err)
		response = serr.AsJSON()
		response["error"] = UserMessage(err)
	} else {
		statusCode = HTTPStatusFromError(err)
		response = map[string]interface{}{
			"error": err.Error(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(response)
}

// HTTPStatusFromError determines the appropriate HTTP status code for an error
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusInternalServerError
	}
	for _, entry := range errorStatusCodes {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}
	return http.StatusInternalServerError
}
