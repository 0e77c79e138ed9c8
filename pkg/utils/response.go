package utils

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"dockwave-backend/internal/errs"
)

// RetryAfterSeconds is sent with 503 responses for persistence timeouts
const RetryAfterSeconds = "1"

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindInvalidArgument:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindPreconditionFailed:
		return http.StatusUnprocessableEntity
	case errs.KindPersistenceTimeout:
		return http.StatusServiceUnavailable
	case errs.KindInvalidTransition, errs.KindStaleEvent:
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// RespondErr sends the response for a service error: typed errors keep their kind and
// entity, anything else is logged and hidden behind a 500
func RespondErr(w http.ResponseWriter, err error) {
	var typed *errs.Error
	kind := errs.KindOf(err)
	if kind == "" {
		log.Printf("❌ Internal error: %v", err)
		RespondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	status := StatusFor(kind)
	if kind == errs.KindPersistenceTimeout {
		w.Header().Set("Retry-After", RetryAfterSeconds)
	}
	body := map[string]interface{}{
		"success": false,
		"kind":    kind,
		"error":   err.Error(),
	}
	if errors.As(err, &typed) {
		body["error"] = typed.Message
		if typed.Entity != "" {
			body["entity"] = typed.Entity
		}
	}
	RespondJSON(w, status, body)
}
