package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"dockwave-backend/internal/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErr(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		kind       string
		entity     string
		retryAfter string
	}{
		{"invalid", errs.Invalid("bad"), http.StatusBadRequest, "INVALID_ARGUMENT", "", ""},
		{"not found", errs.NotFound("shift:x"), http.StatusNotFound, "NOT_FOUND", "shift:x", ""},
		{"conflict", errs.Conflict("taken", "slot:1"), http.StatusConflict, "CONFLICT", "slot:1", ""},
		{"wrapped conflict", fmt.Errorf("saving: %w", errs.Conflict("taken", "slot:2")), http.StatusConflict, "CONFLICT", "slot:2", ""},
		{"precondition", errs.PreconditionFailed("archived"), http.StatusUnprocessableEntity, "PRECONDITION_FAILED", "", ""},
		{"timeout", errs.New(errs.KindPersistenceTimeout, "slow"), http.StatusServiceUnavailable, "PERSISTENCE_TIMEOUT", "", "1"},
		{"internal", errors.New("db exploded"), http.StatusInternalServerError, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondErr(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			if tt.kind != "" {
				assert.Equal(t, tt.kind, body["kind"])
			} else {
				assert.NotContains(t, body["error"], "exploded", "internal details stay in the log")
			}
			if tt.entity != "" {
				assert.Equal(t, tt.entity, body["entity"])
			}
		})
	}
}
