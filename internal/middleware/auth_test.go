package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func protected(role string) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := GetUserFromContext(r)
		w.Write([]byte(claims.UserID))
	})
	if role == "" {
		return Auth(secret)(ok)
	}
	return Auth(secret)(RequireRole(role)(ok))
}

func request(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(secret, UserClaims{UserID: "u1", Email: "a@b.c", Role: RoleDriver}, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, UserClaims{UserID: "u1", Email: "a@b.c", Role: RoleDriver}, claims)

	_, err = ParseToken("other-secret", token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssueToken(secret, UserClaims{UserID: "u1", Role: RoleDriver}, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken(secret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuth(t *testing.T) {
	driverToken, err := IssueToken(secret, UserClaims{UserID: "drv-1", Role: RoleDriver}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		role   string
		req    *http.Request
		status int
	}{
		{"missing header", "", request(""), http.StatusUnauthorized},
		{"garbage token", "", request("nope"), http.StatusUnauthorized},
		{"valid token", "", request(driverToken), http.StatusOK},
		{"wrong role", RoleDispatcher, request(driverToken), http.StatusForbidden},
		{"right role", RoleDriver, request(driverToken), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			protected(tt.role).ServeHTTP(rec, tt.req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "drv-1", rec.Body.String())
			}
		})
	}

	noSecret := httptest.NewRecorder()
	Auth("")(http.NotFoundHandler()).ServeHTTP(noSecret, request(driverToken))
	assert.Equal(t, http.StatusInternalServerError, noSecret.Code)
}
