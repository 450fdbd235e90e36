package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signStaffToken(t *testing.T, secret, role string, ttl time.Duration) string {
	t.Helper()
	claims := StaffClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "front-desk-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func serveStaff(mw func(http.Handler) http.Handler, token string) (*httptest.ResponseRecorder, *StaffClaims) {
	var seen *StaffClaims
	req := httptest.NewRequest(http.MethodGet, "/staff/tasks", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := StaffClaimsFromContext(r.Context()); ok {
			seen = &claims
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, seen
}

func TestStaffJWT(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		roles  []string
		token  func(t *testing.T) string
		want   int
	}{
		{"no secret configured", "", nil, func(t *testing.T) string { return signStaffToken(t, "s3cret", "staff", time.Minute) }, http.StatusUnauthorized},
		{"missing header", "s3cret", nil, func(*testing.T) string { return "" }, http.StatusUnauthorized},
		{"wrong signature", "s3cret", nil, func(t *testing.T) string { return signStaffToken(t, "other", "staff", time.Minute) }, http.StatusUnauthorized},
		{"expired", "s3cret", nil, func(t *testing.T) string { return signStaffToken(t, "s3cret", "staff", -time.Minute) }, http.StatusUnauthorized},
		{"role not allowed", "s3cret", []string{"admin"}, func(t *testing.T) string { return signStaffToken(t, "s3cret", "staff", time.Minute) }, http.StatusForbidden},
		{"valid any role", "s3cret", nil, func(t *testing.T) string { return signStaffToken(t, "s3cret", "staff", time.Minute) }, http.StatusOK},
		{"valid listed role", "s3cret", []string{"staff", "admin"}, func(t *testing.T) string { return signStaffToken(t, "s3cret", "admin", time.Minute) }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, claims := serveStaff(StaffJWT(tt.secret, tt.roles...), tt.token(t))
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				require.NotNil(t, claims)
				assert.Equal(t, "front-desk-1", claims.Subject)
			} else {
				assert.Nil(t, claims)
			}
		})
	}
}

func TestStaffJWTRejectsTokenWithoutExpiry(t *testing.T) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, StaffClaims{Role: "staff"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)

	rec, _ := serveStaff(StaffJWT("s3cret"), signed)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
