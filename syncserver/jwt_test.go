package syncserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pocketsuite/localsync/internal/auth"
)

func TestGenerateAndValidateToken(t *testing.T) {
	auth := NewJWTAuth("test-secret")

	token, err := auth.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, "localsync", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTAuth("secret-a").GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	_, err = NewJWTAuth("secret-b").ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	auth := NewJWTAuth("test-secret")
	token, err := auth.GenerateToken("user-1", "device-1", -time.Minute)
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRejectsNonHMAC(t *testing.T) {
	// alg=none is the classic downgrade attempt.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaims{
		DeviceID: "device-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = NewJWTAuth("test-secret").ValidateToken(token)
	require.Error(t, err)
}

func TestValidateTokenRequiresIdentityClaims(t *testing.T) {
	secret := []byte("test-secret")

	missingSub := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		DeviceID: "device-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := missingSub.SignedString(secret)
	require.NoError(t, err)
	_, err = NewJWTAuth("test-secret").ValidateToken(token)
	require.Error(t, err)

	missingDid := jwt.NewWithClaims(jwt.SigningMethodHS256, &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err = missingDid.SignedString(secret)
	require.NoError(t, err)
	_, err = NewJWTAuth("test-secret").ValidateToken(token)
	require.Error(t, err)
}

func TestMiddlewareStoresIdentityInContext(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	token, err := jwtAuth.GenerateToken("user-1", "device-1", time.Hour)
	require.NoError(t, err)

	var gotUser, gotDevice string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.UserID(r.Context())
		gotDevice, _ = auth.DeviceID(r.Context())
	})

	r := httptest.NewRequest("GET", "/api/records", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	jwtAuth.Middleware(next).ServeHTTP(rr, r)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1", gotUser)
	assert.Equal(t, "device-1", gotDevice)
}

func TestMiddlewareRejectsMissingOrMalformedHeader(t *testing.T) {
	jwtAuth := NewJWTAuth("test-secret")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a valid token")
	})

	r := httptest.NewRequest("GET", "/api/records", nil)
	rr := httptest.NewRecorder()
	jwtAuth.Middleware(next).ServeHTTP(rr, r)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	r = httptest.NewRequest("GET", "/api/records", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rr = httptest.NewRecorder()
	jwtAuth.Middleware(next).ServeHTTP(rr, r)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
