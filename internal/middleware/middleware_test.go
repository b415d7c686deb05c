package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testIdP struct {
	key  *rsa.PrivateKey
	kid  string
	hits atomic.Int32
	down atomic.Bool
	jwks keyfunc.Keyfunc
}

func newTestIdP(t *testing.T, ttl time.Duration) *testIdP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	idp := &testIdP{key: key, kid: "kid-1"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idp.hits.Add(1)
		if idp.down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": idp.kid,
				"kty": "RSA",
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(srv.Close)

	idp.jwks, err = NewJWKS(t.Context(), srv.URL, ttl)
	require.NoError(t, err)
	return idp
}

func (p *testIdP) token(t *testing.T, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = p.kid
	s, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return s
}

func validClaims() jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   "user_1",
		Issuer:    "https://idp.example",
		Audience:  jwt.ClaimStrings{"portal"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := UserIDFromContext(r.Context())
		_, _ = w.Write([]byte(id))
	})
}

func serveAuth(h http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/rebates/profile", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth_ValidToken(t *testing.T) {
	idp := newTestIdP(t, time.Hour)
	h := Auth(idp.jwks.Keyfunc, "https://idp.example", "portal")(echoUser())

	rec := serveAuth(h, idp.token(t, validClaims()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user_1", rec.Body.String())
}

func TestAuth_Rejections(t *testing.T) {
	idp := newTestIdP(t, time.Hour)
	h := Auth(idp.jwks.Keyfunc, "https://idp.example", "portal")(echoUser())

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://evil.example"

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other"}

	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name   string
		bearer string
	}{
		{"missing header", ""},
		{"garbage", "not-a-jwt"},
		{"expired", idp.token(t, expired)},
		{"wrong issuer", idp.token(t, wrongIssuer)},
		{"wrong audience", idp.token(t, wrongAudience)},
		{"no subject", idp.token(t, noSubject)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serveAuth(h, tt.bearer)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestAuth_WrongSigningKey(t *testing.T) {
	idp := newTestIdP(t, time.Hour)
	h := Auth(idp.jwks.Keyfunc, "", "")(echoUser())

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	tok.Header["kid"] = idp.kid
	s, err := tok.SignedString(other)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serveAuth(h, s).Code)
}

func TestJWKS_CachesKeys(t *testing.T) {
	idp := newTestIdP(t, time.Hour)
	h := Auth(idp.jwks.Keyfunc, "", "")(echoUser())

	for range 3 {
		assert.Equal(t, http.StatusOK, serveAuth(h, idp.token(t, validClaims())).Code)
	}
	assert.Equal(t, int32(1), idp.hits.Load())

	// An unknown kid is rejected without hammering the endpoint.
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims())
	tok.Header["kid"] = "unknown"
	s, err := tok.SignedString(idp.key)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, serveAuth(h, s).Code)
	assert.Equal(t, int32(1), idp.hits.Load())
}

func TestJWKS_KeepsKeysWhenRefreshFails(t *testing.T) {
	idp := newTestIdP(t, 50*time.Millisecond)
	h := Auth(idp.jwks.Keyfunc, "", "")(echoUser())
	require.Equal(t, http.StatusOK, serveAuth(h, idp.token(t, validClaims())).Code)

	idp.down.Store(true)
	before := idp.hits.Load()
	require.Eventually(t, func() bool {
		return idp.hits.Load() >= before+2
	}, 2*time.Second, 10*time.Millisecond)

	rec := serveAuth(h, idp.token(t, validClaims()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user_1", rec.Body.String())
}

func TestJWKS_ProviderDownAtStartup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	k, err := NewJWKS(t.Context(), srv.URL, time.Hour)
	require.NoError(t, err)

	idp := newTestIdP(t, time.Hour)
	h := Auth(k.Keyfunc, "", "")(echoUser())
	assert.Equal(t, http.StatusUnauthorized, serveAuth(h, idp.token(t, validClaims())).Code)
}

func TestRecover(t *testing.T) {
	h := Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestLogging_PassesThrough(t *testing.T) {
	h := Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
