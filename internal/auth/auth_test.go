package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enviora/carrier/internal/auth"
)

func TestVerifier_SignVerifyRoundTrip(t *testing.T) {
	v := auth.NewVerifier("test-secret")

	token, err := v.Sign("ops@enviora", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@enviora", claims.Subject)
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	signer := auth.NewVerifier("secret-a")
	verifier := auth.NewVerifier("secret-b")

	token, err := signer.Sign("ops", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.Error(t, err)
}

func TestVerifier_RejectsExpiredToken(t *testing.T) {
	v := auth.NewVerifier("test-secret")

	token, err := v.Sign("ops", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.Error(t, err)
}

func TestMiddleware_GatesRequests(t *testing.T) {
	v := auth.NewVerifier("test-secret")
	var gotSubject string
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = auth.Subject(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quotes", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/quotes", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := v.Sign("ops", time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/quotes", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "ops", gotSubject)
	})
}

func TestMiddleware_DisabledAdmitsEverything(t *testing.T) {
	v := auth.NewVerifier("")
	assert.False(t, v.Enabled())

	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quotes", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
