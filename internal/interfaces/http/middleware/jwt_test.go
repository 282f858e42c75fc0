package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/infrastructure/config"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestTokenService() *auth.TokenService {
	return auth.NewTokenService(config.JWTConfig{
		Secret:     "test-secret-key-at-least-32-chars",
		Issuer:     "test-issuer",
		Expiration: 15 * time.Minute,
	})
}

func issueToken(t *testing.T, svc *auth.TokenService, operator string, scopes ...string) *auth.IssuedToken {
	t.Helper()
	issued, err := svc.Issue(operator, scopes)
	require.NoError(t, err)
	return issued
}

func serveWithToken(router *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set(AuthHeaderKey, BearerPrefix+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *dto.ErrorInfo {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp.Error
}

func TestJWTAuthMiddleware_ValidToken(t *testing.T) {
	svc := newTestTokenService()
	issued := issueToken(t, svc, "ops", auth.ScopeSyncRead)

	router := gin.New()
	router.Use(JWTAuthMiddleware(svc))
	router.GET("/test", func(c *gin.Context) {
		claims := GetJWTClaims(c)
		require.NotNil(t, claims)
		assert.Equal(t, "ops", claims.Operator())
		assert.Equal(t, "ops", GetJWTOperator(c))
		assert.Equal(t, []string{auth.ScopeSyncRead}, claims.Scopes)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rec := serveWithToken(router, http.MethodGet, "/test", issued.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTAuthMiddleware_MissingHeader(t *testing.T) {
	router := gin.New()
	router.Use(JWTAuthMiddleware(newTestTokenService()))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := serveWithToken(router, http.MethodGet, "/test", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, dto.ErrCodeTokenInvalid, decodeError(t, rec).Code)
}

func TestJWTAuthMiddleware_MalformedHeader(t *testing.T) {
	router := gin.New()
	router.Use(JWTAuthMiddleware(newTestTokenService()))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(AuthHeaderKey, "Basic abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTAuthMiddleware_InvalidToken(t *testing.T) {
	router := gin.New()
	router.Use(JWTAuthMiddleware(newTestTokenService()))
	router.GET("/test", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := serveWithToken(router, http.MethodGet, "/test", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, dto.ErrCodeTokenInvalid, decodeError(t, rec).Code)
}

func TestJWTAuthMiddleware_SkipPaths(t *testing.T) {
	router := gin.New()
	router.Use(JWTAuthMiddlewareWithConfig(JWTMiddlewareConfig{
		Validator: newTestTokenService(),
		SkipPaths: []string{"/api/v1/system/ping"},
	}))
	router.GET("/api/v1/system/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/api/v1/system/pingx", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := serveWithToken(router, http.MethodGet, "/api/v1/system/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serveWithToken(router, http.MethodGet, "/api/v1/system/pingx", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func revokingRouter(svc *auth.TokenService, blacklist auth.TokenBlacklist) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuthMiddlewareWithConfig(JWTMiddlewareConfig{Validator: svc, TokenBlacklist: blacklist}))
	router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, GetJWTOperator(c)) })
	return router
}

func TestJWTAuthMiddleware_RevokedToken(t *testing.T) {
	svc := newTestTokenService()
	issued := issueToken(t, svc, "ops", auth.ScopeAdmin)
	other := issueToken(t, svc, "ops", auth.ScopeAdmin)
	blacklist := auth.NewInMemoryTokenBlacklist()
	require.NoError(t, blacklist.Revoke(context.Background(), issued.ID, time.Hour))
	router := revokingRouter(svc, blacklist)

	rec := serveWithToken(router, http.MethodGet, "/test", issued.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token has been revoked", decodeError(t, rec).Message)

	rec = serveWithToken(router, http.MethodGet, "/test", other.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", rec.Body.String())
}

func TestJWTAuthMiddleware_RevokedOperator(t *testing.T) {
	svc := newTestTokenService()
	issued := issueToken(t, svc, "ops", auth.ScopeAdmin)
	blacklist := auth.NewInMemoryTokenBlacklist()
	require.NoError(t, blacklist.RevokeOperator(context.Background(), "ops", time.Hour))

	rec := serveWithToken(revokingRouter(svc, blacklist), http.MethodGet, "/test", issued.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthFailure(t *testing.T) {
	tests := []struct {
		err     error
		code    string
		message string
	}{
		{auth.ErrExpiredToken, dto.ErrCodeTokenExpired, "Token has expired"},
		{auth.ErrTokenNotYetValid, dto.ErrCodeTokenInvalid, "Token is not yet valid"},
		{auth.ErrMissingSubject, dto.ErrCodeTokenInvalid, "Invalid token"},
		{context.Canceled, dto.ErrCodeUnauthorized, "Authentication required"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			code, message := authFailure(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.message, message)
		})
	}
}
