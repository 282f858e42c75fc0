package middleware

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
)

func setupRouterWithJWT(svc *auth.TokenService) *gin.Engine {
	router := gin.New()
	router.Use(JWTAuthMiddleware(svc))
	return router
}

func TestRequireScope(t *testing.T) {
	svc := newTestTokenService()
	router := setupRouterWithJWT(svc)
	router.POST("/sync", RequireScope(auth.ScopeSyncWrite), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	tests := []struct {
		name   string
		scopes []string
		want   int
	}{
		{"granted", []string{auth.ScopeSyncWrite}, http.StatusOK},
		{"admin", []string{auth.ScopeAdmin}, http.StatusOK},
		{"read only", []string{auth.ScopeSyncRead}, http.StatusForbidden},
		{"no scopes", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issued := issueToken(t, svc, "ops", tt.scopes...)
			rec := serveWithToken(router, http.MethodPost, "/sync", issued.Token)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, dto.ErrCodeForbidden, decodeError(t, rec).Code)
			}
		})
	}
}

func TestRequireScope_NoClaims(t *testing.T) {
	router := gin.New()
	router.GET("/sync", RequireScope(auth.ScopeSyncRead), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := serveWithToken(router, http.MethodGet, "/sync", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAnyScope(t *testing.T) {
	svc := newTestTokenService()
	router := setupRouterWithJWT(svc)
	router.GET("/x", RequireAnyScope(auth.ScopeSyncWrite, auth.ScopeOrdersWrite), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := serveWithToken(router, http.MethodGet, "/x", issueToken(t, svc, "ops", auth.ScopeOrdersWrite).Token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serveWithToken(router, http.MethodGet, "/x", issueToken(t, svc, "ops", auth.ScopeSyncRead).Token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireMethodScope(t *testing.T) {
	svc := newTestTokenService()
	router := setupRouterWithJWT(svc)
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }
	guard := RequireMethodScope(auth.ScopeSyncRead, auth.ScopeSyncWrite)
	router.GET("/connections", guard, handler)
	router.PUT("/connections", guard, handler)

	reader := issueToken(t, svc, "ops", auth.ScopeSyncRead).Token
	assert.Equal(t, http.StatusOK, serveWithToken(router, http.MethodGet, "/connections", reader).Code)
	assert.Equal(t, http.StatusForbidden, serveWithToken(router, http.MethodPut, "/connections", reader).Code)

	writer := issueToken(t, svc, "ops", auth.ScopeSyncWrite).Token
	assert.Equal(t, http.StatusOK, serveWithToken(router, http.MethodPut, "/connections", writer).Code)
}

func TestRequireScopeWithConfig_OnDenied(t *testing.T) {
	svc := newTestTokenService()
	var required []string
	cfg := ScopeConfig{
		Logger: zaptest.NewLogger(t),
		OnDenied: func(c *gin.Context, r []string) {
			required = r
			c.JSON(http.StatusUnauthorized, gin.H{})
		},
	}

	router := setupRouterWithJWT(svc)
	router.GET("/x", RequireScopeWithConfig(auth.ScopeAdmin, cfg), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	rec := serveWithToken(router, http.MethodGet, "/x", issueToken(t, svc, "ops", auth.ScopeSyncRead).Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, []string{auth.ScopeAdmin}, required)
}

func TestHasScope(t *testing.T) {
	svc := newTestTokenService()
	router := setupRouterWithJWT(svc)
	router.GET("/x", func(c *gin.Context) {
		if HasScope(c, auth.ScopeOrdersWrite) {
			c.String(http.StatusOK, "yes")
			return
		}
		c.String(http.StatusOK, "no")
	})

	rec := serveWithToken(router, http.MethodGet, "/x", issueToken(t, svc, "ops", auth.ScopeAdmin).Token)
	assert.Equal(t, "yes", rec.Body.String())
	rec = serveWithToken(router, http.MethodGet, "/x", issueToken(t, svc, "ops", auth.ScopeSyncRead).Token)
	assert.Equal(t, "no", rec.Body.String())
}

func TestRequireCustomScope(t *testing.T) {
	svc := newTestTokenService()
	router := setupRouterWithJWT(svc)
	onlyOps := RequireCustomScope(func(claims *auth.Claims, _ *gin.Context) bool {
		return claims.Operator() == "ops"
	})
	router.GET("/x", onlyOps, func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serveWithToken(router, http.MethodGet, "/x", issueToken(t, svc, "ops").Token).Code)
	assert.Equal(t, http.StatusForbidden, serveWithToken(router, http.MethodGet, "/x", issueToken(t, svc, "intruder").Token).Code)
}
