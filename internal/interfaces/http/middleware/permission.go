package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
)

// ScopeConfig holds configuration for scope middleware
type ScopeConfig struct {
	Logger *zap.Logger
	// OnDenied is called when the scope check fails (optional)
	OnDenied func(c *gin.Context, required []string)
}

// RequireScope creates middleware that requires a specific scope
func RequireScope(scope string) gin.HandlerFunc {
	return RequireAnyScopeWithConfig(ScopeConfig{}, scope)
}

// RequireScopeWithConfig creates scope middleware with custom config
func RequireScopeWithConfig(scope string, cfg ScopeConfig) gin.HandlerFunc {
	return RequireAnyScopeWithConfig(cfg, scope)
}

// RequireAnyScope creates middleware that requires at least one of scopes.
// The admin scope satisfies every check.
func RequireAnyScope(scopes ...string) gin.HandlerFunc {
	return RequireAnyScopeWithConfig(ScopeConfig{}, scopes...)
}

// RequireAnyScopeWithConfig creates middleware that requires any of scopes with custom config
func RequireAnyScopeWithConfig(cfg ScopeConfig, scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil {
			handleScopeDenied(c, cfg, scopes, "No authentication claims found")
			return
		}
		if !claims.HasAnyScope(scopes...) {
			handleScopeDenied(c, cfg, scopes, "Operator lacks required scope")
			return
		}

		if cfg.Logger != nil {
			cfg.Logger.Debug("Scope check passed",
				zap.String("operator", claims.Operator()),
				zap.Strings("required_any", scopes),
			)
		}
		c.Next()
	}
}

// RequireMethodScope requires readScope for safe methods and writeScope for
// everything else
func RequireMethodScope(readScope, writeScope string) gin.HandlerFunc {
	read := RequireScope(readScope)
	write := RequireScope(writeScope)
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			read(c)
		default:
			write(c)
		}
	}
}

// HasScope reports whether the authenticated operator holds scope
func HasScope(c *gin.Context, scope string) bool {
	claims := GetJWTClaims(c)
	return claims != nil && claims.HasScope(scope)
}

// CheckScopeFunc is a function type for custom authorization checks
type CheckScopeFunc func(claims *auth.Claims, c *gin.Context) bool

// RequireCustomScope creates middleware with a custom check function
func RequireCustomScope(checkFunc CheckScopeFunc) gin.HandlerFunc {
	cfg := ScopeConfig{}
	return func(c *gin.Context) {
		claims := GetJWTClaims(c)
		if claims == nil || !checkFunc(claims, c) {
			handleScopeDenied(c, cfg, []string{"custom"}, "Custom scope check failed")
			return
		}
		c.Next()
	}
}

func handleScopeDenied(c *gin.Context, cfg ScopeConfig, required []string, reason string) {
	if cfg.OnDenied != nil {
		cfg.OnDenied(c, required)
		c.Abort()
		return
	}

	if cfg.Logger != nil {
		operator := ""
		var held []string
		if claims := GetJWTClaims(c); claims != nil {
			operator = claims.Operator()
			held = claims.Scopes
		}
		cfg.Logger.Warn("Scope denied",
			zap.String("reason", reason),
			zap.String("operator", operator),
			zap.Strings("required_scopes", required),
			zap.Strings("operator_scopes", held),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		)
	}

	c.AbortWithStatusJSON(http.StatusForbidden, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeForbidden,
		"Access denied: insufficient scope",
		getRequestIDFromContext(c),
	))
}
