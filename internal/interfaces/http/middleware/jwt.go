package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
)

// Gin context keys set for authenticated operators
const (
	JWTClaimsKey   = "jwt_claims"
	JWTOperatorKey = "jwt_operator"
)

// Authorization header format
const (
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	Validate(tokenString string) (*auth.Claims, error)
}

// JWTMiddlewareConfig configures operator authentication
type JWTMiddlewareConfig struct {
	Validator TokenValidator
	// TokenBlacklist, when set, rejects revoked tokens and operators
	TokenBlacklist auth.TokenBlacklist
	// SkipPaths are served without a token, matched exactly
	SkipPaths []string
	Logger    *zap.Logger
}

// JWTAuthMiddleware authenticates every request with validator
func JWTAuthMiddleware(validator TokenValidator) gin.HandlerFunc {
	return JWTAuthMiddlewareWithConfig(JWTMiddlewareConfig{Validator: validator})
}

// JWTAuthMiddlewareWithConfig rejects requests without a valid, unrevoked
// bearer token with 401. Authenticated requests carry the claims in the gin
// context and the operator in the request logger context.
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	public := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		public[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := public[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		claims, err := authenticate(c, cfg)
		if err != nil {
			code, message := authFailure(err)
			log.Warn("Operator authentication failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponseWithRequestID(code, message, getRequestIDFromContext(c)))
			return
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(JWTOperatorKey, claims.Operator())
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.Operator()))
		log.Debug("Operator authenticated",
			zap.String("operator", claims.Operator()),
			zap.Strings("scopes", claims.Scopes),
		)
		c.Next()
	}
}

func authenticate(c *gin.Context, cfg JWTMiddlewareConfig) (*auth.Claims, error) {
	header := c.GetHeader(AuthHeaderKey)
	token, found := strings.CutPrefix(header, BearerPrefix)
	if !found || token == "" {
		return nil, auth.ErrInvalidToken
	}
	claims, err := cfg.Validator.Validate(token)
	if err != nil {
		return nil, err
	}
	if cfg.TokenBlacklist != nil && revoked(c.Request.Context(), cfg.TokenBlacklist, claims, cfg.Logger) {
		return nil, auth.ErrTokenRevoked
	}
	return claims, nil
}

// revoked checks the token id and the operator. A failing lookup counts as
// not revoked so a Redis outage does not lock every operator out.
func revoked(ctx context.Context, blacklist auth.TokenBlacklist, claims *auth.Claims, log *zap.Logger) bool {
	if log == nil {
		log = zap.NewNop()
	}
	if claims.ID != "" {
		hit, err := blacklist.IsRevoked(ctx, claims.ID)
		if err != nil {
			log.Error("Token blacklist lookup failed", zap.String("jti", claims.ID), zap.Error(err))
		} else if hit {
			return true
		}
	}
	hit, err := blacklist.IsOperatorRevoked(ctx, claims.Operator(), claims.GetIssuedAtTime())
	if err != nil {
		log.Error("Operator revocation lookup failed", zap.String("operator", claims.Operator()), zap.Error(err))
		return false
	}
	return hit
}

func authFailure(err error) (code, message string) {
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		return dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenNotYetValid):
		return dto.ErrCodeTokenInvalid, "Token is not yet valid"
	case errors.Is(err, auth.ErrTokenRevoked):
		return dto.ErrCodeTokenInvalid, "Token has been revoked"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims), errors.Is(err, auth.ErrMissingSubject):
		return dto.ErrCodeTokenInvalid, "Invalid token"
	default:
		return dto.ErrCodeUnauthorized, "Authentication required"
	}
}

// GetJWTClaims returns the authenticated operator's claims, or nil
func GetJWTClaims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(JWTClaimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

// GetJWTOperator returns the authenticated operator, or ""
func GetJWTOperator(c *gin.Context) string {
	return c.GetString(JWTOperatorKey)
}
