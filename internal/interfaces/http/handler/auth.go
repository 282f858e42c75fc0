package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/infrastructure/logger"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
	"github.com/storefront/marketsync/internal/interfaces/http/middleware"
)

// TokenIssuer signs operator tokens
type TokenIssuer interface {
	Issue(operator string, scopes []string) (*auth.IssuedToken, error)
	Expiration() time.Duration
}

// AuthHandler handles operator token endpoints
type AuthHandler struct {
	BaseHandler
	tokens    TokenIssuer
	blacklist auth.TokenBlacklist
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(tokens TokenIssuer, blacklist auth.TokenBlacklist) *AuthHandler {
	return &AuthHandler{tokens: tokens, blacklist: blacklist}
}

// IssueTokenRequest is the HTTP body of a token request
type IssueTokenRequest struct {
	Operator string   `json:"operator" binding:"required,min=1,max=100"`
	Scopes   []string `json:"scopes" binding:"required,min=1,dive,oneof=sync:read sync:write orders:write admin"`
}

// CurrentTokenResponse describes the token of the caller
type CurrentTokenResponse struct {
	Operator  string    `json:"operator"`
	Scopes    []string  `json:"scopes"`
	TokenID   string    `json:"jti"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresIn int64     `json:"expires_in_seconds"`
}

// IssueToken signs a token for an operator.
// POST /auth/tokens
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindingError(c, err)
		return
	}

	token, err := h.tokens.Issue(req.Operator, req.Scopes)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Info("Operator token issued",
		zap.String("issued_by", getOperator(c)),
		zap.String("operator", req.Operator),
		zap.Strings("scopes", req.Scopes),
		zap.String("jti", token.ID),
	)
	h.Created(c, token)
}

// Me describes the token used for the request.
// GET /auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetJWTClaims(c)
	if claims == nil {
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Authentication required")
		return
	}
	h.Success(c, CurrentTokenResponse{
		Operator:  claims.Operator(),
		Scopes:    claims.Scopes,
		TokenID:   claims.ID,
		IssuedAt:  claims.GetIssuedAtTime(),
		ExpiresIn: int64(claims.GetRemainingTTL() / time.Second),
	})
}

// RevokeCurrent revokes the token used for the request.
// DELETE /auth/tokens/current
func (h *AuthHandler) RevokeCurrent(c *gin.Context) {
	claims := middleware.GetJWTClaims(c)
	if claims == nil || claims.ID == "" {
		h.BadRequest(c, "Token has no identifier to revoke")
		return
	}
	if err := h.blacklist.Revoke(c.Request.Context(), claims.ID, claims.GetRemainingTTL()); err != nil {
		h.HandleError(c, err)
		return
	}
	h.NoContent(c)
}

// RevokeOperator revokes every token issued to an operator so far.
// POST /auth/operators/:operator/revoke
func (h *AuthHandler) RevokeOperator(c *gin.Context) {
	operator := c.Param("operator")
	if operator == "" {
		h.BadRequest(c, "operator is required")
		return
	}
	if err := h.blacklist.RevokeOperator(c.Request.Context(), operator, h.tokens.Expiration()); err != nil {
		h.HandleError(c, err)
		return
	}

	logger.GetGinLogger(c).Warn("Operator tokens revoked",
		zap.String("revoked_by", getOperator(c)),
		zap.String("operator", operator),
	)
	h.NoContent(c)
}
