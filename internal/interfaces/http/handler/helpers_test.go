package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/storefront/marketsync/internal/infrastructure/auth"
	"github.com/storefront/marketsync/internal/interfaces/http/dto"
	"github.com/storefront/marketsync/internal/interfaces/http/middleware"
)

// withOperator simulates the JWT middleware for an operator holding scopes
func withOperator(operator string, scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := &auth.Claims{Scopes: scopes}
		claims.Subject = operator
		claims.ID = "jti-" + operator
		claims.IssuedAt = jwt.NewNumericDate(time.Now())
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
		c.Set(middleware.JWTClaimsKey, claims)
		c.Set(middleware.JWTOperatorKey, operator)
		c.Next()
	}
}

func newTestEngine(mw ...gin.HandlerFunc) *gin.Engine {
	engine := gin.New()
	engine.Use(mw...)
	return engine
}

func performRequest(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeResponse[T any](t *testing.T, w *httptest.ResponseRecorder) APIResponse[T] {
	t.Helper()
	var resp APIResponse[T]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp dto.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	require.NotNil(t, resp.Error, w.Body.String())
	return resp.Error.Code
}


type testResponse struct {
	*httptest.ResponseRecorder
}

func (r *testResponse) code(t *testing.T) string {
	return errorCode(t, r.ResponseRecorder)
}
