package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serveWith(mw gin.HandlerFunc, method, origin string) *httptest.ResponseRecorder {
	router := gin.New()
	router.Use(mw)
	router.Any("/api/v1/sync/status", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(method, "/api/v1/sync/status", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORSWithConfig(t *testing.T) {
	console := DefaultCORSConfig()
	console.AllowOrigins = []string{"https://console.example.test", "http://localhost:5173"}

	open := DefaultCORSConfig()
	open.AllowOrigins = []string{"*"}

	tests := []struct {
		name        string
		cfg         CORSConfig
		method      string
		origin      string
		wantStatus  int
		wantOrigin  string
		wantCredits string
	}{
		{"listed origin", console, http.MethodGet, "https://console.example.test", http.StatusOK, "https://console.example.test", "true"},
		{"second listed origin", console, http.MethodGet, "http://localhost:5173", http.StatusOK, "http://localhost:5173", "true"},
		{"unlisted origin still served without headers", console, http.MethodGet, "https://evil.example.test", http.StatusOK, "", ""},
		{"same origin request", console, http.MethodGet, "", http.StatusOK, "", ""},
		{"empty whitelist", DefaultCORSConfig(), http.MethodGet, "https://console.example.test", http.StatusOK, "", ""},
		{"wildcard never sends credentials", open, http.MethodGet, "https://any.example.test", http.StatusOK, "*", ""},
		{"preflight for listed origin", console, http.MethodOptions, "https://console.example.test", http.StatusNoContent, "https://console.example.test", "true"},
		{"preflight for unlisted origin", console, http.MethodOptions, "https://evil.example.test", http.StatusNoContent, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serveWith(CORSWithConfig(tt.cfg), tt.method, tt.origin)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCredits, w.Header().Get("Access-Control-Allow-Credentials"))
			if tt.wantOrigin == "" {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Methods"))
				return
			}
			assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
			assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
			assert.Equal(t, "43200", w.Header().Get("Access-Control-Max-Age"))
		})
	}
}

func TestCORSWithConfig_MaxAgeSeconds(t *testing.T) {
	for _, tc := range []struct {
		maxAge time.Duration
		want   string
	}{
		{time.Hour, "3600"},
		{90 * time.Second, "90"},
		{0, ""},
	} {
		cfg := DefaultCORSConfig()
		cfg.AllowOrigins = []string{"http://localhost:5173"}
		cfg.MaxAge = tc.maxAge

		w := serveWith(CORSWithConfig(cfg), http.MethodGet, "http://localhost:5173")
		assert.Equal(t, tc.want, w.Header().Get("Access-Control-Max-Age"), tc.maxAge.String())
	}
}

func TestSecure(t *testing.T) {
	w := serveWith(Secure(), http.MethodGet, "")

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"))
}

func TestSecureWithConfig_HSTS(t *testing.T) {
	w := serveWith(SecureWithConfig(SecurityConfig{HSTSMaxAge: 365 * 24 * time.Hour}), http.MethodGet, "")

	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
	assert.Empty(t, w.Header().Get("Content-Security-Policy"))
}

func TestTimeout(t *testing.T) {
	router := gin.New()
	router.Use(Timeout(30 * time.Second))
	router.GET("/api/v1/orders/:id", func(c *gin.Context) {
		deadline, ok := c.Request.Context().Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(30*time.Second), deadline, 5*time.Second)
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/42", nil))

	assert.Equal(t, "30s", w.Header().Get("X-Request-Timeout"))
}

func TestTimeout_Disabled(t *testing.T) {
	router := gin.New()
	router.Use(Timeout(0))
	router.POST("/api/v1/sync/import", func(c *gin.Context) {
		_, ok := c.Request.Context().Deadline()
		assert.False(t, ok)
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync/import", nil))

	assert.Empty(t, w.Header().Get("X-Request-Timeout"))
}
