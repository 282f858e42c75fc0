package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestBodyLimit(t *testing.T) {
	newRouter := func(limit int64) *gin.Engine {
		router := gin.New()
		router.Use(BodyLimit(limit))
		handler := func(c *gin.Context) {
			if _, err := io.ReadAll(c.Request.Body); err != nil {
				c.String(http.StatusBadRequest, "body too large")
				return
			}
			c.String(http.StatusOK, "ok")
		}
		router.POST("/api/v1/orders/:id/process", handler)
		router.GET("/api/v1/sync/status", handler)
		return router
	}

	tests := []struct {
		name          string
		limit         int64
		method        string
		path          string
		body          string
		contentLength int64
		wantStatus    int
	}{
		{"within limit", 1024, http.MethodPost, "/api/v1/orders/7/process", `{"reason":"retry"}`, 18, http.StatusOK},
		{"declared length over limit", 100, http.MethodPost, "/api/v1/orders/7/process", strings.Repeat("x", 200), 200, http.StatusRequestEntityTooLarge},
		{"streamed body cut off while reading", 50, http.MethodPost, "/api/v1/orders/7/process", strings.Repeat("x", 100), -1, http.StatusBadRequest},
		{"no body", 10, http.MethodGet, "/api/v1/sync/status", "", 0, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			w := httptest.NewRecorder()
			newRouter(tt.limit).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusRequestEntityTooLarge {
				assert.Contains(t, w.Body.String(), "ERR_REQUEST_TOO_LARGE")
			}
		})
	}
}
