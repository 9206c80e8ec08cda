package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestIDGeneratesNewID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())

	var seen string
	router.GET("/test", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.String(http.StatusOK, "OK")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	router.ServeHTTP(w, req)

	requestID := w.Header().Get(HeaderXRequestID)
	require.NotEmpty(t, requestID)
	assert.True(t, strings.Contains(requestID, "-"), "generated id should be a UUID")
	assert.Equal(t, requestID, seen)
}

func TestRequestIDReusesIncomingHeader(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderXRequestID, "upstream-id-123")
	router.ServeHTTP(w, req)

	assert.Equal(t, "upstream-id-123", w.Header().Get(HeaderXRequestID))
}

func TestRequestIDPropagatesToRequestContext(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())

	var fromCtx string
	router.GET("/test", func(c *gin.Context) {
		fromCtx = GetRequestIDFromContext(c.Request.Context())
		c.String(http.StatusOK, "OK")
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(HeaderXRequestID, "ctx-id-456")
	router.ServeHTTP(w, req)

	assert.Equal(t, "ctx-id-456", fromCtx)
}

func TestGetRequestIDFromContext(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "abc")
	assert.Equal(t, "abc", GetRequestIDFromContext(ctx))
	assert.Empty(t, GetRequestIDFromContext(context.Background()))
}
