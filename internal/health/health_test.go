package health

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
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubChecker struct {
	name     string
	status   string
	critical bool
}

func (s *stubChecker) Name() string     { return s.name }
func (s *stubChecker) IsCritical() bool { return s.critical }

func (s *stubChecker) Check(ctx context.Context) ComponentStatus {
	return ComponentStatus{
		Status:    s.status,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

func TestCheckAggregatesStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all up", []string{"up", "up"}, "up"},
		{"one degraded", []string{"up", "degraded"}, "degraded"},
		{"one down", []string{"up", "down"}, "down"},
		{"down beats degraded", []string{"degraded", "down"}, "down"},
		{"no checkers", nil, "up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewHealthService(zaptest.NewLogger(t))
			for i, status := range tt.statuses {
				svc.RegisterCheck(&stubChecker{name: string(rune('a' + i)), status: status})
			}

			resp := svc.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Components, len(tt.statuses))
		})
	}
}

func TestHandlerStatusCodes(t *testing.T) {
	svc := NewHealthService(zaptest.NewLogger(t))
	svc.SetVersion("1.2.3")
	svc.RegisterCheck(&stubChecker{name: "postgres", status: "down", critical: true})

	router := gin.New()
	router.GET("/health", svc.Handler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "down", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
}

func TestReadyHandlerGatesOnCriticalOnly(t *testing.T) {
	svc := NewHealthService(zaptest.NewLogger(t))
	svc.RegisterCheck(&stubChecker{name: "postgres", status: "up", critical: true})
	svc.RegisterCheck(&stubChecker{name: "redis", status: "down", critical: false})

	router := gin.New()
	router.GET("/ready", svc.ReadyHandler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ready", nil)
	router.ServeHTTP(w, req)

	// A non-critical dependency being down does not block readiness.
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyHandlerFailsOnCriticalDown(t *testing.T) {
	svc := NewHealthService(zaptest.NewLogger(t))
	svc.RegisterCheck(&stubChecker{name: "postgres", status: "down", critical: true})

	router := gin.New()
	router.GET("/ready", svc.ReadyHandler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/ready", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "postgres")
}

func TestLiveHandler(t *testing.T) {
	svc := NewHealthService(zaptest.NewLogger(t))

	router := gin.New()
	router.GET("/live", svc.LiveHandler())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/live", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}

func TestRegisterStandardRoutes(t *testing.T) {
	svc := NewHealthService(zaptest.NewLogger(t))
	router := gin.New()
	svc.RegisterStandardRoutes(router, "")

	for _, path := range []string{"/health", "/health/ready", "/health/live"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "5s", formatDuration(5*time.Second))
	assert.Equal(t, "2m 10s", formatDuration(2*time.Minute+10*time.Second))
	assert.Equal(t, "3h 0m 5s", formatDuration(3*time.Hour+5*time.Second))
	assert.Equal(t, "1d 1h 0m 0s", formatDuration(25*time.Hour))
}
