// Package health provides liveness and readiness endpoints with dependency
// checks.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ComponentStatus is the health of a single dependency.
type ComponentStatus struct {
	Status    string  `json:"status"` // up, degraded, down
	LatencyMS float64 `json:"latency_ms"`
	Details   string  `json:"details,omitempty"`
	CheckedAt string  `json:"checked_at"`
}

// HealthResponse is the aggregated health document.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	CheckedAt  string                     `json:"checked_at"`
}

// HealthChecker is one dependency probe. Critical checkers gate readiness.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) ComponentStatus
	IsCritical() bool
}

// HealthService runs registered checkers and aggregates their results.
type HealthService struct {
	checkers  []HealthChecker
	logger    *zap.Logger
	startTime time.Time
	version   string
	mu        sync.RWMutex
}

// NewHealthService creates a HealthService.
func NewHealthService(logger *zap.Logger) *HealthService {
	return &HealthService{
		checkers:  make([]HealthChecker, 0),
		logger:    logger.With(zap.String("component", "health")),
		startTime: time.Now(),
	}
}

// SetVersion sets the version reported in health responses.
func (h *HealthService) SetVersion(version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = version
}

// RegisterCheck adds a checker.
func (h *HealthService) RegisterCheck(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
	h.logger.Info("Registered health checker",
		zap.String("name", checker.Name()),
		zap.Bool("critical", checker.IsCritical()))
}

// Check runs all checkers concurrently and aggregates an overall status.
func (h *HealthService) Check(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	checkers := make([]HealthChecker, len(h.checkers))
	copy(checkers, h.checkers)
	version := h.version
	h.mu.RUnlock()

	type result struct {
		name  string
		check ComponentStatus
	}
	results := make(chan result, len(checkers))

	for _, checker := range checkers {
		go func(c HealthChecker) {
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			results <- result{name: c.Name(), check: c.Check(checkCtx)}
		}(checker)
	}

	components := make(map[string]ComponentStatus, len(checkers))
	for i := 0; i < len(checkers); i++ {
		r := <-results
		components[r.name] = r.check
	}

	overallStatus := "up"
	for name, comp := range components {
		switch comp.Status {
		case "down":
			overallStatus = "down"
			h.logger.Warn("Component is down", zap.String("component", name))
		case "degraded":
			if overallStatus != "down" {
				overallStatus = "degraded"
			}
			h.logger.Warn("Component is degraded", zap.String("component", name))
		}
	}

	return &HealthResponse{
		Status:     overallStatus,
		Components: components,
		Version:    version,
		Uptime:     formatDuration(time.Since(h.startTime)),
		CheckedAt:  time.Now().UTC().Format(time.RFC3339),
	}
}

// Handler serves the full health document. 200 for up/degraded, 503 for down.
func (h *HealthService) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())

		httpStatus := http.StatusOK
		if resp.Status == "down" {
			httpStatus = http.StatusServiceUnavailable
		}

		c.JSON(httpStatus, resp)
	}
}

// ReadyHandler serves readiness probes: 503 when any critical dependency is
// down.
func (h *HealthService) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())

		h.mu.RLock()
		checkers := make([]HealthChecker, len(h.checkers))
		copy(checkers, h.checkers)
		h.mu.RUnlock()

		for _, checker := range checkers {
			if checker.IsCritical() {
				if comp, ok := resp.Components[checker.Name()]; ok && comp.Status == "down" {
					c.JSON(http.StatusServiceUnavailable, gin.H{
						"status": "not ready",
						"reason": fmt.Sprintf("critical component %s is down", checker.Name()),
					})
					return
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// LiveHandler serves liveness probes. Always 200 while the process runs.
func (h *HealthService) LiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": formatDuration(time.Since(h.startTime)),
		})
	}
}

// RegisterStandardRoutes mounts /health, /health/ready, and /health/live.
func (h *HealthService) RegisterStandardRoutes(router *gin.Engine, prefix string) {
	if prefix == "" {
		prefix = "/health"
	}
	router.GET(prefix, h.Handler())
	router.GET(prefix+"/ready", h.ReadyHandler())
	router.GET(prefix+"/live", h.LiveHandler())
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
