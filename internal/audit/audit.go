// Package audit records provisioning changes. Recording is fire-and-forget:
// a failed audit write is logged, never surfaced to the caller, and never
// rolls back the change it describes.
package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Event is one provisioning change.
type Event struct {
	TenantID   string
	ScopeID    string
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// PostgresRecorder writes events to the audit_logs table. Failures are
// logged at Error level and dropped.
type PostgresRecorder struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRecorder creates a recorder on the given pool.
func NewPostgresRecorder(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRecorder {
	return &PostgresRecorder{
		pool:   pool,
		logger: logger.With(zap.String("component", "audit")),
	}
}

// Record inserts one audit row. The write gets its own timeout so a slow
// audit table cannot stall the request that triggered it.
func (r *PostgresRecorder) Record(ctx context.Context, e Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (tenant_id, scope_id, actor_id, action, target_type, target_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		e.TenantID, e.ScopeID, e.ActorID, e.Action, e.TargetType, e.TargetID, e.Metadata,
	)
	if err != nil {
		r.logger.Error("audit write failed",
			zap.String("action", e.Action),
			zap.String("target_id", e.TargetID),
			zap.Error(err))
	}
}

// LogRecorder emits events to the structured log only. Used in tests and as
// a fallback when no database is configured.
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a log-only recorder.
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.With(zap.String("component", "audit"))}
}

// Record logs the event at Info level.
func (r *LogRecorder) Record(_ context.Context, e Event) {
	r.logger.Info("audit event",
		zap.String("tenant_id", e.TenantID),
		zap.String("scope_id", e.ScopeID),
		zap.String("actor_id", e.ActorID),
		zap.String("action", e.Action),
		zap.String("target_type", e.TargetType),
		zap.String("target_id", e.TargetID),
		zap.Any("metadata", e.Metadata))
}
