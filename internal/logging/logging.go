// Package logging builds the structured logger shared by every component.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger at the given level ("debug", "info", "warn", "error").
// Output is JSON in production-like environments, console otherwise.
func New(level string, dev bool) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	_ = lvl.UnmarshalText([]byte(strings.ToLower(level)))

	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"

	return cfg.Build()
}

// TaskFields returns the correlation-id log fields for a task-scoped log
// line, per spec.md §7: correlate on taskId, falling back to
// processInstanceId when no taskId is in scope.
func TaskFields(taskID, processInstanceID string) []zap.Field {
	if taskID != "" {
		return []zap.Field{zap.String("task_id", taskID)}
	}
	if processInstanceID != "" {
		return []zap.Field{zap.String("process_instance_id", processInstanceID)}
	}
	return nil
}
