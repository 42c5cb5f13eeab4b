package logger

import (
	"time"

	"go.uber.org/zap"
)

// Timer measures one named phase and logs its duration when stopped
type Timer struct {
	logger    *zap.Logger
	operation string
	startTime time.Time
	fields    []zap.Field
}

// StartTimer starts a new phase timer
func StartTimer(logger *zap.Logger, operation string, fields ...zap.Field) *Timer {
	return &Timer{
		logger:    logger,
		operation: operation,
		startTime: time.Now(),
		fields:    fields,
	}
}

// Stop stops the timer and logs the duration. A non-nil err is logged at error level.
func (t *Timer) Stop(err error) time.Duration {
	duration := time.Since(t.startTime)

	fields := append(t.fields,
		zap.String("phase", t.operation),
		zap.Duration("duration", duration),
	)

	switch {
	case err != nil:
		t.logger.Error("Phase failed", append(fields, zap.Error(err))...)
	case duration > 30*time.Second:
		t.logger.Warn("Slow phase", fields...)
	default:
		t.logger.Debug("Phase completed", fields...)
	}

	return duration
}
