package auditsink

import (
	"context"

	"go.uber.org/zap"

	identity "github.com/clinicore/identity"
)

// LoggerSink writes every audit event as one structured log line. Failures
// are logged at warn level.
type LoggerSink struct {
	logger *zap.Logger
}

func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggerSink{logger: logger.Named("audit")}
}

func (s *LoggerSink) Emit(_ context.Context, ev identity.AuditEvent) {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.Time("timestamp", ev.Timestamp),
		zap.String("action", string(ev.Action)),
		zap.String("outcome", string(ev.Outcome)),
	}
	if ev.UserID != "" {
		fields = append(fields, zap.String("user_id", ev.UserID))
	}
	if ev.Email != "" {
		fields = append(fields, zap.String("email", ev.Email))
	}
	if ev.Role != "" {
		fields = append(fields, zap.String("role", ev.Role))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error_code", ev.Error))
	}
	if ev.IP != "" {
		fields = append(fields, zap.String("ip", ev.IP))
	}
	if ev.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", ev.UserAgent))
	}
	if len(ev.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", ev.Metadata))
	}

	if ev.Success() {
		s.logger.Info("audit", fields...)
		return
	}
	s.logger.Warn("audit", fields...)
}
