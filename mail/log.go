package mail

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	identity "github.com/clinicore/identity"
)

// LogSender logs each message instead of sending it. The code is logged so
// a developer can complete the flows without a mail server.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("mail")}
}

func (s *LogSender) SendVerification(ctx context.Context, to identity.Recipient, code string, ttl time.Duration) identity.MailResult {
	return s.log(ctx, KindVerification, to, code, ttl)
}

func (s *LogSender) SendLoginCode(ctx context.Context, to identity.Recipient, code string, ttl time.Duration) identity.MailResult {
	return s.log(ctx, KindLoginCode, to, code, ttl)
}

func (s *LogSender) SendPasswordReset(ctx context.Context, to identity.Recipient, code string, ttl time.Duration) identity.MailResult {
	return s.log(ctx, KindPasswordReset, to, code, ttl)
}

func (s *LogSender) log(ctx context.Context, kind Kind, to identity.Recipient, code string, ttl time.Duration) identity.MailResult {
	if err := ctx.Err(); err != nil {
		return identity.MailResult{Err: err}
	}

	subject, _, err := Render(kind, to.Name, code, ttl)
	if err != nil {
		return identity.MailResult{Err: err}
	}

	id := uuid.NewString()
	s.logger.Info("email (not sent)",
		zap.String("kind", string(kind)),
		zap.String("to", MaskEmail(to.Email)),
		zap.String("subject", subject),
		zap.String("code", code),
		zap.Duration("ttl", ttl),
		zap.String("message_id", id),
	)
	return identity.MailResult{Delivered: true, MessageID: id}
}
