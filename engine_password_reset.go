package identity

import (
	"context"
	"time"

	"github.com/clinicore/identity/internal/flows"
)

// RequestPasswordReset mails a reset code and returns its expiry.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (time.Time, error) {
	return flows.RunRequestPasswordReset(ctx, email, e.passwordResetFlowDeps())
}

// ResetPassword replaces the password using the emailed code.
func (e *Engine) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	return flows.RunResetPassword(ctx, email, code, newPassword, e.passwordResetFlowDeps())
}

func (e *Engine) passwordResetFlowDeps() flows.PasswordResetDeps {
	deps := flows.PasswordResetDeps{
		Base:   e.baseDeps(),
		Hasher: e.hasherDep(),
		Metrics: flows.PasswordResetMetrics{
			PasswordResetRequest: int(MetricPasswordResetRequest),
			PasswordResetSuccess: int(MetricPasswordResetSuccess),
			PasswordResetFailure: int(MetricPasswordResetFailure),
			AccountUnlocked:      int(MetricAccountUnlocked),
			RateLimitHit:         int(MetricRateLimitHit),
			MailFailure:          int(MetricMailFailure),
		},
	}
	if e == nil {
		return deps
	}

	deps.ResetTTL = e.config.Codes.ResetTTL
	deps.UnlockOnPasswordReset = e.config.Lockout.UnlockOnPasswordReset
	if e.mailer != nil {
		deps.SendPasswordReset = e.sendVia(e.mailer.SendPasswordReset)
	}
	return deps
}
