package identity

import (
	"context"
	"time"

	"github.com/clinicore/identity/internal/flows"
)

// Register creates a PENDING account and mails its verification code. If
// the mail cannot be sent the account is removed again and
// ErrMailDelivery is returned.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (AccountSummary, error) {
	return flows.RunRegister(ctx, req, e.registrationFlowDeps())
}

// VerifyEmail activates a PENDING account with its emailed code.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) (AccountSummary, error) {
	return flows.RunVerifyEmail(ctx, email, code, e.registrationFlowDeps())
}

// ResendVerification mails a fresh verification code and returns its
// expiry.
func (e *Engine) ResendVerification(ctx context.Context, email string) (time.Time, error) {
	return flows.RunResendVerification(ctx, email, e.registrationFlowDeps())
}

func (e *Engine) registrationFlowDeps() flows.RegistrationDeps {
	deps := flows.RegistrationDeps{
		Base:   e.baseDeps(),
		Hasher: e.hasherDep(),
		Metrics: flows.RegistrationMetrics{
			RegisterSuccess:          int(MetricRegisterSuccess),
			RegisterFailure:          int(MetricRegisterFailure),
			RegisterCompensated:      int(MetricRegisterCompensated),
			EmailVerificationSuccess: int(MetricEmailVerificationSuccess),
			EmailVerificationFailure: int(MetricEmailVerificationFailure),
			VerificationResent:       int(MetricVerificationResent),
			RateLimitHit:             int(MetricRateLimitHit),
			MailFailure:              int(MetricMailFailure),
		},
	}
	if e == nil {
		return deps
	}

	deps.NewID = e.newID
	deps.VerificationTTL = e.config.Codes.VerificationTTL
	deps.MinAge = e.config.Registration.MinAge
	deps.MaxAge = e.config.Registration.MaxAge
	deps.DefaultRole = e.config.Registration.DefaultRole
	if e.mailer != nil {
		deps.SendVerification = e.sendVia(e.mailer.SendVerification)
	}
	return deps
}
