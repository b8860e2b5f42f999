package identity

import (
	"context"

	"github.com/clinicore/identity/internal/flows"
)

// Login checks the password of an ACTIVE account and mails a one-time
// login code. No tokens are issued until VerifyLogin2FA succeeds.
//
// A wrong password returns a *CredentialsError; the account is locked once
// Lockout.Threshold consecutive failures are reached.
func (e *Engine) Login(ctx context.Context, email, password string) (*LoginChallenge, error) {
	if e != nil && e.metrics.LatencyEnabled() {
		start := e.now()
		defer func() {
			e.metrics.Observe(MetricLoginLatency, e.now().Sub(start))
		}()
	}
	return flows.RunLogin(ctx, email, password, e.loginFlowDeps())
}

// VerifyLogin2FA consumes the login code and returns the token pair.
func (e *Engine) VerifyLogin2FA(ctx context.Context, email, code string) (*LoginResult, error) {
	return flows.RunVerifyLogin2FA(ctx, email, code, e.loginFlowDeps())
}

func (e *Engine) loginFlowDeps() flows.LoginDeps {
	deps := flows.LoginDeps{
		Base:   e.baseDeps(),
		Hasher: e.hasherDep(),
		Tokens: e.tokensDep(),
		Metrics: flows.LoginMetrics{
			LoginChallengeIssued: int(MetricLoginChallengeIssued),
			LoginFailure:         int(MetricLoginFailure),
			AccountLocked:        int(MetricAccountLocked),
			Login2FASuccess:      int(MetricLogin2FASuccess),
			Login2FAFailure:      int(MetricLogin2FAFailure),
			RateLimitHit:         int(MetricRateLimitHit),
			MailFailure:          int(MetricMailFailure),
		},
	}
	if e == nil {
		return deps
	}

	deps.LoginCodeTTL = e.config.Codes.LoginCodeTTL
	deps.LockoutThreshold = e.config.Lockout.Threshold
	if e.mailer != nil {
		deps.SendLoginCode = e.sendVia(e.mailer.SendLoginCode)
	}
	return deps
}
