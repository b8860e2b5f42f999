package flows

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/identity/internal/account"
	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/internal/limiters"
	"github.com/clinicore/identity/password"
)

// PasswordResetMetrics carries metric IDs used by the reset flows.
type PasswordResetMetrics struct {
	PasswordResetRequest int
	PasswordResetSuccess int
	PasswordResetFailure int
	AccountUnlocked      int
	RateLimitHit         int
	MailFailure          int
}

// PasswordResetDeps captures password reset dependencies.
type PasswordResetDeps struct {
	Base

	Hasher            password.Hasher
	SendPasswordReset SendFunc

	ResetTTL              time.Duration
	UnlockOnPasswordReset bool

	Metrics PasswordResetMetrics
}

// RunRequestPasswordReset stores a reset code on the account and mails it.
// The code stays stored when the send fails.
func RunRequestPasswordReset(ctx context.Context, email string, deps PasswordResetDeps) (time.Time, error) {
	normalizeBase(&deps.Base)
	if !deps.ready() || deps.SendPasswordReset == nil {
		return time.Time{}, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	fail := func(acc *account.Account, reason string, err error) (time.Time, error) {
		deps.audit(ctx, audit.ActionRequestPasswordReset, acc, email, reason, err)
		return time.Time{}, err
	}

	if field, rule := firstViolation(resetRequestRules{Email: email}); rule != "" {
		return fail(nil, "validation", deps.Errors.Validation(field, rule))
	}
	if err := deps.throttle(ctx, limiters.ScopeResetCode, email, deps.Metrics.RateLimitHit); err != nil {
		return fail(nil, "rate_limited", err)
	}

	acc, err := deps.lookup(ctx, email)
	if err != nil {
		return fail(nil, "lookup_failed", err)
	}

	code, err := deps.issueCode(ctx, acc, deps.ResetTTL)
	if err != nil {
		return fail(&acc, "store_error", err)
	}
	if err := deps.SendPasswordReset(ctx, acc, code.Value, deps.ResetTTL); err != nil {
		deps.MetricInc(deps.Metrics.MailFailure)
		deps.Logger.Warn("password reset mail failed", zap.String("user_id", acc.ID), zap.Error(err))
		return fail(&acc, "mail_failed", deps.Errors.MailDelivery)
	}

	deps.MetricInc(deps.Metrics.PasswordResetRequest)
	deps.audit(ctx, audit.ActionRequestPasswordReset, &acc, email, "", nil)
	return code.ExpiresAt, nil
}

// RunResetPassword consumes the reset code and stores the new password
// hash. The counter is reset and, with UnlockOnPasswordReset, a LOCKED
// account becomes ACTIVE in the same write.
func RunResetPassword(ctx context.Context, email, code, newPassword string, deps PasswordResetDeps) error {
	normalizeBase(&deps.Base)
	if !deps.ready() || deps.Hasher == nil {
		return deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	fail := func(acc *account.Account, reason string, err error) error {
		deps.MetricInc(deps.Metrics.PasswordResetFailure)
		deps.audit(ctx, audit.ActionResetPassword, acc, email, reason, err)
		return err
	}

	if field, rule := firstViolation(resetRules{Email: email, Code: code, Password: newPassword}); rule != "" {
		return fail(nil, "validation", deps.Errors.Validation(field, rule))
	}
	if err := deps.throttle(ctx, limiters.ScopeResetVerify, email, deps.Metrics.RateLimitHit); err != nil {
		return fail(nil, "rate_limited", err)
	}

	acc, err := deps.lookup(ctx, email)
	if err != nil {
		return fail(nil, "lookup_failed", err)
	}
	if reason, err := deps.checkCode(acc, code); err != nil {
		return fail(&acc, reason, err)
	}
	if rule := PasswordRule(newPassword); rule != "" {
		return fail(&acc, "validation", deps.Errors.Validation("password", rule))
	}

	hash, err := deps.Hasher.Hash(newPassword)
	if err != nil {
		deps.Logger.Error("password hash failed", zap.Error(err))
		return fail(&acc, "hash_error", deps.Errors.EngineNotReady)
	}

	upd := account.Update{
		PasswordHash:        account.StringPtr(hash),
		ResetFailedAttempts: true,
	}
	unlock := acc.Status == account.StatusLocked && deps.UnlockOnPasswordReset
	if unlock {
		upd.Status = account.StatusPtr(account.StatusActive)
	}

	updated, err := deps.consume(ctx, acc, upd)
	if err != nil {
		return fail(&acc, "consume_failed", err)
	}

	deps.MetricInc(deps.Metrics.PasswordResetSuccess)
	deps.audit(ctx, audit.ActionResetPassword, &updated, email, "", nil)
	if unlock {
		deps.MetricInc(deps.Metrics.AccountUnlocked)
		deps.audit(ctx, audit.ActionAccountUnlock, &updated, email, "password_reset", nil)
	}
	return nil
}
