package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/identity/internal/account"
	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/internal/limiters"
	"github.com/clinicore/identity/password"
)

// RegisterInput is the raw sign-up payload.
type RegisterInput struct {
	Email       string
	Password    string
	FullName    string
	DateOfBirth string
}

// RegistrationMetrics carries metric IDs used by the registration flows.
type RegistrationMetrics struct {
	RegisterSuccess          int
	RegisterFailure          int
	RegisterCompensated      int
	EmailVerificationSuccess int
	EmailVerificationFailure int
	VerificationResent       int
	RateLimitHit             int
	MailFailure              int
}

// RegistrationDeps captures sign-up and email verification dependencies.
type RegistrationDeps struct {
	Base

	Hasher           password.Hasher
	NewID            func() string
	SendVerification SendFunc

	VerificationTTL time.Duration
	MinAge          int
	MaxAge          int
	DefaultRole     string

	Metrics RegistrationMetrics
}

func normalizeRegistrationDeps(deps *RegistrationDeps) {
	normalizeBase(&deps.Base)
	if deps.DefaultRole == "" {
		deps.DefaultRole = "USER"
	}
}

// RunRegister validates in, creates a PENDING account carrying a fresh
// verification code and mails the code. A failed send deletes the account
// again.
func RunRegister(ctx context.Context, in RegisterInput, deps RegistrationDeps) (account.Summary, error) {
	normalizeRegistrationDeps(&deps)
	if !deps.ready() || deps.Hasher == nil || deps.NewID == nil || deps.SendVerification == nil {
		return account.Summary{}, deps.Errors.EngineNotReady
	}

	email := NormalizeEmail(in.Email)
	fail := func(acc *account.Account, reason string, err error) (account.Summary, error) {
		deps.MetricInc(deps.Metrics.RegisterFailure)
		deps.audit(ctx, audit.ActionRegister, acc, email, reason, err)
		return account.Summary{}, err
	}

	if field, rule := firstViolation(registerRules{
		Email:       email,
		Password:    in.Password,
		FullName:    strings.TrimSpace(in.FullName),
		DateOfBirth: strings.TrimSpace(in.DateOfBirth),
	}); rule != "" {
		return fail(nil, "validation", deps.Errors.Validation(field, rule))
	}

	if err := deps.throttle(ctx, limiters.ScopeSignUp, email, deps.Metrics.RateLimitHit); err != nil {
		return fail(nil, "rate_limited", err)
	}

	if _, err := deps.Store.FindByEmail(ctx, email); err == nil {
		return fail(nil, "email_taken", deps.Errors.EmailTaken)
	} else if !errors.Is(err, account.ErrNotFound) {
		return fail(nil, "store_error", deps.storeError(ctx, "find_by_email", err))
	}

	dob, ok := ParseDateOfBirth(in.DateOfBirth)
	if !ok {
		return fail(nil, "validation", deps.Errors.Validation("date_of_birth", RuleFormat))
	}
	now := deps.Now()
	if age := AgeAt(dob, now); age < deps.MinAge || age > deps.MaxAge {
		return fail(nil, "validation", deps.Errors.Validation("date_of_birth", RuleAgeRange))
	}

	hash, err := deps.Hasher.Hash(in.Password)
	if err != nil {
		deps.Logger.Error("password hash failed", zap.Error(err))
		return fail(nil, "hash_error", deps.Errors.EngineNotReady)
	}
	codeValue, err := deps.NewCode()
	if err != nil {
		return fail(nil, "code_error", deps.Errors.EngineNotReady)
	}

	created, err := deps.Store.Create(ctx, account.Account{
		ID:           deps.NewID(),
		Email:        email,
		FullName:     strings.TrimSpace(in.FullName),
		DateOfBirth:  dob,
		Role:         deps.DefaultRole,
		PasswordHash: hash,
		Status:       account.StatusPending,
		PendingCode:  &account.PendingCode{Value: codeValue, ExpiresAt: now.Add(deps.VerificationTTL)},
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if errors.Is(err, account.ErrEmailTaken) {
			return fail(nil, "email_taken", deps.Errors.EmailTaken)
		}
		return fail(nil, "store_error", deps.storeError(ctx, "create", err))
	}

	if err := deps.SendVerification(ctx, created, codeValue, deps.VerificationTTL); err != nil {
		deps.MetricInc(deps.Metrics.MailFailure)
		deps.Logger.Warn("verification mail failed, removing account", zap.String("user_id", created.ID), zap.Error(err))
		if delErr := deps.Store.Delete(ctx, created.ID); delErr != nil && !errors.Is(delErr, account.ErrNotFound) {
			deps.Logger.Error("compensating delete failed", zap.String("user_id", created.ID), zap.Error(delErr))
		} else {
			deps.MetricInc(deps.Metrics.RegisterCompensated)
		}
		return fail(&created, "mail_failed", deps.Errors.MailDelivery)
	}

	deps.MetricInc(deps.Metrics.RegisterSuccess)
	deps.audit(ctx, audit.ActionRegister, &created, email, "", nil)
	return created.Summary(), nil
}

// RunVerifyEmail consumes the verification code of a PENDING account and
// activates it.
func RunVerifyEmail(ctx context.Context, email, code string, deps RegistrationDeps) (account.Summary, error) {
	normalizeRegistrationDeps(&deps)
	if !deps.ready() {
		return account.Summary{}, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	fail := func(acc *account.Account, reason string, err error) (account.Summary, error) {
		deps.MetricInc(deps.Metrics.EmailVerificationFailure)
		deps.audit(ctx, audit.ActionVerifyEmail, acc, email, reason, err)
		return account.Summary{}, err
	}

	if field, rule := firstViolation(codeRules{Email: email, Code: code}); rule != "" {
		return fail(nil, "validation", deps.Errors.Validation(field, rule))
	}
	if err := deps.throttle(ctx, limiters.ScopeVerify, email, deps.Metrics.RateLimitHit); err != nil {
		return fail(nil, "rate_limited", err)
	}

	acc, err := deps.lookup(ctx, email)
	if err != nil {
		return fail(nil, "lookup_failed", err)
	}
	if acc.Status != account.StatusPending {
		return fail(&acc, "already_verified", deps.Errors.AlreadyVerified)
	}
	if reason, err := deps.checkCode(acc, code); err != nil {
		return fail(&acc, reason, err)
	}

	updated, err := deps.consume(ctx, acc, account.Update{Status: account.StatusPtr(account.StatusActive)})
	if err != nil {
		return fail(&acc, "consume_failed", err)
	}

	deps.MetricInc(deps.Metrics.EmailVerificationSuccess)
	deps.audit(ctx, audit.ActionVerifyEmail, &updated, email, "", nil)
	return updated.Summary(), nil
}

// RunResendVerification replaces the code of a PENDING account and mails
// it. The new code stays stored even when the send fails.
func RunResendVerification(ctx context.Context, email string, deps RegistrationDeps) (time.Time, error) {
	normalizeRegistrationDeps(&deps)
	if !deps.ready() || deps.SendVerification == nil {
		return time.Time{}, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	fail := func(acc *account.Account, reason string, err error) (time.Time, error) {
		deps.audit(ctx, audit.ActionResendVerification, acc, email, reason, err)
		return time.Time{}, err
	}

	if field, rule := firstViolation(emailRules{Email: email}); rule != "" {
		return fail(nil, "validation", deps.Errors.Validation(field, rule))
	}
	if err := deps.throttle(ctx, limiters.ScopeResend, email, deps.Metrics.RateLimitHit); err != nil {
		return fail(nil, "rate_limited", err)
	}

	acc, err := deps.lookup(ctx, email)
	if err != nil {
		return fail(nil, "lookup_failed", err)
	}
	if acc.Status != account.StatusPending {
		return fail(&acc, "already_verified", deps.Errors.AlreadyVerified)
	}

	code, err := deps.issueCode(ctx, acc, deps.VerificationTTL)
	if err != nil {
		return fail(&acc, "store_error", err)
	}
	if err := deps.SendVerification(ctx, acc, code.Value, deps.VerificationTTL); err != nil {
		deps.MetricInc(deps.Metrics.MailFailure)
		deps.Logger.Warn("verification resend failed", zap.String("user_id", acc.ID), zap.Error(err))
		return fail(&acc, "mail_failed", deps.Errors.MailDelivery)
	}

	deps.MetricInc(deps.Metrics.VerificationResent)
	deps.audit(ctx, audit.ActionResendVerification, &acc, email, "", nil)
	return code.ExpiresAt, nil
}
