package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/identity/internal"
	"github.com/clinicore/identity/internal/account"
	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/internal/limiters"
	"github.com/clinicore/identity/jwt"
	"github.com/clinicore/identity/password"
)

// TokenSigner is the subset of *jwt.Manager the flows use.
type TokenSigner interface {
	CreateAccess(id jwt.Identity) (string, time.Time, error)
	CreateRefresh(id jwt.Identity) (string, time.Time, error)
	ParseRefresh(token string) (*jwt.Claims, error)
}

// LoginChallenge is returned after a correct password. The caller must
// present the mailed code to VerifyLogin2FA before ExpiresAt.
type LoginChallenge struct {
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginResult is issued after a successful second factor.
type LoginResult struct {
	AccessToken      string          `json:"accessToken"`
	AccessExpiresAt  time.Time       `json:"accessExpiresAt"`
	RefreshToken     string          `json:"refreshToken"`
	RefreshExpiresAt time.Time       `json:"refreshExpiresAt"`
	Account          account.Summary `json:"user"`
}

// LoginMetrics carries metric IDs used by the login flows.
type LoginMetrics struct {
	LoginChallengeIssued int
	LoginFailure         int
	AccountLocked        int
	Login2FASuccess      int
	Login2FAFailure      int
	RateLimitHit         int
	MailFailure          int
}

// LoginDeps captures password login and 2FA dependencies.
type LoginDeps struct {
	Base

	Hasher        password.Hasher
	Tokens        TokenSigner
	SendLoginCode SendFunc

	LoginCodeTTL     time.Duration
	LockoutThreshold int

	Metrics LoginMetrics
}

func normalizeLoginDeps(deps *LoginDeps) {
	normalizeBase(&deps.Base)
	if deps.LockoutThreshold <= 0 {
		deps.LockoutThreshold = 5
	}
}

// RunLogin checks the password of an ACTIVE account and mails a login
// code. Wrong passwords count toward the lockout threshold.
func RunLogin(ctx context.Context, email, pw string, deps LoginDeps) (*LoginChallenge, error) {
	normalizeLoginDeps(&deps)
	if !deps.ready() || deps.Hasher == nil || deps.SendLoginCode == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	fail := func(acc *account.Account, reason string, err error) (*LoginChallenge, error) {
		deps.MetricInc(deps.Metrics.LoginFailure)
		deps.audit(ctx, audit.ActionLogin, acc, email, reason, err)
		return nil, err
	}

	if field, rule := firstViolation(loginRules{Email: email, Password: pw}); rule != "" {
		return fail(nil, "validation", deps.Errors.Validation(field, rule))
	}

	if err := deps.throttle(ctx, limiters.ScopeLogin, email, deps.Metrics.RateLimitHit); err != nil {
		return fail(nil, "rate_limited", err)
	}

	acc, err := deps.lookup(ctx, email)
	if err != nil {
		return fail(nil, "lookup_failed", err)
	}
	switch acc.Status {
	case account.StatusLocked:
		return fail(&acc, "account_locked", deps.Errors.AccountLocked)
	case account.StatusActive:
	default:
		return fail(&acc, "account_unverified", deps.Errors.AccountUnverified)
	}

	ok, err := deps.Hasher.Verify(pw, acc.PasswordHash)
	if err != nil {
		deps.Logger.Error("password verify failed", zap.String("user_id", acc.ID), zap.Error(err))
	}
	if !ok {
		reason, err := deps.recordFailure(ctx, acc)
		return fail(&acc, reason, err)
	}
	deps.upgradeHash(ctx, acc, pw)

	code, err := deps.issueCode(ctx, acc, deps.LoginCodeTTL)
	if err != nil {
		return fail(&acc, "store_error", err)
	}
	if err := deps.SendLoginCode(ctx, acc, code.Value, deps.LoginCodeTTL); err != nil {
		deps.MetricInc(deps.Metrics.MailFailure)
		deps.Logger.Warn("login code mail failed", zap.String("user_id", acc.ID), zap.Error(err))
		return fail(&acc, "mail_failed", deps.Errors.MailDelivery)
	}

	deps.MetricInc(deps.Metrics.LoginChallengeIssued)
	deps.audit(ctx, audit.ActionLogin, &acc, email, "code_sent", nil)
	return &LoginChallenge{Email: acc.Email, ExpiresAt: code.ExpiresAt}, nil
}

// recordFailure bumps the failure counter. The store only counts against
// an ACTIVE account, so a LOCKED result marks this call as the one that
// locked it, and a stale result means another attempt locked it first.
func (deps *LoginDeps) recordFailure(ctx context.Context, acc account.Account) (string, error) {
	updated, err := deps.Store.RecordFailedLogin(ctx, acc.ID, deps.LockoutThreshold)
	if errors.Is(err, account.ErrStalePrecondition) {
		return "account_locked", deps.Errors.AccountLocked
	}
	if err != nil {
		return "store_error", deps.storeError(ctx, "record_failed_login", err)
	}

	locked := updated.Status == account.StatusLocked
	remaining := deps.LockoutThreshold - updated.FailedAttempts
	if remaining < 0 || locked {
		remaining = 0
	}
	if locked {
		deps.MetricInc(deps.Metrics.AccountLocked)
		deps.audit(ctx, audit.ActionAccountLock, &updated, updated.Email, "failed_attempts", nil)
		deps.Logger.Warn("account locked", zap.String("user_id", updated.ID), zap.Int("attempts", updated.FailedAttempts))
	}
	return "invalid_password", deps.Errors.Credentials(updated.FailedAttempts, remaining, locked)
}

// upgradeHash rehashes pw when the stored hash uses an outdated algorithm
// or cost. Failures are logged and never fail the login.
func (deps *LoginDeps) upgradeHash(ctx context.Context, acc account.Account, pw string) {
	up, ok := deps.Hasher.(password.Upgrader)
	if !ok {
		return
	}
	if stale, err := up.NeedsUpgrade(acc.PasswordHash); err != nil || !stale {
		return
	}
	hash, err := deps.Hasher.Hash(pw)
	if err != nil {
		deps.Logger.Warn("password rehash failed", zap.String("user_id", acc.ID), zap.Error(err))
		return
	}
	if _, err := deps.Store.Update(ctx, acc.ID, account.Update{
		PasswordHash:       account.StringPtr(hash),
		ExpectPasswordHash: acc.PasswordHash,
	}); err != nil {
		deps.Logger.Warn("password hash upgrade not stored", zap.String("user_id", acc.ID), zap.Error(err))
		return
	}
	deps.Logger.Info("password hash upgraded", zap.String("user_id", acc.ID))
}

// RunVerifyLogin2FA consumes the login code and issues the token pair. The
// code clear, the counter reset and the new refresh hash land in one write.
func RunVerifyLogin2FA(ctx context.Context, email, code string, deps LoginDeps) (*LoginResult, error) {
	normalizeLoginDeps(&deps)
	if !deps.ready() || deps.Hasher == nil || deps.Tokens == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)
	fail := func(acc *account.Account, reason string, err error) (*LoginResult, error) {
		deps.MetricInc(deps.Metrics.Login2FAFailure)
		deps.audit(ctx, audit.ActionVerify2FA, acc, email, reason, err)
		return nil, err
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
	switch acc.Status {
	case account.StatusActive:
	case account.StatusLocked:
		return fail(&acc, "account_locked", deps.Errors.AccountLocked)
	default:
		return fail(&acc, "account_unverified", deps.Errors.AccountUnverified)
	}
	if reason, err := deps.checkCode(acc, code); err != nil {
		return fail(&acc, reason, err)
	}

	id := identityOf(acc)
	access, accessExp, err := deps.Tokens.CreateAccess(id)
	if err != nil {
		deps.Logger.Error("access token signing failed", zap.Error(err))
		return fail(&acc, "token_error", deps.Errors.EngineNotReady)
	}
	refresh, refreshExp, err := deps.Tokens.CreateRefresh(id)
	if err != nil {
		deps.Logger.Error("refresh token signing failed", zap.Error(err))
		return fail(&acc, "token_error", deps.Errors.EngineNotReady)
	}
	refreshHash, err := hashRefreshToken(deps.Hasher, refresh)
	if err != nil {
		deps.Logger.Error("refresh token hash failed", zap.Error(err))
		return fail(&acc, "hash_error", deps.Errors.EngineNotReady)
	}

	updated, err := deps.consume(ctx, acc, account.Update{
		ResetFailedAttempts: true,
		RefreshTokenHash:    account.StringPtr(refreshHash),
	})
	if err != nil {
		return fail(&acc, "consume_failed", err)
	}

	deps.MetricInc(deps.Metrics.Login2FASuccess)
	deps.audit(ctx, audit.ActionVerify2FA, &updated, email, "", nil)
	return &LoginResult{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
		Account:          updated.Summary(),
	}, nil
}

func identityOf(acc account.Account) jwt.Identity {
	return jwt.Identity{
		UserID:       acc.ID,
		Email:        acc.Email,
		Role:         acc.Role,
		DepartmentID: acc.DepartmentID,
	}
}

// hashRefreshToken hashes the sha256 digest of token so refresh tokens of
// any length fit the password hasher.
func hashRefreshToken(h password.Hasher, token string) (string, error) {
	return h.Hash(internal.TokenDigest(token))
}

func verifyRefreshToken(h password.Hasher, token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	ok, err := h.Verify(internal.TokenDigest(token), hash)
	return err == nil && ok
}
