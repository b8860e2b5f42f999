package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/identity/internal/account"
	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/password"
)

// RefreshResult carries a new access token. RefreshToken is only set when
// rotation is enabled.
type RefreshResult struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken,omitempty"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt,omitempty"`
}

// SessionMetrics carries metric IDs used by refresh and logout.
type SessionMetrics struct {
	RefreshSuccess int
	RefreshFailure int
	Logout         int
}

// SessionDeps captures refresh and logout dependencies.
type SessionDeps struct {
	Base

	Hasher password.Hasher
	Tokens TokenSigner

	RotateRefreshOnUse bool

	Metrics SessionMetrics
}

// resolveSession verifies token against the signer and the stored hash and
// returns the owning account. Every failure maps to Errors.InvalidToken
// except store outages.
func (deps *SessionDeps) resolveSession(ctx context.Context, token string) (account.Account, string, error) {
	claims, err := deps.Tokens.ParseRefresh(token)
	if err != nil {
		return account.Account{}, "invalid_token", deps.Errors.InvalidToken
	}

	acc, err := deps.Store.FindByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.Account{}, "unknown_subject", deps.Errors.InvalidToken
		}
		return account.Account{}, "store_error", deps.storeError(ctx, "find_by_id", err)
	}
	if acc.RefreshTokenHash == "" {
		return acc, "no_session", deps.Errors.InvalidToken
	}
	if !verifyRefreshToken(deps.Hasher, token, acc.RefreshTokenHash) {
		return acc, "token_mismatch", deps.Errors.InvalidToken
	}
	return acc, "", nil
}

// RunRefresh issues a new access token for a stored refresh session.
func RunRefresh(ctx context.Context, token string, deps SessionDeps) (*RefreshResult, error) {
	normalizeBase(&deps.Base)
	if deps.Store == nil || deps.Hasher == nil || deps.Tokens == nil {
		return nil, deps.Errors.EngineNotReady
	}

	token = strings.TrimSpace(token)
	fail := func(acc *account.Account, reason string, err error) (*RefreshResult, error) {
		deps.MetricInc(deps.Metrics.RefreshFailure)
		deps.audit(ctx, audit.ActionRefreshToken, acc, "", reason, err)
		return nil, err
	}

	if field, rule := firstViolation(tokenRules{RefreshToken: token}); rule != "" {
		return fail(nil, "validation", deps.Errors.Validation(field, rule))
	}

	acc, reason, err := deps.resolveSession(ctx, token)
	if err != nil {
		if acc.ID == "" {
			return fail(nil, reason, err)
		}
		return fail(&acc, reason, err)
	}
	switch acc.Status {
	case account.StatusActive:
	case account.StatusLocked:
		return fail(&acc, "account_locked", deps.Errors.AccountLocked)
	default:
		return fail(&acc, "account_inactive", deps.Errors.InvalidToken)
	}

	id := identityOf(acc)
	access, accessExp, err := deps.Tokens.CreateAccess(id)
	if err != nil {
		deps.Logger.Error("access token signing failed", zap.Error(err))
		return fail(&acc, "token_error", deps.Errors.EngineNotReady)
	}
	result := &RefreshResult{AccessToken: access, AccessExpiresAt: accessExp}

	if deps.RotateRefreshOnUse {
		refresh, refreshExp, err := deps.Tokens.CreateRefresh(id)
		if err != nil {
			deps.Logger.Error("refresh token signing failed", zap.Error(err))
			return fail(&acc, "token_error", deps.Errors.EngineNotReady)
		}
		hash, err := hashRefreshToken(deps.Hasher, refresh)
		if err != nil {
			return fail(&acc, "hash_error", deps.Errors.EngineNotReady)
		}
		_, err = deps.Store.Update(ctx, acc.ID, account.Update{
			RefreshTokenHash:       account.StringPtr(hash),
			ExpectRefreshTokenHash: acc.RefreshTokenHash,
		})
		if err != nil {
			if errors.Is(err, account.ErrStalePrecondition) || errors.Is(err, account.ErrNotFound) {
				return fail(&acc, "rotated_concurrently", deps.Errors.InvalidToken)
			}
			return fail(&acc, "store_error", deps.storeError(ctx, "rotate_refresh", err))
		}
		result.RefreshToken = refresh
		result.RefreshExpiresAt = refreshExp
	}

	deps.MetricInc(deps.Metrics.RefreshSuccess)
	deps.audit(ctx, audit.ActionRefreshToken, &acc, "", "", nil)
	return result, nil
}

// RunLogout clears the stored refresh hash if token still matches it.
func RunLogout(ctx context.Context, token string, deps SessionDeps) error {
	normalizeBase(&deps.Base)
	if deps.Store == nil || deps.Hasher == nil || deps.Tokens == nil {
		return deps.Errors.EngineNotReady
	}

	token = strings.TrimSpace(token)
	fail := func(acc *account.Account, reason string, err error) error {
		deps.audit(ctx, audit.ActionLogout, acc, "", reason, err)
		return err
	}

	if field, rule := firstViolation(tokenRules{RefreshToken: token}); rule != "" {
		return fail(nil, "validation", deps.Errors.Validation(field, rule))
	}

	acc, reason, err := deps.resolveSession(ctx, token)
	if err != nil {
		if acc.ID == "" {
			return fail(nil, reason, err)
		}
		return fail(&acc, reason, err)
	}

	_, err = deps.Store.Update(ctx, acc.ID, account.Update{
		RefreshTokenHash:       account.StringPtr(""),
		ExpectRefreshTokenHash: acc.RefreshTokenHash,
	})
	if err != nil {
		if errors.Is(err, account.ErrStalePrecondition) || errors.Is(err, account.ErrNotFound) {
			return fail(&acc, "session_changed", deps.Errors.InvalidToken)
		}
		return fail(&acc, "store_error", deps.storeError(ctx, "clear_refresh", err))
	}

	deps.MetricInc(deps.Metrics.Logout)
	deps.audit(ctx, audit.ActionLogout, &acc, "", "", nil)
	return nil
}
