package identity

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/identity/internal/account"
	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/internal/flows"
	"github.com/clinicore/identity/internal/limiters"
	"github.com/clinicore/identity/jwt"
	"github.com/clinicore/identity/password"
)

// Engine runs the identity flows. It is safe for concurrent use once
// built.
type Engine struct {
	config     Config
	store      AccountStore
	mailer     Mailer
	logger     *zap.Logger
	throttle   *limiters.Throttle
	audit      *audit.Dispatcher
	metrics    *Metrics
	hasher     password.Hasher
	jwtManager *jwt.Manager

	now     func() time.Time
	newID   func() string
	newCode func() (string, error)
}

var errNotDelivered = errors.New("message not delivered")

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// ValidateAccess verifies an access token without touching the store.
func (e *Engine) ValidateAccess(_ context.Context, token string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	result := &AuthResult{
		UserID:       claims.UID,
		Email:        claims.Email,
		Role:         claims.Role,
		DepartmentID: claims.DepartmentID,
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Time
	}
	return result, nil
}

func (e *Engine) baseDeps() flows.Base {
	if e == nil {
		return flows.Base{Errors: flowErrors()}
	}

	base := flows.Base{
		Store:               e.store,
		Logger:              e.logger,
		Now:                 e.now,
		NewCode:             e.newCode,
		ClientIPFromContext: clientIPFromContext,
		MapLimiterError:     wrapLimiterError,
		MapStoreError:       wrapStoreError,
		MetricInc: func(id int) {
			e.metricInc(MetricID(id))
		},
		EmitAudit: e.emitAudit,
		Errors:    flowErrors(),
	}
	if e.throttle != nil {
		base.CheckLimiter = e.throttle.Check
	}
	return base
}

func flowErrors() flows.ErrorSet {
	return flows.ErrorSet{
		EngineNotReady:        ErrEngineNotReady,
		AccountNotFound:       ErrAccountNotFound,
		EmailTaken:            ErrEmailTaken,
		AlreadyVerified:       ErrAlreadyVerified,
		CodeExpired:           ErrCodeExpired,
		InvalidCode:           ErrInvalidCode,
		NoPendingVerification: ErrNoPendingVerification,
		AccountLocked:         ErrAccountLocked,
		AccountUnverified:     ErrAccountUnverified,
		InvalidToken:          ErrInvalidToken,
		MailDelivery:          ErrMailDelivery,
		RateLimited:           ErrRateLimited,
		Validation:            newValidationError,
		Credentials:           newCredentialsError,
	}
}

type mailFunc func(ctx context.Context, to Recipient, code string, ttl time.Duration) MailResult

// sendVia adapts a Mailer method to the flows' error contract.
func (e *Engine) sendVia(send mailFunc) flows.SendFunc {
	return func(ctx context.Context, to account.Account, code string, ttl time.Duration) error {
		res := send(ctx, Recipient{Email: to.Email, Name: to.FullName}, code, ttl)
		if res.Delivered {
			return nil
		}
		if res.Err != nil {
			return res.Err
		}
		return errNotDelivered
	}
}

func (e *Engine) hasherDep() password.Hasher {
	if e == nil {
		return nil
	}
	return e.hasher
}

func (e *Engine) tokensDep() flows.TokenSigner {
	if e == nil || e.jwtManager == nil {
		return nil
	}
	return e.jwtManager
}
