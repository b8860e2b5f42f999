package flows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/identity/internal/account"
	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/internal/limiters"
)

// Store is the persistence the flows need. The root AccountStore has the
// same method set.
type Store interface {
	FindByEmail(ctx context.Context, email string) (account.Account, error)
	FindByID(ctx context.Context, id string) (account.Account, error)
	Create(ctx context.Context, a account.Account) (account.Account, error)
	Update(ctx context.Context, id string, upd account.Update) (account.Account, error)
	Delete(ctx context.Context, id string) error
	RecordFailedLogin(ctx context.Context, id string, threshold int) (account.Account, error)
}

// SendFunc delivers a code to an account holder. A non-nil error means the
// message was not handed off.
type SendFunc func(ctx context.Context, to account.Account, code string, ttl time.Duration) error

// AuditRecord is what a flow knows about an outcome. The engine adds the
// request context (IP, user agent, timestamp) before dispatching.
type AuditRecord struct {
	Action  audit.Action
	Success bool
	UserID  string
	Email   string
	Role    string
	Reason  string
	Err     error
}

// ErrorSet carries the host package's public errors so flows can return
// them without importing the host.
type ErrorSet struct {
	EngineNotReady        error
	AccountNotFound       error
	EmailTaken            error
	AlreadyVerified       error
	CodeExpired           error
	InvalidCode           error
	NoPendingVerification error
	AccountLocked         error
	AccountUnverified     error
	InvalidToken          error
	MailDelivery          error
	RateLimited           error

	Validation  func(field, rule string) error
	Credentials func(attempts, remaining int, locked bool) error
}

// Base holds the dependencies every flow shares.
type Base struct {
	Store  Store
	Logger *zap.Logger

	Now                 func() time.Time
	NewCode             func() (string, error)
	ClientIPFromContext func(context.Context) string
	CheckLimiter        func(ctx context.Context, scope limiters.Scope, email, ip string) error
	MapLimiterError     func(error) error
	MapStoreError       func(error) error
	MetricInc           func(int)
	EmitAudit           func(context.Context, AuditRecord)

	Errors ErrorSet
}

func normalizeBase(b *Base) {
	if b.Logger == nil {
		b.Logger = zap.NewNop()
	}
	if b.Now == nil {
		b.Now = time.Now
	}
	if b.ClientIPFromContext == nil {
		b.ClientIPFromContext = func(context.Context) string { return "" }
	}
	if b.CheckLimiter == nil {
		b.CheckLimiter = func(context.Context, limiters.Scope, string, string) error { return nil }
	}
	if b.MapLimiterError == nil {
		b.MapLimiterError = func(err error) error { return err }
	}
	if b.MapStoreError == nil {
		b.MapStoreError = func(err error) error { return err }
	}
	if b.MetricInc == nil {
		b.MetricInc = func(int) {}
	}
	if b.EmitAudit == nil {
		b.EmitAudit = func(context.Context, AuditRecord) {}
	}
	if b.Errors.Validation == nil {
		b.Errors.Validation = func(field, rule string) error { return errors.New(field + ": " + rule) }
	}
	if b.Errors.Credentials == nil {
		invalid := b.Errors.InvalidCode
		b.Errors.Credentials = func(int, int, bool) error { return invalid }
	}
}

func (b *Base) ready() bool {
	return b.Store != nil && b.NewCode != nil
}

// throttle runs the limiter for scope and converts its error.
func (b *Base) throttle(ctx context.Context, scope limiters.Scope, email string, rateLimitedMetric int) error {
	err := b.CheckLimiter(ctx, scope, email, b.ClientIPFromContext(ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, limiters.ErrRateLimited) {
		b.MetricInc(rateLimitedMetric)
		return b.Errors.RateLimited
	}
	return b.MapLimiterError(err)
}

// lookup loads an account by email and maps store errors. Not-found maps to
// Errors.AccountNotFound.
func (b *Base) lookup(ctx context.Context, email string) (account.Account, error) {
	acc, err := b.Store.FindByEmail(ctx, email)
	if err == nil {
		return acc, nil
	}
	if errors.Is(err, account.ErrNotFound) {
		return account.Account{}, b.Errors.AccountNotFound
	}
	return account.Account{}, b.storeError(ctx, "find_by_email", err)
}

func (b *Base) storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	b.Logger.Error("account store failure", zap.String("op", op), zap.Error(err))
	return b.MapStoreError(err)
}

func (b *Base) audit(ctx context.Context, action audit.Action, acc *account.Account, email, reason string, err error) {
	rec := AuditRecord{Action: action, Success: err == nil, Email: email, Reason: reason, Err: err}
	if acc != nil {
		rec.UserID = acc.ID
		rec.Email = acc.Email
		rec.Role = acc.Role
	}
	b.EmitAudit(ctx, rec)
}

// issueCode stores a fresh code with ttl on acc and returns it.
func (b *Base) issueCode(ctx context.Context, acc account.Account, ttl time.Duration) (account.PendingCode, error) {
	value, err := b.NewCode()
	if err != nil {
		return account.PendingCode{}, b.Errors.EngineNotReady
	}
	code := account.PendingCode{Value: value, ExpiresAt: b.Now().Add(ttl)}
	if _, err := b.Store.Update(ctx, acc.ID, account.Update{SetPendingCode: &code}); err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return account.PendingCode{}, b.Errors.AccountNotFound
		}
		return account.PendingCode{}, b.storeError(ctx, "set_pending_code", err)
	}
	return code, nil
}

// checkCode compares the presented code with the pending one. Expiry is
// checked before equality.
func (b *Base) checkCode(acc account.Account, presented string) (string, error) {
	if !acc.HasPendingCode() {
		return "no_pending_code", b.Errors.NoPendingVerification
	}
	if acc.PendingCode.Expired(b.Now()) {
		return "code_expired", b.Errors.CodeExpired
	}
	if acc.PendingCode.Value != presented {
		return "invalid_code", b.Errors.InvalidCode
	}
	return "", nil
}

// consume applies upd guarded on the pending code. A lost race surfaces as
// NoPendingVerification.
func (b *Base) consume(ctx context.Context, acc account.Account, upd account.Update) (account.Account, error) {
	upd.ExpectPendingCode = acc.PendingCode.Value
	upd.ClearPendingCode = true
	updated, err := b.Store.Update(ctx, acc.ID, upd)
	if err == nil {
		return updated, nil
	}
	switch {
	case errors.Is(err, account.ErrStalePrecondition):
		return account.Account{}, b.Errors.NoPendingVerification
	case errors.Is(err, account.ErrNotFound):
		return account.Account{}, b.Errors.AccountNotFound
	}
	return account.Account{}, b.storeError(ctx, "consume_code", err)
}
