package identity

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/internal/flows"
)

// AuditErrorCode is the stable error label stored on failed audit events.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation"
	auditErrConflict           AuditErrorCode = "conflict"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrCodeExpired        AuditErrorCode = "code_expired"
	auditErrInvalidCode        AuditErrorCode = "invalid_code"
	auditErrNoPendingCode      AuditErrorCode = "no_pending_code"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrMailDelivery       AuditErrorCode = "mail_delivery"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrCanceled           AuditErrorCode = "canceled"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(ctx context.Context, rec flows.AuditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		Action:    rec.Action,
		Outcome:   audit.OutcomeSuccess,
		UserID:    rec.UserID,
		Email:     rec.Email,
		Role:      rec.Role,
		Reason:    rec.Reason,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
	}
	if !rec.Success {
		event.Outcome = audit.OutcomeFailure
	}
	if code := auditErrorCode(rec.Err); code != "" {
		event.Error = string(code)
	}

	var ce *CredentialsError
	if errors.As(rec.Err, &ce) {
		event.Metadata = map[string]string{
			"attempts":  strconv.Itoa(ce.Attempts),
			"remaining": strconv.Itoa(ce.Remaining),
		}
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return auditErrCanceled
	case errors.Is(err, ErrValidation):
		return auditErrValidation
	case errors.Is(err, ErrConflict):
		return auditErrConflict
	case errors.Is(err, ErrAccountNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrInvalidCode):
		return auditErrInvalidCode
	case errors.Is(err, ErrNoPendingVerification):
		return auditErrNoPendingCode
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrMailDelivery):
		return auditErrMailDelivery
	case errors.Is(err, ErrDependency):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
