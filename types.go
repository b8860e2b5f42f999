package identity

import (
	"io"
	"time"

	"github.com/clinicore/identity/internal/account"
	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/internal/flows"
)

// Account model.
type (
	Account        = account.Account
	AccountUpdate  = account.Update
	AccountStatus  = account.Status
	AccountSummary = account.Summary
	PendingCode    = account.PendingCode
)

const (
	StatusPending  = account.StatusPending
	StatusActive   = account.StatusActive
	StatusLocked   = account.StatusLocked
	StatusInactive = account.StatusInactive
)

// Flow inputs and results.
type (
	RegisterRequest = flows.RegisterInput
	LoginChallenge  = flows.LoginChallenge
	LoginResult     = flows.LoginResult
	RefreshResult   = flows.RefreshResult
)

// Audit types.
type (
	AuditEvent   = audit.Event
	AuditSink    = audit.Sink
	AuditAction  = audit.Action
	AuditOutcome = audit.Outcome
	AuditFilter  = audit.Filter
	AuditQuerier = audit.Querier

	NoOpSink       = audit.NoOpSink
	ChannelSink    = audit.ChannelSink
	JSONWriterSink = audit.JSONWriterSink
	MultiSink      = audit.MultiSink
	MemorySink     = audit.MemorySink
)

const (
	AuditRegister             = audit.ActionRegister
	AuditVerifyEmail          = audit.ActionVerifyEmail
	AuditResendVerification   = audit.ActionResendVerification
	AuditLogin                = audit.ActionLogin
	AuditAccountLock          = audit.ActionAccountLock
	AuditVerify2FA            = audit.ActionVerify2FA
	AuditRefreshToken         = audit.ActionRefreshToken
	AuditLogout               = audit.ActionLogout
	AuditRequestPasswordReset = audit.ActionRequestPasswordReset
	AuditResetPassword        = audit.ActionResetPassword
	AuditAccountUnlock        = audit.ActionAccountUnlock

	AuditSuccess = audit.OutcomeSuccess
	AuditFailure = audit.OutcomeFailure
)

// NewChannelSink returns a sink that buffers events on a channel.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewMemorySink returns a queryable sink holding the last capacity events.
func NewMemorySink(capacity int) *MemorySink {
	return audit.NewMemorySink(capacity)
}

// NewJSONWriterSink returns a sink that writes one JSON event per line.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// AuthResult is returned by [Engine.ValidateAccess].
type AuthResult struct {
	UserID       string
	Email        string
	Role         string
	DepartmentID string
	ExpiresAt    time.Time
}
