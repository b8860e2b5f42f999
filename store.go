package identity

import (
	"context"
	"time"
)

// AccountStore persists accounts. Implementations must apply each Update
// atomically, honoring its Expect* guards, and must make
// RecordFailedLogin an atomic increment that only touches an ACTIVE account
// and sets LOCKED once the counter reaches threshold. Any other status
// yields ErrStalePrecondition, so a LOCKED result always marks the call
// that made the transition.
//
// Lookups return ErrStoreNotFound, Create returns ErrStoreDuplicate on an
// existing email and a failed guard yields ErrStalePrecondition.
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	Create(ctx context.Context, a Account) (Account, error)
	Update(ctx context.Context, id string, upd AccountUpdate) (Account, error)
	Delete(ctx context.Context, id string) error
	RecordFailedLogin(ctx context.Context, id string, threshold int) (Account, error)
}

// Recipient addresses an outgoing message.
type Recipient struct {
	Email string
	Name  string
}

// MailResult reports the outcome of a send.
type MailResult struct {
	Delivered bool
	MessageID string
	Err       error
}

// Mailer delivers the three code messages. Failures are reported through
// MailResult, never by panicking.
type Mailer interface {
	SendVerification(ctx context.Context, to Recipient, code string, ttl time.Duration) MailResult
	SendLoginCode(ctx context.Context, to Recipient, code string, ttl time.Duration) MailResult
	SendPasswordReset(ctx context.Context, to Recipient, code string, ttl time.Duration) MailResult
}
