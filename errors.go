package identity

import (
	"errors"
	"fmt"

	"github.com/clinicore/identity/internal/account"
)

// Categories. Every error returned by the engine matches exactly one of
// these or one of the standalone sentinels below under errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrDependency = errors.New("dependency failure")
)

var (
	ErrEmailTaken      = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrAlreadyVerified = fmt.Errorf("%w: account already verified", ErrConflict)

	ErrAccountNotFound       = errors.New("account not found")
	ErrCodeExpired           = errors.New("code expired")
	ErrInvalidCode           = errors.New("invalid code")
	ErrNoPendingVerification = errors.New("no pending verification")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountLocked         = errors.New("account locked")
	ErrAccountUnverified     = errors.New("account unverified")
	ErrInvalidToken          = errors.New("invalid token")
	ErrRateLimited           = errors.New("rate limited")
	ErrEngineNotReady        = errors.New("engine not initialized")

	ErrMailDelivery       = fmt.Errorf("%w: email delivery failed", ErrDependency)
	ErrStoreUnavailable   = fmt.Errorf("%w: account store unavailable", ErrDependency)
	ErrLimiterUnavailable = fmt.Errorf("%w: rate limiter unavailable", ErrDependency)
)

// Errors returned by AccountStore implementations.
var (
	ErrStoreNotFound     = account.ErrNotFound
	ErrStoreDuplicate    = account.ErrEmailTaken
	ErrStalePrecondition = account.ErrStalePrecondition
)

// ValidationError names the first input rule a request violated.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Rule)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CredentialsError reports a wrong password together with the lockout
// state it produced.
type CredentialsError struct {
	Attempts  int
	Remaining int
	Locked    bool
}

func (e *CredentialsError) Error() string {
	if e.Locked {
		return fmt.Sprintf("%s: account locked after %d attempts", ErrInvalidCredentials.Error(), e.Attempts)
	}
	return fmt.Sprintf("%s: %d attempts remaining", ErrInvalidCredentials.Error(), e.Remaining)
}

func (e *CredentialsError) Is(target error) bool {
	return target == ErrInvalidCredentials
}

func newValidationError(field, rule string) error {
	return &ValidationError{Field: field, Rule: rule}
}

func newCredentialsError(attempts, remaining int, locked bool) error {
	return &CredentialsError{Attempts: attempts, Remaining: remaining, Locked: locked}
}

// wrapStoreError keeps the driver error text while matching ErrStoreUnavailable.
func wrapStoreError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func wrapLimiterError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
}
