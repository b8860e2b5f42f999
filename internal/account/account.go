// Package account holds the account model shared by the engine, the flows
// and the store implementations.
package account

import (
	"errors"
	"time"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusLocked   Status = "LOCKED"
	StatusInactive Status = "INACTIVE"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusLocked, StatusInactive:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned by stores when no account matches.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned by stores when Create hits an existing email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrStalePrecondition is returned by stores when an Update guard no longer holds.
	ErrStalePrecondition = errors.New("account changed concurrently")
)

// PendingCode is the single one-time secret slot of an account. It backs
// email verification, login 2FA and password reset alike.
type PendingCode struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the code is past its expiry at now.
func (p PendingCode) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// Account is the persisted identity record.
type Account struct {
	ID               string
	Email            string
	FullName         string
	DateOfBirth      time.Time
	Role             string
	DepartmentID     string
	PasswordHash     string
	Status           Status
	PendingCode      *PendingCode
	FailedAttempts   int
	RefreshTokenHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasPendingCode reports whether a code is currently outstanding.
func (a Account) HasPendingCode() bool {
	return a.PendingCode != nil && a.PendingCode.Value != ""
}

// Summary is the public view of an account. It never carries secrets.
type Summary struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FullName     string `json:"fullname"`
	Role         string `json:"role"`
	DepartmentID string `json:"departmentId,omitempty"`
	Status       Status `json:"status"`
}

// Summary returns the public view of a.
func (a Account) Summary() Summary {
	return Summary{
		ID:           a.ID,
		Email:        a.Email,
		FullName:     a.FullName,
		Role:         a.Role,
		DepartmentID: a.DepartmentID,
		Status:       a.Status,
	}
}

// Update is a partial, optionally guarded, account mutation. Stores apply
// every set field in a single atomic write.
type Update struct {
	Status       *Status
	PasswordHash *string

	// SetPendingCode replaces the outstanding code. ClearPendingCode removes it.
	SetPendingCode   *PendingCode
	ClearPendingCode bool

	ResetFailedAttempts bool

	// RefreshTokenHash replaces the stored hash; an empty value clears it.
	RefreshTokenHash *string

	// ExpectPendingCode, when non-empty, makes the update conditional on the
	// stored code value. ExpectRefreshTokenHash and ExpectPasswordHash do the
	// same for the stored refresh and password hashes. A failed guard yields
	// ErrStalePrecondition.
	ExpectPendingCode      string
	ExpectRefreshTokenHash string
	ExpectPasswordHash     string
}

// Apply mutates a in place. It does not evaluate the guards.
func (u Update) Apply(a *Account, now time.Time) {
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.PasswordHash != nil {
		a.PasswordHash = *u.PasswordHash
	}
	if u.ClearPendingCode {
		a.PendingCode = nil
	}
	if u.SetPendingCode != nil {
		code := *u.SetPendingCode
		a.PendingCode = &code
	}
	if u.ResetFailedAttempts {
		a.FailedAttempts = 0
	}
	if u.RefreshTokenHash != nil {
		a.RefreshTokenHash = *u.RefreshTokenHash
	}
	a.UpdatedAt = now
}

// Satisfied reports whether the guards of u hold for a.
func (u Update) Satisfied(a Account) bool {
	if u.ExpectPendingCode != "" {
		if a.PendingCode == nil || a.PendingCode.Value != u.ExpectPendingCode {
			return false
		}
	}
	if u.ExpectRefreshTokenHash != "" && a.RefreshTokenHash != u.ExpectRefreshTokenHash {
		return false
	}
	if u.ExpectPasswordHash != "" && a.PasswordHash != u.ExpectPasswordHash {
		return false
	}
	return true
}

// StatusPtr and StringPtr are helpers for building Update values.
func StatusPtr(s Status) *Status { return &s }

func StringPtr(s string) *string { return &s }
