package httpapi

import (
	"time"

	identity "github.com/clinicore/identity"
)

type signUpRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	CurrentPassword string `json:"current_password"`
	FullName        string `json:"fullname"`
	DateOfBirth     string `json:"date_of_birth"`
}

// password accepts both field names used by existing clients.
func (r signUpRequest) password() string {
	if r.Password != "" {
		return r.Password
	}
	return r.CurrentPassword
}

type verifyEmailRequest struct {
	Email            string `json:"email"`
	VerificationCode string `json:"verificationCode"`
	Code             string `json:"code"`
}

func (r verifyEmailRequest) code() string {
	if r.VerificationCode != "" {
		return r.VerificationCode
	}
	return r.Code
}

type emailRequest struct {
	Email string `json:"email"`
}

type signInRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	CurrentPassword string `json:"current_password"`
}

func (r signInRequest) password() string {
	if r.Password != "" {
		return r.Password
	}
	return r.CurrentPassword
}

type verify2FARequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type verifyPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

// MessageResponse is the body of responses without a payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// AccountResponse wraps an account summary.
type AccountResponse struct {
	Message string                  `json:"message"`
	User    identity.AccountSummary `json:"user"`
}

// CodeSentResponse reports when the mailed code stops being valid.
type CodeSentResponse struct {
	Message   string    `json:"message"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// LoginResponse carries the token pair issued after 2FA.
type LoginResponse struct {
	Message string `json:"message"`
	*identity.LoginResult
}

// RefreshResponse carries a new access token.
type RefreshResponse struct {
	Message string `json:"message"`
	*identity.RefreshResult
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadinessResponse lists the state of each dependency check.
type ReadinessResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message"`
	Checks  map[string]string `json:"checks"`
}

// AuditLogsResponse lists audit events newest first.
type AuditLogsResponse struct {
	Message string                `json:"message"`
	Count   int                   `json:"count"`
	Logs    []identity.AuditEvent `json:"logs"`
}
