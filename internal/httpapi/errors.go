package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	identity "github.com/clinicore/identity"
)

// ErrorCase maps a sentinel error to an HTTP status code and message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Message           string `json:"message"`
	Field             string `json:"field,omitempty"`
	Rule              string `json:"rule,omitempty"`
	AttemptsRemaining *int   `json:"attemptsRemaining,omitempty"`
}

// engineErrorCases is checked in order, so the specific dependency
// sentinels come before ErrDependency.
var engineErrorCases = []ErrorCase{
	{Err: identity.ErrEmailTaken, Status: http.StatusConflict, Message: "email already registered"},
	{Err: identity.ErrAlreadyVerified, Status: http.StatusConflict, Message: "account already verified"},
	{Err: identity.ErrAccountNotFound, Status: http.StatusNotFound, Message: "account not found"},
	{Err: identity.ErrCodeExpired, Status: http.StatusBadRequest, Message: "code expired"},
	{Err: identity.ErrInvalidCode, Status: http.StatusBadRequest, Message: "invalid code"},
	{Err: identity.ErrNoPendingVerification, Status: http.StatusBadRequest, Message: "no pending code for this account"},
	{Err: identity.ErrAccountLocked, Status: http.StatusLocked, Message: "account locked"},
	{Err: identity.ErrAccountUnverified, Status: http.StatusForbidden, Message: "account not verified"},
	{Err: identity.ErrInvalidToken, Status: http.StatusUnauthorized, Message: "invalid or expired token"},
	{Err: identity.ErrRateLimited, Status: http.StatusTooManyRequests, Message: "too many requests"},
	{Err: identity.ErrMailDelivery, Status: http.StatusBadGateway, Message: "email delivery failed"},
	{Err: identity.ErrStoreUnavailable, Status: http.StatusServiceUnavailable, Message: "service unavailable"},
	{Err: identity.ErrLimiterUnavailable, Status: http.StatusServiceUnavailable, Message: "service unavailable"},
	{Err: identity.ErrEngineNotReady, Status: http.StatusServiceUnavailable, Message: "service unavailable"},
	{Err: identity.ErrDependency, Status: http.StatusBadGateway, Message: "upstream dependency failed"},
}

// respondWithMappedError writes the response for err. Validation and
// credential errors carry extra fields; everything else goes through
// cases, falling back to 500.
func respondWithMappedError(c *gin.Context, err error, cases []ErrorCase) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}
	_ = c.Error(err)

	var verr *identity.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("invalid %s: %s", verr.Field, verr.Rule),
			Field:   verr.Field,
			Rule:    verr.Rule,
		})
		return
	}

	var cerr *identity.CredentialsError
	if errors.As(err, &cerr) {
		if cerr.Locked {
			c.JSON(http.StatusLocked, ErrorResponse{
				Message: fmt.Sprintf("account locked after %d failed attempts", cerr.Attempts),
			})
			return
		}
		remaining := cerr.Remaining
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message:           "invalid credentials",
			AttemptsRemaining: &remaining,
		})
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, ErrorResponse{Message: cs.Message})
			return
		}
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
}

func respondBadPayload(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request payload"})
}
