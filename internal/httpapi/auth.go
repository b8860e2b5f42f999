package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	identity "github.com/clinicore/identity"
)

// AuthHandler serves the /auth routes.
type AuthHandler struct {
	engine *identity.Engine
}

func NewAuthHandler(engine *identity.Engine) *AuthHandler {
	return &AuthHandler{engine: engine}
}

// RegisterRoutes binds the authentication endpoints.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/sign-up", h.SignUp)
	r.POST("/verify-email", h.VerifyEmail)
	r.POST("/resend-verification", h.ResendVerification)
	r.POST("/sign-in", h.SignIn)
	r.POST("/verify-2fa", h.Verify2FA)
	r.POST("/refresh-token", h.RefreshToken)
	r.POST("/logout", h.Logout)
	r.POST("/password-reset", h.PasswordReset)
	r.POST("/verify-password", h.VerifyPassword)
}

func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	sum, err := h.engine.Register(c.Request.Context(), identity.RegisterRequest{
		Email:       req.Email,
		Password:    req.password(),
		FullName:    req.FullName,
		DateOfBirth: req.DateOfBirth,
	})
	if err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusCreated, AccountResponse{
		Message: "account created, check your email for the verification code",
		User:    sum,
	})
}

func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req verifyEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	sum, err := h.engine.VerifyEmail(c.Request.Context(), req.Email, req.code())
	if err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusOK, AccountResponse{
		Message: "email verified, the account is now active",
		User:    sum,
	})
}

func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	expires, err := h.engine.ResendVerification(c.Request.Context(), req.Email)
	if err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusOK, CodeSentResponse{
		Message:   "a new verification code was sent to your email",
		ExpiresAt: expires,
	})
}

func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	challenge, err := h.engine.Login(c.Request.Context(), req.Email, req.password())
	if err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusOK, CodeSentResponse{
		Message:   "a login code was sent to your email",
		Email:     challenge.Email,
		ExpiresAt: challenge.ExpiresAt,
	})
}

func (h *AuthHandler) Verify2FA(c *gin.Context) {
	var req verify2FARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	res, err := h.engine.VerifyLogin2FA(c.Request.Context(), req.Email, req.Code)
	if err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusOK, LoginResponse{Message: "login successful", LoginResult: res})
}

func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	res, err := h.engine.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusOK, RefreshResponse{Message: "token refreshed", RefreshResult: res})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	if err := h.engine.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "logged out"})
}

func (h *AuthHandler) PasswordReset(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	expires, err := h.engine.RequestPasswordReset(c.Request.Context(), req.Email)
	if err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusOK, CodeSentResponse{
		Message:   "a password reset code was sent to your email",
		ExpiresAt: expires,
	})
}

func (h *AuthHandler) VerifyPassword(c *gin.Context) {
	var req verifyPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadPayload(c, err)
		return
	}

	if err := h.engine.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		respondWithMappedError(c, err, engineErrorCases)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password updated"})
}
