package identity

import (
	"errors"
	"strings"
	"time"
)

// Config is the complete engine configuration. It is passed once to the
// Builder and treated as immutable afterwards.
type Config struct {
	JWT          JWTConfig
	Password     PasswordConfig
	Codes        CodesConfig
	Lockout      LockoutConfig
	Registration RegistrationConfig
	RateLimit    RateLimitConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string

	// RotateRefreshOnUse makes Refresh return a new refresh token and
	// invalidate the presented one.
	RotateRefreshOnUse bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the password hash. The same hasher protects
// stored refresh-token digests.
type PasswordConfig struct {
	Algorithm   string // "argon2id" (default) or "bcrypt"
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	BcryptCost  int
}

/*
====================================
CODES & POLICY
====================================
*/

// CodesConfig sets the lifetime of each emailed code.
type CodesConfig struct {
	VerificationTTL time.Duration
	LoginCodeTTL    time.Duration
	ResetTTL        time.Duration
}

// LockoutConfig controls progressive lockout.
type LockoutConfig struct {
	Threshold             int
	UnlockOnPasswordReset bool
}

// RegistrationConfig holds sign-up policy.
type RegistrationConfig struct {
	MinAge      int
	MaxAge      int
	DefaultRole string
}

// RateLimitConfig configures the Redis fixed-window throttles. Each Max
// value is the number of calls allowed per Window; zero disables that
// scope.
type RateLimitConfig struct {
	Enabled                  bool
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	Window                   time.Duration
	MaxSignUp                int
	MaxLogin                 int
	MaxVerify                int
	MaxResend                int
	MaxResetRequest          int
	MaxResetConfirm          int
	KeyPrefix                string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled     bool
	BufferSize  int
	DropIfFull  bool
	SinkTimeout time.Duration
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults. JWT keys must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     8 * time.Hour,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "clinicore-identity",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Algorithm:   "argon2id",
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			BcryptCost:  10,
		},
		Codes: CodesConfig{
			VerificationTTL: 15 * time.Minute,
			LoginCodeTTL:    10 * time.Minute,
			ResetTTL:        15 * time.Minute,
		},
		Lockout: LockoutConfig{
			Threshold:             5,
			UnlockOnPasswordReset: true,
		},
		Registration: RegistrationConfig{
			MinAge:      0,
			MaxAge:      100,
			DefaultRole: "USER",
		},
		RateLimit: RateLimitConfig{
			Enabled:                  false,
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			Window:                   15 * time.Minute,
			MaxSignUp:                10,
			MaxLogin:                 20,
			MaxVerify:                10,
			MaxResend:                5,
			MaxResetRequest:          5,
			MaxResetConfirm:          10,
			KeyPrefix:                "idt",
		},
		Audit: AuditConfig{
			Enabled:     true,
			BufferSize:  1024,
			DropIfFull:  true,
			SinkTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be within [0, 2m]")
	}

	// Password
	switch c.Password.Algorithm {
	case "argon2id", "bcrypt":
	default:
		return errors.New("Password Algorithm must be 'argon2id' or 'bcrypt'")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.BcryptCost != 0 && (c.Password.BcryptCost < 4 || c.Password.BcryptCost > 31) {
		return errors.New("Password BcryptCost must be within [4, 31]")
	}

	// Codes
	if c.Codes.VerificationTTL <= 0 || c.Codes.LoginCodeTTL <= 0 || c.Codes.ResetTTL <= 0 {
		return errors.New("Codes TTLs must be > 0")
	}

	// Lockout
	if c.Lockout.Threshold < 1 {
		return errors.New("Lockout Threshold must be >= 1")
	}

	// Registration
	if c.Registration.MinAge < 0 || c.Registration.MaxAge < c.Registration.MinAge {
		return errors.New("Registration age range is invalid")
	}
	if strings.TrimSpace(c.Registration.DefaultRole) == "" {
		return errors.New("Registration DefaultRole must be set")
	}

	// Rate limits
	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
		if !c.RateLimit.EnableIdentifierThrottle && !c.RateLimit.EnableIPThrottle {
			return errors.New("RateLimit requires identifier or IP throttling")
		}
		for _, n := range []int{c.RateLimit.MaxSignUp, c.RateLimit.MaxLogin, c.RateLimit.MaxVerify, c.RateLimit.MaxResend, c.RateLimit.MaxResetRequest, c.RateLimit.MaxResetConfirm} {
			if n < 0 {
				return errors.New("RateLimit maxima must be >= 0")
			}
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	return nil
}
