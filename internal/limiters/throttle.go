package limiters

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrRedisUnavailable = errors.New("rate limiter redis unavailable")
)

// Scope is a throttled operation. Each scope owns its own key namespace.
type Scope string

const (
	ScopeSignUp      Scope = "signup"
	ScopeLogin       Scope = "login"
	ScopeVerify      Scope = "verify"
	ScopeResend      Scope = "resend"
	ScopeResetCode   Scope = "reset"
	ScopeResetVerify Scope = "resetc"
)

// Config holds the fixed-window policy. A scope missing from Max, or with a
// non-positive value, is not throttled.
type Config struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	Window                   time.Duration
	Max                      map[Scope]int
	KeyPrefix                string
}

// Throttle is a Redis fixed-window counter keyed by scope plus email and
// scope plus client IP. A nil *Throttle allows everything.
type Throttle struct {
	redis  redis.UniversalClient
	config Config
}

func NewThrottle(redisClient redis.UniversalClient, cfg Config) *Throttle {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "idt"
	}
	return &Throttle{
		redis:  redisClient,
		config: cfg,
	}
}

// Check counts one attempt for scope and fails with ErrRateLimited once the
// window budget is spent for either the identifier or the IP.
func (t *Throttle) Check(ctx context.Context, scope Scope, identifier, ip string) error {
	if t == nil || t.redis == nil {
		return nil
	}
	limit := t.config.Max[scope]
	if limit <= 0 {
		return nil
	}

	if t.config.EnableIdentifierThrottle && identifier != "" {
		if err := t.enforceFixedWindow(ctx, t.key(scope, "id", strings.ToLower(identifier)), limit); err != nil {
			return err
		}
	}
	if t.config.EnableIPThrottle && ip != "" {
		if err := t.enforceFixedWindow(ctx, t.key(scope, "ip", ip), limit); err != nil {
			return err
		}
	}
	return nil
}

// Reset clears the identifier counter for scope, used after a successful
// login so honest users start from a clean window.
func (t *Throttle) Reset(ctx context.Context, scope Scope, identifier string) error {
	if t == nil || t.redis == nil || identifier == "" {
		return nil
	}
	if err := t.redis.Del(ctx, t.key(scope, "id", strings.ToLower(identifier))).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (t *Throttle) enforceFixedWindow(ctx context.Context, key string, limit int) error {
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	if count == 1 {
		if err := t.redis.Expire(ctx, key, t.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(limit) {
		return ErrRateLimited
	}
	return nil
}

func (t *Throttle) key(scope Scope, kind, value string) string {
	return t.config.KeyPrefix + ":" + string(scope) + ":" + kind + ":" + value
}
