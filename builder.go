package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicore/identity/internal"
	"github.com/clinicore/identity/internal/audit"
	"github.com/clinicore/identity/internal/limiters"
	"github.com/clinicore/identity/jwt"
	"github.com/clinicore/identity/password"
)

// Builder assembles an Engine. A Builder can be built once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     AccountStore
	mailer    Mailer
	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client used by the throttles. It is required when
// RateLimit.Enabled is set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithStore(store AccountStore) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithMailer(mailer Mailer) *Builder {
	b.mailer = mailer
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for code expiry and token timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("account store required")
	}
	if b.mailer == nil {
		return nil, errors.New("mailer required")
	}
	if cfg.RateLimit.Enabled && b.redis == nil {
		return nil, errors.New("RateLimit requires redis client")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := &Engine{
		config:  cloneConfig(cfg),
		store:   b.store,
		mailer:  b.mailer,
		logger:  logger.Named("identity"),
		now:     now,
		newID:   uuid.NewString,
		newCode: internal.NewCode,
	}

	if cfg.RateLimit.Enabled {
		engine.throttle = limiters.NewThrottle(b.redis, limiters.Config{
			EnableIdentifierThrottle: cfg.RateLimit.EnableIdentifierThrottle,
			EnableIPThrottle:         cfg.RateLimit.EnableIPThrottle,
			Window:                   cfg.RateLimit.Window,
			KeyPrefix:                cfg.RateLimit.KeyPrefix,
			Max: map[limiters.Scope]int{
				limiters.ScopeSignUp:      cfg.RateLimit.MaxSignUp,
				limiters.ScopeLogin:       cfg.RateLimit.MaxLogin,
				limiters.ScopeVerify:      cfg.RateLimit.MaxVerify,
				limiters.ScopeResend:      cfg.RateLimit.MaxResend,
				limiters.ScopeResetCode:   cfg.RateLimit.MaxResetRequest,
				limiters.ScopeResetVerify: cfg.RateLimit.MaxResetConfirm,
			},
		})
	}

	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:     cfg.Audit.Enabled,
		BufferSize:  cfg.Audit.BufferSize,
		DropIfFull:  cfg.Audit.DropIfFull,
		SinkTimeout: cfg.Audit.SinkTimeout,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	hasher, err := password.New(password.Options{
		Algorithm: cfg.Password.Algorithm,
		Argon2: password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
		BcryptCost: cfg.Password.BcryptCost,
	})
	if err != nil {
		engine.audit.Close()
		return nil, err
	}
	engine.hasher = hasher

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
		Now:           now,
	})
	if err != nil {
		engine.audit.Close()
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}
