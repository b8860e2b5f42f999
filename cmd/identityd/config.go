package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	identity "github.com/clinicore/identity"
)

// ServiceConfig is the full process configuration.
type ServiceConfig struct {
	App      AppSettings      `mapstructure:"app"`
	HTTP     HTTPSettings     `mapstructure:"http"`
	Postgres PostgresSettings `mapstructure:"postgres"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Kafka    KafkaSettings    `mapstructure:"kafka"`
	SMTP     SMTPSettings     `mapstructure:"smtp"`
	JWT      JWTSettings      `mapstructure:"jwt"`
	Identity IdentitySettings `mapstructure:"identity"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type HTTPSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PostgresSettings selects the durable store. An empty DSN keeps accounts
// and audit events in memory.
type PostgresSettings struct {
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// RedisSettings enables rate limiting when Addr is set.
type RedisSettings struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

type KafkaSettings struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SMTPSettings selects SMTP delivery when Host is set. Otherwise codes are
// written to the log.
type SMTPSettings struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	From        string        `mapstructure:"from"`
	ImplicitTLS bool          `mapstructure:"implicit_tls"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type JWTSettings struct {
	SigningMethod  string        `mapstructure:"signing_method"`
	Secret         string        `mapstructure:"secret"`
	PrivateKeyFile string        `mapstructure:"private_key_file"`
	PublicKeyFile  string        `mapstructure:"public_key_file"`
	Issuer         string        `mapstructure:"issuer"`
	Audience       string        `mapstructure:"audience"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
	RotateRefresh  bool          `mapstructure:"rotate_refresh"`
}

type IdentitySettings struct {
	PasswordAlgorithm     string        `mapstructure:"password_algorithm"`
	VerificationTTL       time.Duration `mapstructure:"verification_ttl"`
	LoginCodeTTL          time.Duration `mapstructure:"login_code_ttl"`
	ResetTTL              time.Duration `mapstructure:"reset_ttl"`
	LockoutThreshold      int           `mapstructure:"lockout_threshold"`
	UnlockOnPasswordReset bool          `mapstructure:"unlock_on_password_reset"`
	DefaultRole           string        `mapstructure:"default_role"`
	RateLimitWindow       time.Duration `mapstructure:"rate_limit_window"`
	AuditBufferSize       int           `mapstructure:"audit_buffer_size"`
	LatencyHistograms     bool          `mapstructure:"latency_histograms"`
}

// LoadConfig reads defaults, then the optional file at path, then
// IDENTITY_* environment variables.
func LoadConfig(path string) (*ServiceConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("IDENTITY")
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg ServiceConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.HTTP.AllowedOrigins = splitList(cfg.HTTP.AllowedOrigins)
	cfg.HTTP.TrustedProxies = splitList(cfg.HTTP.TrustedProxies)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "identityd")
	v.SetDefault("app.env", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.trusted_proxies", []string{})
	v.SetDefault("http.request_timeout", "30s")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls_enabled", false)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "identity.audit")

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.implicit_tls", false)
	v.SetDefault("smtp.timeout", "10s")

	d := identity.DefaultConfig()
	v.SetDefault("jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.private_key_file", "")
	v.SetDefault("jwt.public_key_file", "")
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", "")
	v.SetDefault("jwt.access_ttl", d.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", d.JWT.RefreshTTL)
	v.SetDefault("jwt.rotate_refresh", d.JWT.RotateRefreshOnUse)

	v.SetDefault("identity.password_algorithm", d.Password.Algorithm)
	v.SetDefault("identity.verification_ttl", d.Codes.VerificationTTL)
	v.SetDefault("identity.login_code_ttl", d.Codes.LoginCodeTTL)
	v.SetDefault("identity.reset_ttl", d.Codes.ResetTTL)
	v.SetDefault("identity.lockout_threshold", d.Lockout.Threshold)
	v.SetDefault("identity.unlock_on_password_reset", d.Lockout.UnlockOnPasswordReset)
	v.SetDefault("identity.default_role", d.Registration.DefaultRole)
	v.SetDefault("identity.rate_limit_window", d.RateLimit.Window)
	v.SetDefault("identity.audit_buffer_size", d.Audit.BufferSize)
	v.SetDefault("identity.latency_histograms", true)
}

// splitList accepts comma separated values coming from a single env var.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// EngineConfig maps the service settings onto the engine configuration.
func (c *ServiceConfig) EngineConfig() (identity.Config, error) {
	cfg := identity.DefaultConfig()

	cfg.JWT.SigningMethod = strings.ToLower(c.JWT.SigningMethod)
	cfg.JWT.Issuer = c.JWT.Issuer
	cfg.JWT.Audience = c.JWT.Audience
	cfg.JWT.AccessTTL = c.JWT.AccessTTL
	cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	cfg.JWT.RotateRefreshOnUse = c.JWT.RotateRefresh

	switch cfg.JWT.SigningMethod {
	case "ed25519":
		if c.JWT.PrivateKeyFile == "" || c.JWT.PublicKeyFile == "" {
			return identity.Config{}, errors.New("ed25519 requires jwt.private_key_file and jwt.public_key_file")
		}
		priv, err := os.ReadFile(c.JWT.PrivateKeyFile)
		if err != nil {
			return identity.Config{}, fmt.Errorf("read jwt private key: %w", err)
		}
		pub, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return identity.Config{}, fmt.Errorf("read jwt public key: %w", err)
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	default:
		cfg.JWT.PrivateKey = []byte(c.JWT.Secret)
	}

	cfg.Password.Algorithm = c.Identity.PasswordAlgorithm
	cfg.Codes.VerificationTTL = c.Identity.VerificationTTL
	cfg.Codes.LoginCodeTTL = c.Identity.LoginCodeTTL
	cfg.Codes.ResetTTL = c.Identity.ResetTTL
	cfg.Lockout.Threshold = c.Identity.LockoutThreshold
	cfg.Lockout.UnlockOnPasswordReset = c.Identity.UnlockOnPasswordReset
	cfg.Registration.DefaultRole = c.Identity.DefaultRole

	cfg.RateLimit.Enabled = c.Redis.Addr != ""
	cfg.RateLimit.Window = c.Identity.RateLimitWindow

	cfg.Audit.BufferSize = c.Identity.AuditBufferSize
	cfg.Metrics.EnableLatencyHistograms = c.Identity.LatencyHistograms

	if err := cfg.Validate(); err != nil {
		return identity.Config{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}
