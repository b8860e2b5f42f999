package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	identity "github.com/clinicore/identity"
	"github.com/clinicore/identity/auditsink"
	"github.com/clinicore/identity/internal/httpapi"
	"github.com/clinicore/identity/mail"
	promexport "github.com/clinicore/identity/metrics/export/prometheus"
	"github.com/clinicore/identity/store/memory"
	"github.com/clinicore/identity/store/postgres"
)

type app struct {
	cfg    *ServiceConfig
	logger *zap.Logger

	engine  *identity.Engine
	handler http.Handler

	pool  *pgxpool.Pool
	redis *redis.Client
	kafka *auditsink.KafkaSink
}

func newApp(ctx context.Context, cfg *ServiceConfig, logger *zap.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, err
	}

	readiness := map[string]httpapi.ReadinessCheck{}
	sinks := identity.MultiSink{auditsink.NewLoggerSink(logger)}

	var (
		store   identity.AccountStore
		querier identity.AuditQuerier
	)
	if cfg.Postgres.DSN != "" {
		a.pool, err = postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.Migrate {
			if err = postgres.Migrate(ctx, a.pool); err != nil {
				return nil, err
			}
		}
		repo := postgres.NewAuditRepository(a.pool, logger)
		store = postgres.NewAccountStore(a.pool)
		querier = repo
		sinks = append(sinks, repo)
		readiness["postgres"] = a.pool.Ping
		logger.Info("postgres store ready")
	} else {
		mem := identity.NewMemorySink(4096)
		store = memory.New()
		querier = mem
		sinks = append(sinks, mem)
		logger.Warn("postgres.dsn not set, accounts are kept in memory")
	}

	if cfg.Redis.Addr != "" {
		opts := &redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}
		if cfg.Redis.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		a.redis = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		readiness["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
		logger.Info("redis rate limiting enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kcfg := auditsink.KafkaConfig{
			Brokers:     cfg.Kafka.Brokers,
			Topic:       cfg.Kafka.Topic,
			Service:     cfg.App.Name,
			Environment: cfg.App.Env,
		}
		var producer sarama.AsyncProducer
		producer, err = auditsink.NewKafkaProducer(kcfg)
		if err != nil {
			return nil, err
		}
		a.kafka, err = auditsink.NewKafkaSink(producer, kcfg, logger)
		if err != nil {
			_ = producer.Close()
			return nil, err
		}
		sinks = append(sinks, a.kafka)
		logger.Info("kafka audit sink enabled", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	var mailer identity.Mailer
	if cfg.SMTP.Host != "" {
		mailer, err = mail.NewSMTPSender(mail.SMTPConfig{
			Host:        cfg.SMTP.Host,
			Port:        cfg.SMTP.Port,
			Username:    cfg.SMTP.Username,
			Password:    cfg.SMTP.Password,
			From:        cfg.SMTP.From,
			ImplicitTLS: cfg.SMTP.ImplicitTLS,
			Timeout:     cfg.SMTP.Timeout,
		}, mail.WithLogger(logger))
		if err != nil {
			return nil, err
		}
	} else {
		mailer = mail.NewLogSender(logger)
		logger.Warn("smtp.host not set, codes are written to the log")
	}

	b := identity.New().
		WithConfig(engineCfg).
		WithStore(store).
		WithMailer(mailer).
		WithAuditSink(sinks).
		WithLogger(logger)
	if a.redis != nil {
		b = b.WithRedis(a.redis)
	}
	a.engine, err = b.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	router := httpapi.NewRouter(httpapi.Dependencies{
		Engine:         a.engine,
		Logger:         logger,
		Audit:          querier,
		Metrics:        promexport.NewPrometheusExporter(a.engine).Handler(),
		Readiness:      readiness,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Release:        cfg.App.Env == "production",
	})
	a.handler = http.TimeoutHandler(router, cfg.HTTP.RequestTimeout, `{"message":"request timed out"}`)

	return a, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *app) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.HTTP.Host, strconv.Itoa(a.cfg.HTTP.Port)),
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      a.cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting identity API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		a.logger.Info("identity API stopped")
		return nil
	case err := <-serverErrCh:
		return err
	}
}

// Close flushes audit events, then releases every connection.
func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("kafka sink close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
