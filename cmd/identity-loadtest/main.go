// Command identity-loadtest drives the engine in-process and reports
// latency percentiles for the sign-in, refresh and access-validation paths.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	identity "github.com/clinicore/identity"
	otelexport "github.com/clinicore/identity/metrics/export/otel"
	"github.com/clinicore/identity/store/memory"
)

const loadPassword = "L0adTest!"

// codeMailer keeps the latest code per recipient instead of sending it.
type codeMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *codeMailer) keep(to identity.Recipient, code string) identity.MailResult {
	m.mu.Lock()
	m.codes[to.Email] = code
	m.mu.Unlock()
	return identity.MailResult{Delivered: true}
}

func (m *codeMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

func (m *codeMailer) SendVerification(_ context.Context, to identity.Recipient, code string, _ time.Duration) identity.MailResult {
	return m.keep(to, code)
}

func (m *codeMailer) SendLoginCode(_ context.Context, to identity.Recipient, code string, _ time.Duration) identity.MailResult {
	return m.keep(to, code)
}

func (m *codeMailer) SendPasswordReset(_ context.Context, to identity.Recipient, code string, _ time.Duration) identity.MailResult {
	return m.keep(to, code)
}

type accountState struct {
	email   string
	access  string
	refresh string
}

func main() {
	var (
		accounts    = flag.Int("accounts", 200, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 32, "number of concurrent workers")
		ops         = flag.Int("ops", 2000, "operations per phase")
		hasher      = flag.String("hasher", "bcrypt", "password hash: bcrypt or argon2id")
		rateLimit   = flag.Bool("rate-limit", false, "enable the redis throttles")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	cfg := identity.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("identity-loadtest-signing-key-0123456789")
	cfg.Password.Algorithm = *hasher
	cfg.Password.BcryptCost = 4
	cfg.Audit.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = true

	mailer := &codeMailer{codes: make(map[string]string, *accounts)}
	b := identity.New().WithConfig(cfg).WithStore(memory.New()).WithMailer(mailer)

	if *rateLimit {
		client, cleanup, err := redisClient(*redisAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redis: %v\n", err)
			os.Exit(1)
		}
		defer cleanup()

		cfg.RateLimit.Enabled = true
		cfg.RateLimit.MaxSignUp = *accounts * 2
		cfg.RateLimit.MaxLogin = *ops * 2
		cfg.RateLimit.MaxVerify = *ops * 2
		cfg.RateLimit.EnableIPThrottle = false
		b = b.WithConfig(cfg).WithRedis(client)
	}

	engine, err := b.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	states := make([]accountState, *accounts)
	for i := range states {
		st, err := seed(ctx, engine, mailer, fmt.Sprintf("load-%d@test.com", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = st
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		_, err := engine.ValidateAccess(ctx, states[r.Intn(len(states))].access)
		return err
	})
	refreshStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		_, err := engine.Refresh(ctx, states[r.Intn(len(states))].refresh)
		return err
	})
	loginStats := runPhase(*ops, *concurrency, 4271, func(r *rand.Rand) error {
		_, err := engine.Login(ctx, states[r.Intn(len(states))].email, loadPassword)
		return err
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("refresh", refreshStats)
	printStats("login", loginStats)

	if err := reportMetrics(ctx, engine); err != nil {
		fmt.Fprintf(os.Stderr, "metrics: %v\n", err)
	}
}

// reportMetrics collects the engine counters once through the OpenTelemetry
// exporter and prints every non-zero data point.
func reportMetrics(ctx context.Context, engine *identity.Engine) error {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(ctx) }()

	exp, err := otelexport.NewFromEngine(provider.Meter("identity-loadtest"), engine)
	if err != nil {
		return err
	}
	defer exp.Close()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return err
	}

	fmt.Println("---- engine metrics ----")
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			}
			for _, dp := range points {
				if dp.Value == 0 {
					continue
				}
				if le, ok := dp.Attributes.Value("le"); ok {
					fmt.Printf("%s{le=%s} %d\n", m.Name, le.AsString(), dp.Value)
					continue
				}
				fmt.Printf("%s %d\n", m.Name, dp.Value)
			}
		}
	}
	return nil
}

func redisClient(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// seed walks one account through sign-up, verification and 2FA login.
func seed(ctx context.Context, engine *identity.Engine, mailer *codeMailer, email string) (accountState, error) {
	if _, err := engine.Register(ctx, identity.RegisterRequest{
		Email:       email,
		Password:    loadPassword,
		FullName:    "Load Test",
		DateOfBirth: "1990-01-01",
	}); err != nil {
		return accountState{}, fmt.Errorf("register %s: %w", email, err)
	}
	if _, err := engine.VerifyEmail(ctx, email, mailer.code(email)); err != nil {
		return accountState{}, fmt.Errorf("verify %s: %w", email, err)
	}
	if _, err := engine.Login(ctx, email, loadPassword); err != nil {
		return accountState{}, fmt.Errorf("login %s: %w", email, err)
	}
	res, err := engine.VerifyLogin2FA(ctx, email, mailer.code(email))
	if err != nil {
		return accountState{}, fmt.Errorf("2fa %s: %w", email, err)
	}
	return accountState{email: email, access: res.AccessToken, refresh: res.RefreshToken}, nil
}

func runPhase(ops, concurrency int, seedPrime int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedPrime))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
