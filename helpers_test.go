package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/clinicore/identity/store/memory"
)

const testKey = "0123456789abcdef0123456789abcdef"

type sentMail struct {
	kind string
	to   Recipient
	code string
	ttl  time.Duration
}

// fakeMailer records every message. fail makes the next sends report
// non-delivery.
type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (m *fakeMailer) record(kind string, to Recipient, code string, ttl time.Duration) MailResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return MailResult{Delivered: false}
	}
	m.sent = append(m.sent, sentMail{kind: kind, to: to, code: code, ttl: ttl})
	return MailResult{Delivered: true, MessageID: kind}
}

func (m *fakeMailer) SendVerification(_ context.Context, to Recipient, code string, ttl time.Duration) MailResult {
	return m.record("verification", to, code, ttl)
}

func (m *fakeMailer) SendLoginCode(_ context.Context, to Recipient, code string, ttl time.Duration) MailResult {
	return m.record("login", to, code, ttl)
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to Recipient, code string, ttl time.Duration) MailResult {
	return m.record("reset", to, code, ttl)
}

func (m *fakeMailer) setFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

func (m *fakeMailer) last(t *testing.T, kind string) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].kind == kind {
			return m.sent[i]
		}
	}
	t.Fatalf("no %s mail sent", kind)
	return sentMail{}
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testConfig uses bcrypt at its minimum cost so flows stay fast.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte(testKey)
	cfg.Password.Algorithm = "bcrypt"
	cfg.Password.BcryptCost = 4
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Audit.BufferSize = 256
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	mail   *fakeMailer
	sink   *ChannelSink
	clock  *testClock
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	return newTestEnvWithRedis(t, cfg, nil)
}

func newTestEnvWithRedis(t *testing.T, cfg Config, rdb redis.UniversalClient) *testEnv {
	t.Helper()

	clock := newTestClock()
	env := &testEnv{
		store: memory.New(memory.WithClock(clock.Now)),
		mail:  &fakeMailer{},
		sink:  NewChannelSink(1024),
		clock: clock,
	}

	b := New().
		WithConfig(cfg).
		WithStore(env.store).
		WithMailer(env.mail).
		WithAuditSink(env.sink).
		WithLogger(zaptest.NewLogger(t)).
		WithClock(clock.Now)
	if rdb != nil {
		b = b.WithRedis(rdb)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	env.engine = engine
	t.Cleanup(engine.Close)
	return env
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// events closes the engine and returns everything the sink received.
func (env *testEnv) events() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func (env *testEnv) register(t *testing.T, email, pw string) AccountSummary {
	t.Helper()
	sum, err := env.engine.Register(context.Background(), RegisterRequest{
		Email:       email,
		Password:    pw,
		FullName:    "Alice Example",
		DateOfBirth: "1990-05-14",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return sum
}

// activate registers and verifies an account.
func (env *testEnv) activate(t *testing.T, email, pw string) AccountSummary {
	t.Helper()
	env.register(t, email, pw)
	code := env.mail.last(t, "verification").code
	sum, err := env.engine.VerifyEmail(context.Background(), email, code)
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	return sum
}

// signIn runs password login and 2FA.
func (env *testEnv) signIn(t *testing.T, email, pw string) *LoginResult {
	t.Helper()
	if _, err := env.engine.Login(context.Background(), email, pw); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	res, err := env.engine.VerifyLogin2FA(context.Background(), email, env.mail.last(t, "login").code)
	if err != nil {
		t.Fatalf("VerifyLogin2FA failed: %v", err)
	}
	return res
}
