package main

import (
	"context"
	"math/rand"
	"testing"
	"time"

	identity "github.com/clinicore/identity"
	"github.com/clinicore/identity/store/memory"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}

	if got := percentile(samples, 50); got != 50*time.Millisecond {
		t.Fatalf("p50 = %s", got)
	}
	if got := percentile(samples, 0); got != time.Millisecond {
		t.Fatalf("p0 = %s", got)
	}
	if got := percentile(samples, 100); got != 100*time.Millisecond {
		t.Fatalf("p100 = %s", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %s", got)
	}
}

func TestRunPhaseCountsEveryOp(t *testing.T) {
	calls := 0
	stats := runPhase(50, 1, 1, func(r *rand.Rand) error {
		calls++
		if calls%10 == 0 {
			return errTest
		}
		return nil
	})

	if stats.ops != 50 || calls != 50 {
		t.Fatalf("expected 50 ops, got %d (calls %d)", stats.ops, calls)
	}
	if stats.failures != 5 {
		t.Fatalf("expected 5 failures, got %d", stats.failures)
	}
}

type testError string

func (e testError) Error() string { return string(e) }

const errTest = testError("boom")

func TestSeedAndReportMetrics(t *testing.T) {
	cfg := identity.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("identity-loadtest-signing-key-0123456789")
	cfg.Password.Algorithm = "bcrypt"
	cfg.Password.BcryptCost = 4
	cfg.Audit.Enabled = false

	mailer := &codeMailer{codes: map[string]string{}}
	engine, err := identity.New().WithConfig(cfg).WithStore(memory.New()).WithMailer(mailer).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	st, err := seed(ctx, engine, mailer, "load-0@test.com")
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if st.access == "" || st.refresh == "" {
		t.Fatalf("seed returned empty tokens: %+v", st)
	}
	if _, err := engine.ValidateAccess(ctx, st.access); err != nil {
		t.Fatalf("seeded access token rejected: %v", err)
	}
	if err := reportMetrics(ctx, engine); err != nil {
		t.Fatalf("reportMetrics failed: %v", err)
	}
}
