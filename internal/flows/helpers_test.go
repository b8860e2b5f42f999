package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/clinicore/identity/internal/account"
	"github.com/clinicore/identity/jwt"
)

var (
	errNotReady     = errors.New("not ready")
	errNotFound     = errors.New("not found")
	errTaken        = errors.New("taken")
	errVerified     = errors.New("already verified")
	errExpired      = errors.New("expired")
	errInvalidCode  = errors.New("invalid code")
	errNoPending    = errors.New("no pending")
	errLocked       = errors.New("locked")
	errUnverified   = errors.New("unverified")
	errInvalidToken = errors.New("invalid token")
	errMail         = errors.New("mail")
	errRateLimited  = errors.New("rate limited")
	errStore        = errors.New("store unavailable")
)

type validationErr struct{ field, rule string }

func (e *validationErr) Error() string { return e.field + ":" + e.rule }

type credentialsErr struct {
	attempts, remaining int
	locked              bool
}

func (e *credentialsErr) Error() string { return fmt.Sprintf("bad credentials %d", e.attempts) }

func testErrors() ErrorSet {
	return ErrorSet{
		EngineNotReady:        errNotReady,
		AccountNotFound:       errNotFound,
		EmailTaken:            errTaken,
		AlreadyVerified:       errVerified,
		CodeExpired:           errExpired,
		InvalidCode:           errInvalidCode,
		NoPendingVerification: errNoPending,
		AccountLocked:         errLocked,
		AccountUnverified:     errUnverified,
		InvalidToken:          errInvalidToken,
		MailDelivery:          errMail,
		RateLimited:           errRateLimited,
		Validation:            func(f, r string) error { return &validationErr{f, r} },
		Credentials: func(a, r int, l bool) error {
			return &credentialsErr{attempts: a, remaining: r, locked: l}
		},
	}
}

type fakeStore struct {
	mu       sync.Mutex
	accounts map[string]account.Account
	failNext error

	// readDelay stalls FindByEmail after the read, widening the window
	// between a lookup and the write that follows it.
	readDelay time.Duration
	// afterRead runs once FindByEmail has read, outside the lock.
	afterRead func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{accounts: map[string]account.Account{}}
}

func (s *fakeStore) takeFailure() error {
	err := s.failNext
	s.failNext = nil
	return err
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (account.Account, error) {
	a, err := s.findByEmail(email)
	if s.readDelay > 0 {
		time.Sleep(s.readDelay)
	}
	if s.afterRead != nil {
		s.afterRead()
	}
	return a, err
}

func (s *fakeStore) findByEmail(email string) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure(); err != nil {
		return account.Account{}, err
	}
	for _, a := range s.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (s *fakeStore) FindByID(_ context.Context, id string) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return a, nil
}

func (s *fakeStore) Create(_ context.Context, a account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.Email == a.Email {
			return account.Account{}, account.ErrEmailTaken
		}
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *fakeStore) Update(_ context.Context, id string, upd account.Update) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	if !upd.Satisfied(a) {
		return account.Account{}, account.ErrStalePrecondition
	}
	upd.Apply(&a, time.Now())
	s.accounts[id] = a
	return a, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return nil
}

func (s *fakeStore) RecordFailedLogin(_ context.Context, id string, threshold int) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	if a.Status != account.StatusActive {
		return account.Account{}, account.ErrStalePrecondition
	}
	a.FailedAttempts++
	if a.FailedAttempts >= threshold {
		a.Status = account.StatusLocked
	}
	s.accounts[id] = a
	return a, nil
}

func (s *fakeStore) get(t *testing.T, email string) account.Account {
	t.Helper()
	a, err := s.FindByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("account %s missing: %v", email, err)
	}
	return a
}

// plainHasher keeps tests fast; it is not a real hash.
type plainHasher struct{}

func (plainHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("empty")
	}
	return "h:" + secret, nil
}

func (plainHasher) Verify(secret, hash string) (bool, error) {
	if !strings.HasPrefix(hash, "h:") {
		return false, errors.New("bad hash")
	}
	return hash == "h:"+secret, nil
}

// legacyHasher also accepts "old:" hashes and asks for them to be
// replaced.
type legacyHasher struct{ plainHasher }

func (legacyHasher) Verify(secret, hash string) (bool, error) {
	if rest, ok := strings.CutPrefix(hash, "old:"); ok {
		return rest == secret, nil
	}
	return plainHasher{}.Verify(secret, hash)
}

func (legacyHasher) NeedsUpgrade(hash string) (bool, error) {
	return strings.HasPrefix(hash, "old:"), nil
}

type outbox struct {
	mu    sync.Mutex
	codes map[string]string
	fail  bool
}

func (o *outbox) send(_ context.Context, to account.Account, code string, _ time.Duration) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return errors.New("smtp down")
	}
	if o.codes == nil {
		o.codes = map[string]string{}
	}
	o.codes[to.Email] = code
	return nil
}

func (o *outbox) last(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[email]
}

type auditLog struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (l *auditLog) emit(_ context.Context, r AuditRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

func (l *auditLog) actions() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.records))
	for _, r := range l.records {
		state := "ok"
		if !r.Success {
			state = "fail"
		}
		out = append(out, string(r.Action)+":"+state)
	}
	return out
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type harness struct {
	store  *fakeStore
	mail   *outbox
	audit  *auditLog
	clock  *clock
	tokens *jwt.Manager
	seq    int
	codes  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: newFakeStore(),
		mail:  &outbox{},
		audit: &auditLog{},
		clock: &clock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
	}
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     8 * time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("flows-test-secret-flows-test-secret"),
		Now:           h.clock.Now,
	})
	if err != nil {
		t.Fatalf("jwt manager: %v", err)
	}
	h.tokens = m
	return h
}

func (h *harness) base() Base {
	return Base{
		Store: h.store,
		Now:   h.clock.Now,
		NewCode: func() (string, error) {
			h.codes++
			return fmt.Sprintf("%06d", 100000+h.codes*111), nil
		},
		EmitAudit: h.audit.emit,
		Errors:    testErrors(),
	}
}

func (h *harness) registration() RegistrationDeps {
	return RegistrationDeps{
		Base:             h.base(),
		Hasher:           plainHasher{},
		NewID:            func() string { h.seq++; return fmt.Sprintf("acc-%d", h.seq) },
		SendVerification: h.mail.send,
		VerificationTTL:  15 * time.Minute,
		MinAge:           0,
		MaxAge:           100,
		DefaultRole:      "USER",
	}
}

func (h *harness) login() LoginDeps {
	return LoginDeps{
		Base:             h.base(),
		Hasher:           plainHasher{},
		Tokens:           h.tokens,
		SendLoginCode:    h.mail.send,
		LoginCodeTTL:     10 * time.Minute,
		LockoutThreshold: 5,
	}
}

func (h *harness) session() SessionDeps {
	return SessionDeps{Base: h.base(), Hasher: plainHasher{}, Tokens: h.tokens}
}

func (h *harness) reset() PasswordResetDeps {
	return PasswordResetDeps{
		Base:                  h.base(),
		Hasher:                plainHasher{},
		SendPasswordReset:     h.mail.send,
		ResetTTL:              15 * time.Minute,
		UnlockOnPasswordReset: true,
	}
}

// seedActive stores an ACTIVE account with password pw.
func (h *harness) seedActive(email, pw string) account.Account {
	h.seq++
	a := account.Account{
		ID:           fmt.Sprintf("acc-%d", h.seq),
		Email:        email,
		FullName:     "Seeded",
		Role:         "DOCTOR",
		DepartmentID: "cardio",
		PasswordHash: "h:" + pw,
		Status:       account.StatusActive,
	}
	h.store.accounts[a.ID] = a
	return a
}

func assertValidation(t *testing.T, err error, field, rule string) {
	t.Helper()
	var ve *validationErr
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error %s/%s, got %v", field, rule, err)
	}
	if ve.field != field || ve.rule != rule {
		t.Fatalf("expected %s/%s, got %s/%s", field, rule, ve.field, ve.rule)
	}
}
