// Package memory is an in-process account store for tests, development and
// single-node deployments.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/clinicore/identity/internal/account"
)

// Store keeps accounts in maps guarded by one mutex. Every method is
// atomic with respect to the others.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*account.Account
	byEmail map[string]string
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		byID:    make(map[string]*account.Account),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// clone returns a copy that shares no pointers with the stored record.
func clone(a *account.Account) account.Account {
	out := *a
	if a.PendingCode != nil {
		code := *a.PendingCode
		out.PendingCode = &code
	}
	return out
}

func (s *Store) FindByEmail(ctx context.Context, email string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return clone(s.byID[id]), nil
}

func (s *Store) FindByID(ctx context.Context, id string) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return clone(a), nil
}

func (s *Store) Create(ctx context.Context, a account.Account) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(a.Email)
	if _, exists := s.byEmail[key]; exists {
		return account.Account{}, account.ErrEmailTaken
	}
	if _, exists := s.byID[a.ID]; exists {
		return account.Account{}, account.ErrEmailTaken
	}

	now := s.now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}
	stored := clone(&a)
	s.byID[a.ID] = &stored
	s.byEmail[key] = a.ID
	return clone(&stored), nil
}

func (s *Store) Update(ctx context.Context, id string, upd account.Update) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	if !upd.Satisfied(*a) {
		return account.Account{}, account.ErrStalePrecondition
	}
	upd.Apply(a, s.now())
	return clone(a), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return account.ErrNotFound
	}
	delete(s.byEmail, emailKey(a.Email))
	delete(s.byID, id)
	return nil
}

// RecordFailedLogin increments the failure counter of an ACTIVE account
// and locks it once the counter reaches threshold. Any other status yields
// ErrStalePrecondition and leaves the counter alone.
func (s *Store) RecordFailedLogin(ctx context.Context, id string, threshold int) (account.Account, error) {
	if err := ctx.Err(); err != nil {
		return account.Account{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	if a.Status != account.StatusActive {
		return account.Account{}, account.ErrStalePrecondition
	}
	a.FailedAttempts++
	if threshold > 0 && a.FailedAttempts >= threshold {
		a.Status = account.StatusLocked
	}
	a.UpdatedAt = s.now()
	return clone(a), nil
}

// Len reports the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
