package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Action names an audited operation.
type Action string

const (
	ActionRegister             Action = "REGISTER"
	ActionVerifyEmail          Action = "VERIFY_EMAIL"
	ActionResendVerification   Action = "RESEND_VERIFICATION"
	ActionLogin                Action = "LOGIN"
	ActionAccountLock          Action = "ACCOUNT_LOCK"
	ActionVerify2FA            Action = "VERIFY_2FA"
	ActionRefreshToken         Action = "REFRESH_TOKEN"
	ActionLogout               Action = "LOGOUT"
	ActionRequestPasswordReset Action = "REQUEST_PASSWORD_RESET"
	ActionResetPassword        Action = "RESET_PASSWORD"
	ActionAccountUnlock        Action = "ACCOUNT_UNLOCK"
)

// Outcome is the terminal result of an audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Event is the canonical audit record.
type Event struct {
	ID        string            `json:"id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Action    Action            `json:"action"`
	Outcome   Outcome           `json:"outcome"`
	UserID    string            `json:"user_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	Role      string            `json:"role,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Error     string            `json:"error,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Success reports whether the event records a successful outcome.
func (e Event) Success() bool {
	return e.Outcome == OutcomeSuccess
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Filter selects stored events. Empty fields match everything.
type Filter struct {
	UserID  string
	Email   string
	Action  Action
	Outcome Outcome
	Limit   int
}

// Match reports whether e passes f.
func (f Filter) Match(e Event) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Email != "" && e.Email != f.Email {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	return true
}

// Querier is implemented by sinks that can read back what they stored.
// Results are ordered newest first.
type Querier interface {
	Query(ctx context.Context, f Filter) ([]Event, error)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(append(data, '\n'))
}

// MultiSink fans every event out to each of its sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// MemorySink keeps the most recent events in memory and serves queries
// over them. When full, the oldest event is overwritten.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemorySink{events: make([]Event, capacity)}
}

func (s *MemorySink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[s.next] = event
	s.next = (s.next + 1) % len(s.events)
	if s.next == 0 {
		s.full = true
	}
}

// Query returns matching events newest first. A zero Limit returns every
// match.
func (s *MemorySink) Query(_ context.Context, f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.events)
	}

	out := make([]Event, 0)
	for i := 0; i < n; i++ {
		idx := (s.next - 1 - i + len(s.events)) % len(s.events)
		e := s.events[idx]
		if !f.Match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
