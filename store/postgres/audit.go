package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"

	identity "github.com/clinicore/identity"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

var auditColumns = []string{
	"id",
	"created_at",
	"action",
	"outcome",
	"user_id",
	"email",
	"role",
	"reason",
	"error_code",
	"ip",
	"user_agent",
	"metadata",
}

// AuditRepository persists audit events in audit_logs and reads them back
// newest first. It is both an identity.AuditSink and an
// identity.AuditQuerier.
type AuditRepository struct {
	exec    DB
	builder squirrel.StatementBuilderType
	logger  *zap.Logger
}

func NewAuditRepository(db DB, logger *zap.Logger) *AuditRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditRepository{
		exec:    db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		logger:  logger,
	}
}

// Emit inserts ev. Sinks cannot fail the request, so errors are logged.
func (r *AuditRepository) Emit(ctx context.Context, ev identity.AuditEvent) {
	if err := r.Insert(ctx, ev); err != nil {
		r.logger.Error("audit insert failed", zap.String("action", string(ev.Action)), zap.Error(err))
	}
}

func (r *AuditRepository) Insert(ctx context.Context, ev identity.AuditEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var metadata any
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		metadata = raw
	}

	stmt, args, err := r.builder.Insert("audit_logs").
		Columns(auditColumns...).
		Values(
			ev.ID,
			ev.Timestamp,
			string(ev.Action),
			string(ev.Outcome),
			nullable(ev.UserID),
			nullable(ev.Email),
			nullable(ev.Role),
			nullable(ev.Reason),
			nullable(ev.Error),
			nullable(ev.IP),
			nullable(ev.UserAgent),
			metadata,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns events matching f, newest first. Limit defaults to 100 and
// is capped at 1000.
func (r *AuditRepository) Query(ctx context.Context, f identity.AuditFilter) ([]identity.AuditEvent, error) {
	q := r.builder.Select(auditColumns...).From("audit_logs")
	if f.UserID != "" {
		q = q.Where(squirrel.Eq{"user_id": f.UserID})
	}
	if f.Email != "" {
		q = q.Where(squirrel.Eq{"email": f.Email})
	}
	if f.Action != "" {
		q = q.Where(squirrel.Eq{"action": string(f.Action)})
	}
	if f.Outcome != "" {
		q = q.Where(squirrel.Eq{"outcome": string(f.Outcome)})
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	stmt, args, err := q.OrderBy("created_at DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select audit sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []identity.AuditEvent
	for rows.Next() {
		var (
			ev                                           identity.AuditEvent
			action, outcome                              string
			userID, email, role, reason, code, ip, agent *string
			metadata                                     []byte
		)
		if err := rows.Scan(
			&ev.ID,
			&ev.Timestamp,
			&action,
			&outcome,
			&userID,
			&email,
			&role,
			&reason,
			&code,
			&ip,
			&agent,
			&metadata,
		); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		ev.Action = identity.AuditAction(action)
		ev.Outcome = identity.AuditOutcome(outcome)
		ev.UserID = deref(userID)
		ev.Email = deref(email)
		ev.Role = deref(role)
		ev.Reason = deref(reason)
		ev.Error = deref(code)
		ev.IP = deref(ip)
		ev.UserAgent = deref(agent)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
