// Package postgres stores accounts and audit events in PostgreSQL through a
// pgx pool. Schema changes are embedded goose migrations applied by
// Migrate.
package postgres
