// Package identity is the account and session core of the hospital
// records backend.
//
// An [Engine] is assembled with [New]...[Builder.Build] and runs the
// identity flows: registration with email verification, password login
// gated by an emailed one-time code, progressive lockout, access and
// refresh JWT issuance with a single stored refresh hash, refresh, logout
// and password reset.
//
// Persistence, mail delivery and audit output are injected through
// [AccountStore], [Mailer] and [AuditSink]. The flows themselves live in
// internal/flows and never see HTTP; transport lives in internal/httpapi.
//
// Engine methods are safe to call from multiple goroutines after Build.
// Every mutable field lives in the AccountStore, and code consumption and
// logout are conditional updates, so two racing requests against the same
// one-time code cannot both succeed.
package identity
