// Package flows holds the orchestration behind every engine operation:
// registration, email verification, login with emailed second factor,
// refresh, logout and password reset.
//
// Each Run function takes plain values, a context and a Deps struct of
// collaborators and host errors. Flows keep no state between calls; the
// account store is the only place mutable state lives, and every code
// consumption goes through a guarded store update.
package flows
