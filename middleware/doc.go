// Package middleware exposes net/http guards built on
// identity.Engine.ValidateAccess.
//
// # Guards
//
//   - [RequireAccess] verifies the bearer access token and injects the
//     resulting [identity.AuthResult] into the request context.
//   - [RequireRole] admits only callers whose role is listed.
//   - [RequireDepartment] admits only callers from a listed department.
//
// RequireRole and RequireDepartment must run behind RequireAccess.
//
// The guards never parse JWTs or touch the account store themselves. Every
// rejection is a JSON body with a single message field.
package middleware
