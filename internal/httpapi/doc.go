// Package httpapi exposes the identity engine over gin.
//
// Routes:
//
//	POST /auth/sign-up
//	POST /auth/verify-email
//	POST /auth/resend-verification
//	POST /auth/sign-in
//	POST /auth/verify-2fa
//	POST /auth/refresh-token
//	POST /auth/logout
//	POST /auth/password-reset
//	POST /auth/verify-password
//	GET  /health
//	GET  /ready
//	GET  /audit-logs   (ADMIN access token)
//	GET  /metrics
//
// Every JSON response carries a message field. Engine errors are mapped to
// status codes by the table in errors.go.
package httpapi
