// Package internal contains helper utilities that are intentionally private to
// the identity module, chiefly secure random code generation and token digests.
//
// # Sub-packages
//
//   - account: the account model shared by flows, engine and stores
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - flows: pure-function flow orchestrators for every Engine operation
//   - httpapi: gin transport for the /auth routes
//   - limiters: Redis-backed fixed-window throttles
//
// # What this package must NOT do
//
//   - Export types that appear in the public identity API, except through aliases.
//   - Be imported by any package outside the identity module.
package internal
