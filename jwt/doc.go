// Package jwt signs and verifies the access and refresh tokens handed out
// after a successful login. Both token types share one key set and are told
// apart by the typ claim.
package jwt
