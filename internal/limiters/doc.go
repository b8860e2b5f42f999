// Package limiters throttles the public auth operations with Redis
// fixed-window counters.
//
// Counters exist per scope (sign-up, login, verify, resend, reset) and per
// email and client IP. Limiters only count; the flows decide what a
// rejection means. A nil *Throttle allows every call.
package limiters
