// Package ratelimit implements the arena's layered rate limiting.
//
// BurstGuard is a per-remote-address, two-window (per-second, per-minute)
// truncated-bucket counter: a cheap in-process first line of defense
// against pathological per-request bursts, before a request ever reaches
// the authoritative, persisted limiter in dbcounter.go (a Postgres bucket
// counter, also truncated-minute-bucketed, per user id rather than remote
// address). Both must allow a request for it to proceed.
package ratelimit
