// Package ratelimit throttles unauthenticated auth endpoints with a
// Redis-backed token bucket.
//
// Buckets live in Redis so every forum node shares the same budget per
// client address. The bucket arithmetic runs in a Lua script, making each
// check a single atomic round trip. When Redis is unreachable the limiter
// fails open: account lockout in the auth package still bounds password
// guessing per account.
package ratelimit
