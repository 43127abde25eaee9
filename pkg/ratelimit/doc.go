// Package ratelimit provides per-client-IP token-bucket rate limiting
// middleware for the gin proxy, with automatic stale-entry cleanup.
package ratelimit
