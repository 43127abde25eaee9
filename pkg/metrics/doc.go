// Package metrics defines Prometheus metrics for the gateway, covering
// upstream completions, retries, device authorization and the local proxy.
package metrics
