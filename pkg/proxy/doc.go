// Package proxy serves a local OpenAI-compatible HTTP gateway in front of
// the Copilot chat API. Completions go through the retrying executor, the
// device login can be driven over HTTP, and counters are exposed for
// Prometheus.
package proxy
