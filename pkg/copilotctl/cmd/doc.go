// Package cmd implements the copilotctl command tree: device login and
// token management, model and quota listings, one-shot chat completions,
// request statistics, settings and the local proxy.
package cmd
