// Package copilot is a client for the GitHub Copilot chat API and the
// GitHub endpoints that report Copilot subscription and quota data.
// Chat completions go through retry.Executor; catalog and usage calls are
// single attempts.
package copilot
