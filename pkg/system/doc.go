// Package system builds the zap loggers shared by the CLI and the proxy and
// carries request-scoped loggers through gin contexts.
package system
