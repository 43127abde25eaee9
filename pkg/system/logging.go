// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ReqLoggerKey is the context key used to store request-scoped logger in gin context.
const ReqLoggerKey = "reqLogger"

// NewLogger builds the process logger: JSON production output, or the
// development console encoder when debug is set. Stacktraces are disabled
// for non-fatal levels and timestamps are RFC3339 UTC under "ts".
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	return cfg.Build()
}

// NewCLILogger returns a quiet console logger for interactive commands:
// warnings only unless verbose is set. Output goes to stderr so it never
// mixes with command output.
func NewCLILogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.DisableCaller = !verbose
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = ""
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// GetReqLogger returns the request-scoped sugared logger from gin.Context if present,
// otherwise returns the fallback.
func GetReqLogger(c *gin.Context, fallback *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return fallback
	}
	if v, ok := c.Get(ReqLoggerKey); ok {
		if l, ok2 := v.(*zap.SugaredLogger); ok2 {
			return l
		}
	}
	return fallback
}

// RequestLogger returns a gin middleware that stores a logger annotated with
// the request ID, method and path under ReqLoggerKey.
func RequestLogger(base *zap.SugaredLogger, requestID func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		fields := []interface{}{"method", c.Request.Method, "path", c.FullPath()}
		if requestID != nil {
			if id := requestID(c); id != "" {
				fields = append(fields, "requestID", id)
			}
		}
		c.Set(ReqLoggerKey, base.With(fields...))
		c.Next()
	}
}
