package cli

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telekom/copilot-gateway/pkg/ratelimit"
	"github.com/telekom/copilot-gateway/pkg/settings"
	"github.com/telekom/copilot-gateway/pkg/telemetry"
	"github.com/telekom/copilot-gateway/pkg/version"
)

// DefaultShutdownTimeout bounds graceful shutdown of the proxy listener.
const DefaultShutdownTimeout = 10 * time.Second

type Config struct {
	// Application flags
	Debug bool

	// Server flags
	ListenAddress   string
	CORSOrigins     []string
	ShutdownTimeout string

	// Rate limiting
	RateLimit float64
	RateBurst int

	// Configuration flags
	ConfigPath string
	Profile    string
	Token      string

	// Tracing
	TracingEnabled      bool
	TracingExporter     string
	TracingEndpoint     string
	TracingInsecure     bool
	TracingSamplingRate float64
}

// Parse parses args (without the program name). Flags default to the
// corresponding COPILOT_PROXY_* environment variables.
func Parse(args []string) (*Config, error) {
	config := &Config{}
	fs := flag.NewFlagSet("copilot-proxy", flag.ContinueOnError)
	defaults := ratelimit.DefaultProxyConfig()

	fs.BoolVar(&config.Debug, "debug", getEnvBool("COPILOT_PROXY_DEBUG", false), "Enable debug level logging")

	fs.StringVar(&config.ListenAddress, "listen-address", getEnvString("COPILOT_PROXY_LISTEN_ADDRESS", "127.0.0.1:8080"),
		"The address the proxy binds to (host:port)")
	var origins string
	fs.StringVar(&origins, "cors-origins", getEnvString("COPILOT_PROXY_CORS_ORIGINS", ""),
		"Comma separated list of allowed CORS origins. Empty disables CORS")
	fs.StringVar(&config.ShutdownTimeout, "shutdown-timeout", getEnvString("COPILOT_PROXY_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout.String()),
		"Grace period for in-flight requests on shutdown (e.g., '10s')")

	fs.Float64Var(&config.RateLimit, "rate-limit", getEnvFloat("COPILOT_PROXY_RATE_LIMIT", defaults.Rate),
		"Requests per second allowed per client IP. 0 disables rate limiting")
	fs.IntVar(&config.RateBurst, "rate-burst", getEnvInt("COPILOT_PROXY_RATE_BURST", defaults.Burst),
		"Burst size of the per client IP rate limiter")

	fs.StringVar(&config.ConfigPath, "config", getEnvString("COPILOTCTL_CONFIG", settings.DefaultConfigPath()),
		"Path to the copilotctl configuration file")
	fs.StringVar(&config.Profile, "profile", getEnvString("COPILOT_PROXY_PROFILE", ""),
		"Credential profile to use. Defaults to the profile in the configuration file")
	fs.StringVar(&config.Token, "token", getEnvString("COPILOT_PROXY_TOKEN", ""),
		"GitHub token to use instead of the stored credential")

	fs.BoolVar(&config.TracingEnabled, "tracing", getEnvBool("COPILOT_PROXY_TRACING", false),
		"Enable OpenTelemetry tracing of proxied and upstream requests")
	fs.StringVar(&config.TracingExporter, "tracing-exporter", getEnvString("COPILOT_PROXY_TRACING_EXPORTER", telemetry.ExporterOTLP),
		"Trace exporter: otlp, stdout or none")
	fs.StringVar(&config.TracingEndpoint, "tracing-endpoint", getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		"OTLP gRPC collector endpoint")
	fs.BoolVar(&config.TracingInsecure, "tracing-insecure", getEnvBool("COPILOT_PROXY_TRACING_INSECURE", false),
		"Disable TLS for the OTLP connection")
	fs.Float64Var(&config.TracingSamplingRate, "tracing-sampling-rate", getEnvFloat("COPILOT_PROXY_TRACING_SAMPLING_RATE", 1),
		"Ratio of traces sampled (0.0-1.0)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	config.CORSOrigins = splitList(origins)
	return config, nil
}

// RateLimitConfig returns the limiter configuration for the proxy routes.
func (c *Config) RateLimitConfig() ratelimit.Config {
	cfg := ratelimit.DefaultProxyConfig()
	cfg.Rate = c.RateLimit
	cfg.Burst = c.RateBurst
	return cfg
}

// TelemetryOptions returns the tracing setup for telemetry.Init.
func (c *Config) TelemetryOptions(log *zap.SugaredLogger) telemetry.Options {
	return telemetry.Options{
		Enabled:        c.TracingEnabled,
		ServiceName:    telemetry.DefaultServiceName,
		ServiceVersion: version.Version,
		Exporter:       c.TracingExporter,
		Endpoint:       c.TracingEndpoint,
		Insecure:       c.TracingInsecure,
		SamplingRate:   c.TracingSamplingRate,
		Logger:         log,
	}
}

func (c *Config) ParseShutdownTimeout(log *zap.SugaredLogger) time.Duration {
	timeout, err := parseDuration("shutdown-timeout", c.ShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		log.Warn(err)
	}
	return timeout
}

func (c *Config) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", c.Debug,
		// Server configuration
		"listen_address", c.ListenAddress,
		"cors_origins", c.CORSOrigins,
		"shutdown_timeout", c.ShutdownTimeout,
		// Rate limiting
		"rate_limit", c.RateLimit,
		"rate_burst", c.RateBurst,
		// Configuration
		"config_path", c.ConfigPath,
		"profile", c.Profile,
		"token_override", c.Token != "",
		// Tracing
		"tracing", c.TracingEnabled,
		"tracing_exporter", c.TracingExporter,
		"tracing_endpoint", c.TracingEndpoint,
	)
}

func parseDuration(name, value string, def time.Duration) (time.Duration, error) {
	duration := def
	if value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			duration = d
		} else {
			return duration, fmt.Errorf("invalid %s %q; using default %s: %w", name, value, def.String(), err)
		}
	}

	return duration, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return defaultVal
}
