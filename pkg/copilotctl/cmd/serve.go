package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/copilot-gateway/pkg/proxy"
	"github.com/telekom/copilot-gateway/pkg/ratelimit"
	"github.com/telekom/copilot-gateway/pkg/system"
	"github.com/telekom/copilot-gateway/pkg/telemetry"
	"github.com/telekom/copilot-gateway/pkg/version"
)

func NewServeCommand() *cobra.Command {
	var (
		listenAddress   string
		corsOrigins     []string
		rateLimit       float64
		rateBurst       int
		shutdownTimeout time.Duration
		tracing         telemetry.Options
	)
	defaults := ratelimit.DefaultProxyConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local OpenAI-compatible proxy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			logger, err := system.NewLogger(rt.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			tracing.ServiceVersion = version.Version
			tracing.Logger = logger.Sugar()
			_, shutdownTracing, err := telemetry.Init(cmd.Context(), tracing)
			if err != nil {
				return err
			}
			defer func() { _ = shutdownTracing(context.WithoutCancel(cmd.Context())) }()

			limit := defaults
			limit.Rate = rateLimit
			limit.Burst = rateBurst
			server := proxy.NewServer(logger, proxy.Config{
				ListenAddress:   listenAddress,
				CORSOrigins:     corsOrigins,
				RateLimit:       limit,
				AuthRateLimit:   ratelimit.DefaultAuthConfig(),
				ShutdownTimeout: shutdownTimeout,
				Debug:           rt.verbose,
			}, *deps)
			defer server.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listenAddress, "listen-address", "127.0.0.1:8080", "Address the proxy binds to (host:port)")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origins", nil, "Allowed CORS origins")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", defaults.Rate, "Requests per second allowed per client IP (0 disables)")
	cmd.Flags().IntVar(&rateBurst, "rate-burst", defaults.Burst, "Burst size of the per client IP rate limiter")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	cmd.Flags().BoolVar(&tracing.Enabled, "tracing", false, "Enable OpenTelemetry tracing")
	cmd.Flags().StringVar(&tracing.Exporter, "tracing-exporter", telemetry.ExporterOTLP, "Trace exporter: otlp, stdout or none")
	cmd.Flags().StringVar(&tracing.Endpoint, "tracing-endpoint", "localhost:4317", "OTLP gRPC collector endpoint")
	cmd.Flags().BoolVar(&tracing.Insecure, "tracing-insecure", false, "Disable TLS for the OTLP connection")
	cmd.Flags().Float64Var(&tracing.SamplingRate, "tracing-sampling-rate", 1, "Ratio of traces sampled (0.0-1.0)")
	return cmd
}
