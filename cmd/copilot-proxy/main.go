package main

import (
	"context"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/telekom/copilot-gateway/pkg/cli"
	"github.com/telekom/copilot-gateway/pkg/proxy"
	"github.com/telekom/copilot-gateway/pkg/ratelimit"
	"github.com/telekom/copilot-gateway/pkg/settings"
	"github.com/telekom/copilot-gateway/pkg/system"
	"github.com/telekom/copilot-gateway/pkg/telemetry"
	"github.com/telekom/copilot-gateway/pkg/version"
)

func main() {
	cfg, err := cli.Parse(os.Args[1:])
	if err != nil {
		stdlog.Fatalf("invalid arguments: %v", err)
	}

	zl, err := system.NewLogger(cfg.Debug)
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()
	log.Infow("Starting copilot proxy", "version", version.Version, "commit", version.GitCommit)
	cfg.Print(log)

	_, shutdownTracing, err := telemetry.Init(context.Background(), cfg.TelemetryOptions(log))
	if err != nil {
		log.Fatalf("Error initializing tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warnw("Failed to flush traces", "error", err)
		}
	}()

	store, err := settings.Open(cfg.ConfigPath, log)
	if err != nil {
		log.Fatalf("Error loading settings: %v", err)
	}
	defer func() {
		if err := store.Flush(); err != nil {
			log.Warnw("Failed to persist settings", "error", err)
		}
	}()

	deps, err := proxy.BuildDeps(store, proxy.DepsOptions{
		Profile:   cfg.Profile,
		Token:     cfg.Token,
		UserAgent: version.UserAgent("copilot-proxy"),
	}, log)
	if err != nil {
		log.Fatalf("Error creating Copilot client: %v", err)
	}
	if !deps.Client.HasToken() {
		log.Warnw("No GitHub token configured, POST /auth/device or run 'copilotctl auth login'", "profile", deps.Profile)
	}

	server := proxy.NewServer(zl, proxy.Config{
		ListenAddress:   cfg.ListenAddress,
		CORSOrigins:     cfg.CORSOrigins,
		RateLimit:       cfg.RateLimitConfig(),
		AuthRateLimit:   ratelimit.DefaultAuthConfig(),
		ShutdownTimeout: cfg.ParseShutdownTimeout(log),
		Debug:           cfg.Debug,
	}, deps)
	defer server.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx); err != nil {
		log.Errorw("Proxy stopped", "error", err)
		server.Close()
		_ = store.Flush()
		_ = shutdownTracing(context.Background())
		os.Exit(1)
	}
	log.Info("Proxy stopped")
}
