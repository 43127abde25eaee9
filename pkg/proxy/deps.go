package proxy

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/copilot-gateway/pkg/copilot"
	"github.com/telekom/copilot-gateway/pkg/credentials"
	"github.com/telekom/copilot-gateway/pkg/metrics"
	"github.com/telekom/copilot-gateway/pkg/settings"
	"github.com/telekom/copilot-gateway/pkg/stats"
)

// DepsOptions select the credential used by BuildDeps.
type DepsOptions struct {
	// Profile overrides the configured profile.
	Profile string
	// Token is used instead of the stored credential when set.
	Token string
	// TokenStorage and APIBase override the settings file for one run.
	TokenStorage string
	APIBase      string
	UserAgent    string
}

// BuildDeps wires a client from the settings store: the stored credential
// for the profile, the store's live retry policy and a stats counter that
// is restored from and persisted to the settings file and mirrored to
// Prometheus.
func BuildDeps(store *settings.Store, opts DepsOptions, log *zap.SugaredLogger) (Deps, error) {
	cfg := store.Config()
	profile := opts.Profile
	if profile == "" {
		profile = cfg.ProfileOrDefault()
	}

	storage := cfg.Settings.TokenStorage
	if opts.TokenStorage != "" {
		storage = opts.TokenStorage
	}
	apiBase := cfg.APIBaseURL()
	if opts.APIBase != "" {
		apiBase = opts.APIBase
	}

	mode, err := credentials.ParseMode(storage)
	if err != nil {
		return Deps{}, err
	}
	tokens, err := credentials.NewTokenManager(mode, settings.TokenPathFor(store.Path()), log)
	if err != nil {
		return Deps{}, fmt.Errorf("open token storage: %w", err)
	}

	counter := stats.New(metrics.StatsObserver())
	store.TrackStats(counter)

	clientOpts := []copilot.Option{
		copilot.WithAPIBase(apiBase),
		copilot.WithGitHubAPIBase(cfg.GitHubAPIURL()),
		copilot.WithStats(counter),
		copilot.WithPolicy(store.Policy),
		copilot.WithLogger(log),
	}
	if opts.UserAgent != "" {
		clientOpts = append(clientOpts, copilot.WithUserAgent(opts.UserAgent))
	}
	if opts.Token != "" {
		clientOpts = append(clientOpts, copilot.WithToken(opts.Token))
	} else {
		clientOpts = append(clientOpts, copilot.WithTokenSource(tokens.TokenSource(profile)))
	}
	client, err := copilot.New(clientOpts...)
	if err != nil {
		return Deps{}, fmt.Errorf("create copilot client: %w", err)
	}

	deviceAuth := cfg.DeviceAuth()
	deviceAuth.Logger = log
	return Deps{
		Client:     client,
		Tokens:     tokens,
		Profile:    profile,
		DeviceAuth: deviceAuth,
	}, nil
}
