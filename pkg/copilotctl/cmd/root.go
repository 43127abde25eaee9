package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/copilot-gateway/pkg/copilotctl/output"
	"github.com/telekom/copilot-gateway/pkg/deviceauth"
	"github.com/telekom/copilot-gateway/pkg/proxy"
	"github.com/telekom/copilot-gateway/pkg/settings"
	"github.com/telekom/copilot-gateway/pkg/system"
	"github.com/telekom/copilot-gateway/pkg/version"
)

const binaryName = "copilotctl"

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	ErrWriter    io.Writer
	InputReader  io.Reader
	// OpenBrowser opens the verification page during login.
	OpenBrowser func(url string) error
	// Scheduler drives login polling. Nil uses the wall clock.
	Scheduler deviceauth.Scheduler
	Now       func() time.Time
}

// envOverrides are read from COPILOTCTL_* and apply where the matching
// flag was not given.
type envOverrides struct {
	Output       string `envconfig:"OUTPUT"`
	Token        string `envconfig:"TOKEN"`
	TokenStorage string `envconfig:"TOKEN_STORAGE"`
	Profile      string `envconfig:"PROFILE"`
	APIBase      string `envconfig:"API_BASE"`
	Verbose      bool   `envconfig:"VERBOSE"`
	NoColor      bool   `envconfig:"NO_COLOR"`
}

type runtimeState struct {
	configPath           string
	store                *settings.Store
	profileOverride      string
	outputFormat         string
	tokenOverride        string
	tokenStorageOverride string
	apiBaseOverride      string
	verbose              bool
	noColor              bool
	writer               io.Writer
	errWriter            io.Writer
	reader               io.Reader
	openBrowser          func(string) error
	scheduler            deviceauth.Scheduler
	now                  func() time.Time
	log                  *zap.SugaredLogger
	deps                 *proxy.Deps
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   settings.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrWriter:    os.Stderr,
		InputReader:  os.Stdin,
		OpenBrowser:  browser.OpenURL,
		Now:          time.Now,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:  cfg.ConfigPath,
		writer:      cfg.OutputWriter,
		errWriter:   cfg.ErrWriter,
		reader:      cfg.InputReader,
		openBrowser: cfg.OpenBrowser,
		scheduler:   cfg.Scheduler,
		now:         cfg.Now,
	}

	root := &cobra.Command{
		Use:           binaryName,
		Short:         "GitHub Copilot chat API client and local gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := rt.applyDefaults(); err != nil {
				return err
			}

			// Skip settings loading for commands that don't need it
			if cmd.Name() == "version" || cmd.Name() == "completion" {
				return nil
			}
			store, err := settings.Open(rt.configPath, rt.log)
			if err != nil {
				return err
			}
			rt.store = store
			rt.applyColor()
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return rt.flush()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.profileOverride, "profile", "p", "", "Credential profile override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, wide, json, yaml, template=<go template>")
	root.PersistentFlags().StringVar(&rt.tokenOverride, "token", "", "GitHub token override (bypasses stored credentials)")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Token storage backend: auto, keychain or file")
	root.PersistentFlags().StringVar(&rt.apiBaseOverride, "api-base", "", "Copilot API base URL override")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable verbose logging on stderr")
	root.PersistentFlags().BoolVar(&rt.noColor, "no-color", false, "Disable colored output")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuthCommand(),
		NewModelsCommand(),
		NewUsageCommand(),
		NewChatCommand(),
		NewStatsCommand(),
		NewConfigCommand(),
		NewServeCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) applyDefaults() error {
	var env envOverrides
	if err := envconfig.Process(binaryName, &env); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if rt.outputFormat == "" {
		rt.outputFormat = env.Output
	}
	if rt.tokenOverride == "" {
		rt.tokenOverride = env.Token
	}
	if rt.tokenStorageOverride == "" {
		rt.tokenStorageOverride = env.TokenStorage
	}
	if rt.profileOverride == "" {
		rt.profileOverride = env.Profile
	}
	if rt.apiBaseOverride == "" {
		rt.apiBaseOverride = env.APIBase
	}
	rt.verbose = rt.verbose || env.Verbose
	rt.noColor = rt.noColor || env.NoColor

	if rt.writer == nil {
		rt.writer = os.Stdout
	}
	if rt.errWriter == nil {
		rt.errWriter = os.Stderr
	}
	if rt.reader == nil {
		rt.reader = os.Stdin
	}
	if rt.openBrowser == nil {
		rt.openBrowser = browser.OpenURL
	}
	if rt.now == nil {
		rt.now = time.Now
	}
	if rt.configPath == "" {
		rt.configPath = settings.DefaultConfigPath()
	}
	if rt.log == nil {
		rt.log = system.NewCLILogger(rt.verbose).Sugar()
	}
	return nil
}

func (rt *runtimeState) applyColor() {
	if rt.noColor {
		color.NoColor = true
		return
	}
	switch rt.store.Config().Settings.Color {
	case "never":
		color.NoColor = true
	case "always":
		color.NoColor = false
	}
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) Profile() string {
	if rt.profileOverride != "" {
		return rt.profileOverride
	}
	cfg := rt.store.Config()
	return cfg.ProfileOrDefault()
}

func (rt *runtimeState) OutputFormat() (output.Format, string, error) {
	format := rt.outputFormat
	if format == "" {
		format = rt.store.Config().Settings.OutputFormat
	}
	return output.ParseFormat(format)
}

// Deps builds the client and token manager once per invocation.
func (rt *runtimeState) Deps() (*proxy.Deps, error) {
	if rt.deps != nil {
		return rt.deps, nil
	}
	if rt.store == nil {
		return nil, errors.New("settings not loaded")
	}
	deps, err := proxy.BuildDeps(rt.store, proxy.DepsOptions{
		Profile:      rt.Profile(),
		Token:        rt.tokenOverride,
		TokenStorage: rt.tokenStorageOverride,
		APIBase:      rt.apiBaseOverride,
		UserAgent:    version.UserAgent(binaryName),
	}, rt.log)
	if err != nil {
		return nil, err
	}
	deps.Now = rt.now
	if rt.scheduler != nil {
		deps.DeviceAuth.Scheduler = rt.scheduler
	}
	rt.deps = &deps
	return rt.deps, nil
}

// render writes obj in the selected format, using table for the table and
// wide formats.
func (rt *runtimeState) render(obj any, table func(w io.Writer, wide bool)) error {
	format, tmpl, err := rt.OutputFormat()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatTable:
		table(rt.Writer(), false)
		return nil
	case output.FormatWide:
		table(rt.Writer(), true)
		return nil
	case output.FormatTemplate:
		return output.WriteTemplate(rt.Writer(), tmpl, obj)
	default:
		return output.WriteObject(rt.Writer(), format, obj)
	}
}

// flush persists pending settings such as updated request statistics.
func (rt *runtimeState) flush() error {
	if rt.store == nil {
		return nil
	}
	if err := rt.store.Flush(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
