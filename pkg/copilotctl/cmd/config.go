package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/telekom/copilot-gateway/pkg/copilotctl/output"
	"github.com/telekom/copilot-gateway/pkg/settings"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage copilotctl settings",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigGetCommand(),
		newConfigSetCommand(),
		newConfigKeysCommand(),
		newConfigPathCommand(),
	)

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.store.Path()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			cfg := settings.DefaultConfig()
			if err := settings.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			cfg := rt.store.Config()
			return rt.render(cfg, func(w io.Writer, _ bool) {
				if err := output.WriteObject(w, output.FormatYAML, cfg); err != nil {
					rt.log.Warnw("Failed to render settings", "error", err)
				}
			})
		},
	}
}

func newConfigGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print a single setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			value, err := rt.store.Get(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), value)
			return nil
		},
		ValidArgsFunction: completeKeys,
	}
}

func newConfigSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a single setting",
		Example: `  copilotctl config set retry.enabled true
  copilotctl config set retry.count 3`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.store.Set(args[0], args[1]); err != nil {
				return err
			}
			value, err := rt.store.Get(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s = %s\n", args[0], value)
			return nil
		},
		ValidArgsFunction: completeKeys,
	}
	// values such as -1 are positional and rejected by validation
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newConfigKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the settings accepted by get and set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			keys := settings.Keys()
			values := make(map[string]string, len(keys))
			for _, k := range keys {
				values[k] = settings.KeyHelp(k)
			}
			output.WriteKeyValues(rt.Writer(), keys, values)
			return nil
		},
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), rt.store.Path())
			return nil
		},
	}
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return settings.Keys(), cobra.ShellCompDirectiveNoFileComp
}
