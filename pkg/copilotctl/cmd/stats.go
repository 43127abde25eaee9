package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/copilot-gateway/pkg/copilotctl/output"
)

func NewStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show request statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			snap := rt.store.Stats()
			return rt.render(snap, func(w io.Writer, _ bool) {
				output.WriteStats(w, snap)
			})
		},
	}
	cmd.AddCommand(newStatsResetCommand())
	return cmd
}

func newStatsResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset request statistics to zero",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			deps.Client.Stats().Reset()
			if err := rt.flush(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Statistics reset")
			return nil
		},
	}
}
