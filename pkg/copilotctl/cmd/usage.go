package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/copilot-gateway/pkg/copilotctl/output"
)

func NewUsageCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "usage",
		Aliases: []string{"quota"},
		Short:   "Show plan, token expiry and premium request quotas",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			usage, err := deps.Client.Usage(cmd.Context())
			if err != nil {
				return err
			}
			return rt.render(usage, func(w io.Writer, _ bool) {
				output.WriteUsage(w, usage)
			})
		},
	}
}
