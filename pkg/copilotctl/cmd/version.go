package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/copilot-gateway/pkg/copilotctl/output"
	"github.com/telekom/copilot-gateway/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show copilotctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := ""
			if rt != nil {
				writer = rt.Writer()
				format = rt.outputFormat
			}

			switch format {
			case "json", "yaml":
				return output.WriteObject(writer, output.Format(format), info)
			default:
				_, _ = fmt.Fprintf(writer, "copilotctl %s (commit: %s, built: %s, %s)\n", info.Version, info.GitCommit, info.BuildDate, info.Platform)
				return nil
			}
		},
	}

	return cmd
}
