package cmd

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/telekom/copilot-gateway/pkg/copilotctl/output"
)

func NewModelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "List the models available to your Copilot subscription",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			models, err := deps.Client.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			return rt.render(models, func(w io.Writer, wide bool) {
				if wide {
					output.WriteModelTableWide(w, models)
					return
				}
				output.WriteModelTable(w, models)
			})
		},
	}
}
