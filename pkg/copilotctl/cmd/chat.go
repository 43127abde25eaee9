package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/copilot-gateway/pkg/copilot"
)

// DefaultChatModel is used when --model is not given.
const DefaultChatModel = "gpt-4o"

func NewChatCommand() *cobra.Command {
	var (
		model       string
		system      string
		maxTokens   int
		temperature float64
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a single chat completion (reads the prompt from stdin when omitted or '-')",
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			// Stats changed by this call must survive a failed request.
			defer func() {
				if flushErr := rt.flush(); err == nil {
					err = flushErr
				}
			}()

			prompt := strings.Join(args, " ")
			if prompt == "" || prompt == "-" {
				data, err := io.ReadAll(rt.reader)
				if err != nil {
					return fmt.Errorf("failed to read prompt: %w", err)
				}
				prompt = string(data)
			}
			prompt = strings.TrimSpace(prompt)
			if prompt == "" {
				return errors.New("prompt must not be empty")
			}

			req := copilot.ChatRequest{Model: model, MaxTokens: maxTokens}
			if system != "" {
				req.Messages = append(req.Messages, copilot.Message{Role: "system", Content: system})
			}
			req.Messages = append(req.Messages, copilot.Message{Role: "user", Content: prompt})
			if cmd.Flags().Changed("temperature") {
				req.Temperature = &temperature
			}

			deps, err := rt.Deps()
			if err != nil {
				return err
			}
			resp, err := deps.Client.Chat(cmd.Context(), req)
			if err != nil {
				return err
			}
			rt.log.Debugw("Chat completion finished", "attempts", resp.Attempts, "requestID", resp.RequestID)

			return rt.render(resp, func(w io.Writer, wide bool) {
				_, _ = fmt.Fprintln(w, resp.Text())
				if wide && resp.Usage != nil {
					_, _ = dimColor.Fprintf(w, "\n%s, %d prompt + %d completion tokens, %d attempt(s)\n",
						resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Attempts)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", DefaultChatModel, "Model ID (see 'copilotctl models')")
	cmd.Flags().StringVar(&system, "system", "", "System prompt")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum completion tokens (0 uses the model default)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	return cmd
}
