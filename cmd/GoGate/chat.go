package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"GoGate/pkg/client"
	"GoGate/pkg/conversation"
	"GoGate/pkg/types"
)

// chatHandler prints a streamed reply as it arrives.
type chatHandler struct {
	out    io.Writer
	logger *slog.Logger
}

func (h *chatHandler) OnFragment(f client.Fragment) {
	if f.Kind == client.FragmentEmpty {
		h.logger.Debug("chunk without content", "raw", f.Raw)
		return
	}
	fmt.Fprint(h.out, f.Content)
}

func (h *chatHandler) OnError(err error) {
	fmt.Fprintf(os.Stderr, "\nError: %s\n", client.Describe(err))
}

func (h *chatHandler) OnComplete(state client.StreamState) {
	switch state {
	case client.StreamAborted:
		fmt.Fprintln(h.out, "\n[Stream aborted due to timeout]")
	case client.StreamEOF:
		fmt.Fprintln(h.out, "\n[Stream ended without completion marker]")
	default:
		fmt.Fprintln(h.out)
	}
}

type requestFlags struct {
	model       string
	temperature float64
	maxTokens   int
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model to use (defaults to the configured model)")
	cmd.Flags().Float64Var(&f.temperature, "temperature", -1, "Sampling temperature (omitted when negative)")
	cmd.Flags().IntVar(&f.maxTokens, "max-tokens", 0, "Maximum tokens to generate (omitted when 0)")
}

func (f *requestFlags) request() types.ChatRequest {
	req := types.ChatRequest{Model: f.model}
	if f.temperature >= 0 {
		req.Temperature = types.Float64(f.temperature)
	}
	if f.maxTokens > 0 {
		req.MaxTokens = types.Int(f.maxTokens)
	}
	return req
}

// sendTurn streams a reply to input on a copy of conv. The copy, holding the
// user turn and the assistant reply, is returned only when both were
// recorded; otherwise conv comes back unchanged.
func sendTurn(ctx context.Context, c *client.Client, conv *conversation.Conversation, input string,
	req types.ChatRequest, h client.StreamHandler) (*conversation.Conversation, error) {
	next := conversation.New(conv.History()...)
	next.Append(types.Message{Role: types.RoleUser, Content: input})

	if _, err := c.StreamTurn(ctx, next, req, h); err != nil {
		return conv, err
	}
	if next.Len() != conv.Len()+2 {
		return conv, nil
	}
	return next, nil
}

func newChatCmd() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a streaming chat session with the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			conv := conversation.New()
			systemMsg, _ := cmd.Flags().GetString("system")
			if systemMsg != "" {
				conv.Append(types.Message{Role: types.RoleSystem, Content: systemMsg})
			}

			handler := &chatHandler{out: os.Stdout, logger: a.logger}
			scanner := bufio.NewScanner(os.Stdin)

			fmt.Println("Starting chat session (type 'exit' to quit)")
			fmt.Println("----------------------------------------")

			for {
				fmt.Print("\nYou: ")
				if !scanner.Scan() {
					break
				}

				input := strings.TrimSpace(scanner.Text())
				if input == "exit" {
					break
				}
				if input == "" {
					continue
				}
				if cmd.Context().Err() != nil {
					break
				}

				fmt.Print("\nAssistant: ")
				// a failed turn was reported by OnError; the session goes on
				conv, _ = sendTurn(cmd.Context(), a.client, conv, input, flags.request(), handler)
			}
			return nil
		},
	}

	cmd.Flags().String("system", "", "Set system message for the chat session")
	flags.register(cmd)
	return cmd
}

func newAskCmd() *cobra.Command {
	var (
		flags  requestFlags
		stream bool
	)
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a single prompt and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			req := flags.request()
			req.Messages = []types.Message{{Role: types.RoleUser, Content: strings.Join(args, " ")}}

			if stream {
				_, err := a.client.StreamChat(cmd.Context(), req, &chatHandler{out: os.Stdout, logger: a.logger})
				return err
			}

			res, err := a.client.ChatCompletion(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Println(res.Content)
			fmt.Printf("\nFinish reason: %s\n", res.FinishReason)
			if res.Retry.Attempt > 0 {
				fmt.Printf("Succeeded after %d retries\n", res.Retry.Attempt)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "Stream the reply")
	flags.register(cmd)
	return cmd
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models the gateway serves",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return printModels(cmd.Context(), os.Stdout, a.client)
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the gateway load",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return printStats(cmd.Context(), os.Stdout, a.client)
		},
	}
}
