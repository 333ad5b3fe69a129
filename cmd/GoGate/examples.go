package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"GoGate/pkg/client"
	"GoGate/pkg/conversation"
	"GoGate/pkg/logging"
	"GoGate/pkg/types"
)

type example struct {
	name string
	run  func(ctx context.Context, w io.Writer, c *client.Client) error
}

var basicExamples = []example{
	{"models", printModels},
	{"stats", printStats},
}

var fullExamples = []example{
	{"models", printModels},
	{"stats", printStats},
	{"non-streaming", nonStreamingExample},
	{"streaming", streamingExample},
	{"conversation", conversationExample},
	{"rate-limit", rateLimitExample},
}

func newExamplesCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "examples",
		Short: "Run the gateway demo suite",
		Long: "Runs a suite of demo calls against the gateway. Mode \"basic\" lists models\n" +
			"and stats; \"full\" also sends chat requests. Defaults to $EXAMPLES_MODE or basic.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if mode == "" {
				mode = os.Getenv("EXAMPLES_MODE")
			}
			fmt.Fprintln(os.Stdout, "Gateway API Examples\n"+strings.Repeat("=", 50))
			runExamples(cmd.Context(), os.Stdout, a.client, mode)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "basic or full")
	return cmd
}

// runExamples runs the suite for mode. A failing example is reported and the
// rest still run; cancellation stops the suite.
func runExamples(ctx context.Context, w io.Writer, c *client.Client, mode string) int {
	suite := basicExamples
	if strings.EqualFold(strings.TrimSpace(mode), "full") {
		suite = fullExamples
	}

	failed := 0
	for _, ex := range suite {
		if ctx.Err() != nil {
			fmt.Fprintln(w, "\n\nInterrupted by user")
			break
		}
		if err := ex.run(ctx, w, c); err != nil {
			failed++
			fmt.Fprintf(w, "\n[%s] failed: %s\n", ex.name, client.Describe(err))
		}
	}
	return failed
}

func printModels(ctx context.Context, w io.Writer, c *client.Client) error {
	fmt.Fprint(w, "\n=== Available Models ===\n\n")
	models, err := c.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Fprintf(w, "- %s (owned by: %s)\n", m.ID, m.OwnedBy)
	}
	return nil
}

func printStats(ctx context.Context, w io.Writer, c *client.Client) error {
	fmt.Fprint(w, "\n=== System Stats ===\n\n")
	snap, err := c.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Active workers: %d/%d\n", snap.Active, snap.Capacity)
	fmt.Fprintf(w, "Queued jobs: %d\n", snap.Queued)
	fmt.Fprintf(w, "Max queue size: %d\n", snap.MaxQueue)
	fmt.Fprintf(w, "Utilization: %.1f%%\n", snap.Utilization()*100)
	printWarnings(w, *snap)
	return nil
}

func printWarnings(w io.Writer, snap types.StatsSnapshot) {
	if snap.Saturated() {
		fmt.Fprintln(w, "WARNING: system at full capacity")
	}
	if snap.HighQueue() {
		fmt.Fprintln(w, "WARNING: high queue load")
	}
}

func nonStreamingExample(ctx context.Context, w io.Writer, c *client.Client) error {
	fmt.Fprint(w, "\n=== Non-Streaming Request ===\n\n")
	res, err := c.ChatCompletion(ctx, types.ChatRequest{
		Messages:  []types.Message{{Role: types.RoleUser, Content: "What is recursion?"}},
		MaxTokens: types.Int(100),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Response:")
	fmt.Fprintln(w, res.Content)
	fmt.Fprintf(w, "\nFinish reason: %s\n", res.FinishReason)
	return nil
}

func streamingExample(ctx context.Context, w io.Writer, c *client.Client) error {
	fmt.Fprint(w, "\n=== Streaming Request ===\n\n")
	stream, _, err := c.StreamChatCompletion(ctx, types.ChatRequest{
		Messages:    []types.Message{{Role: types.RoleUser, Content: "Write a short poem about programming"}},
		Temperature: types.Float64(0.7),
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	fmt.Fprintln(w, "Response chunks:")
	for f := range stream.Fragments() {
		if f.Kind == client.FragmentEmpty {
			// raw chunk helps spot payloads the extractors do not understand
			fmt.Fprintf(w, "\n[chunk no content] %s\n", logging.Truncate(f.Raw, 200))
			continue
		}
		fmt.Fprint(w, f.Content)
	}

	switch stream.State() {
	case client.StreamDone:
		fmt.Fprintln(w, "\n[Stream completed]")
	case client.StreamAborted:
		fmt.Fprintln(w, "\n[Stream aborted due to timeout]")
	case client.StreamFailed:
		return &client.NetworkError{Op: "read stream", URL: c.Config().BaseURL + client.ChatCompletionsPath, Err: stream.Err()}
	default:
		fmt.Fprintln(w)
	}
	return nil
}

func conversationExample(ctx context.Context, w io.Writer, c *client.Client) error {
	fmt.Fprint(w, "\n=== Multi-turn Conversation ===\n\n")
	conv := conversation.New(types.Message{Role: types.RoleUser, Content: "Hi! What is your name?"})
	followUps := []string{"Tell me a short joke"}

	for turn := 0; turn < 2; turn++ {
		prompt, _ := conv.Last()
		res, err := c.Turn(ctx, conv, types.ChatRequest{MaxTokens: types.Int(100)})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "User: %s\n", prompt.Content)
		fmt.Fprintf(w, "Assistant: %s\n\n", res.Content)

		if turn < len(followUps) {
			conv.Append(types.Message{Role: types.RoleUser, Content: followUps[turn]})
		}
	}
	return nil
}

func rateLimitExample(ctx context.Context, w io.Writer, c *client.Client) error {
	fmt.Fprint(w, "\n=== Rate Limit Handling ===\n\n")
	res, err := c.ChatCompletion(ctx, types.ChatRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "Hello"}},
	})
	var exhausted *client.RetryExhausted
	if errors.As(err, &exhausted) {
		fmt.Fprintf(w, "Max retries exceeded after %d attempts\n", exhausted.Attempts)
		return nil
	}
	if err != nil {
		return err
	}

	if res.Retry.Attempt > 0 {
		fmt.Fprintf(w, "Rate limited %d times, retried with backoff base %g\n", res.Retry.Attempt, res.Retry.BackoffBase)
	}
	fmt.Fprintln(w, "Request successful!")
	fmt.Fprintln(w, logging.Truncate(res.Content, 100))
	return nil
}
