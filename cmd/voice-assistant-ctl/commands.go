package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const defaultAddr = "http://localhost:8080"

func newRootCmd(out io.Writer) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	client := func() *apiClient { return newAPIClient(addr, timeout) }

	root := &cobra.Command{
		Use:           "voice-assistant-ctl",
		Short:         "Control a running voice-assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	def := defaultAddr
	if v := os.Getenv("VOICE_ASSISTANT_ADDR"); v != "" {
		def = v
	}
	root.PersistentFlags().StringVar(&addr, "addr", def, "base URL of the assistant API (env VOICE_ASSISTANT_ADDR)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "request timeout")

	printState := func(on bool) {
		if on {
			fmt.Fprintln(out, "listening")
		} else {
			fmt.Fprintln(out, "not listening")
		}
	}
	listeningCmd := func(use, short string, call func(context.Context, *apiClient) (bool, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				on, err := call(cmd.Context(), client())
				if err != nil {
					return err
				}
				printState(on)
				return nil
			},
		}
	}

	root.AddCommand(
		listeningCmd("status", "Print whether the assistant is listening",
			func(ctx context.Context, c *apiClient) (bool, error) { return c.Listening(ctx) }),
		listeningCmd("toggle", "Flip listening on or off",
			func(ctx context.Context, c *apiClient) (bool, error) { return c.Toggle(ctx) }),
		listeningCmd("on", "Start listening",
			func(ctx context.Context, c *apiClient) (bool, error) { return c.SetListening(ctx, true) }),
		listeningCmd("off", "Stop listening",
			func(ctx context.Context, c *apiClient) (bool, error) { return c.SetListening(ctx, false) }),
		newAskCmd(out, client),
	)
	return root
}

func newAskCmd(out io.Writer, client func() *apiClient) *cobra.Command {
	var showRoute bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a typed question without speaking it",
		Long: `Send a question through the same routing as a spoken one and print the
answer. The request is rejected while the assistant is answering another
question.

Examples:
  voice-assistant-ctl ask "what is on my calendar"
  voice-assistant-ctl ask --route what is Milvus`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client().Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if showRoute {
				fmt.Fprintf(out, "[%s] ", resp.Route)
			}
			fmt.Fprintln(out, resp.Answer)
			if resp.Error != "" {
				return fmt.Errorf("answer degraded: %s", resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showRoute, "route", "r", false, "prefix the answer with the route that produced it")
	return cmd
}
