package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pepperbot/internal/app"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

func main() {
	root := &cobra.Command{
		Use:           "pepperbot",
		Short:         "Pepper deal feed to Telegram fanout",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "./config.yaml", "path to config file (yaml or json)")

	root.AddCommand(
		roleCommand("run", "Run poller, dispatcher and bot in one process", app.AllRoles()),
		roleCommand("poller", "Poll the feed and enqueue new deals", app.Roles{Poller: true}),
		roleCommand("dispatcher", "Deliver queued deals to subscribers", app.Roles{Dispatcher: true}),
		roleCommand("bot", "Answer chat commands", app.Roles{Bot: true}),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "pepperbot %s (%s)\n", version, commit)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func roleCommand(use, short string, roles app.Roles) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, cfgPath, roles, app.Info{Version: version, Commit: commit})
			if err != nil {
				return err
			}
			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
