// Command vapid generates VAPID keys and issues and checks VAPID tokens.
//
//	vapid gen --key vapid-private.pem --public vapid-public.pem
//	vapid pubkey --key vapid-private.pem
//	vapid sign --key vapid-private.pem --aud https://push.example.net --sub mailto:admin@example.com
//	vapid decode --public-key BBCc... eyJ0eXAi...
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "vapid",
	Short:         "Generate VAPID keys and sign Web Push authorization headers",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		level := slog.LevelInfo
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = slog.LevelDebug
		}
		logger := clog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		cmd.SetContext(clog.WithLogger(cmd.Context(), logger))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		clog.FromContext(ctx).Errorf("vapid: %v", err)
		cancel()
		os.Exit(1)
	}
}
