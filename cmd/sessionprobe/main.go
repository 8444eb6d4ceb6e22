package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// sessionprobe drives a text-only session against a running gateway and
// reports how far the conversation got.
func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

type probeOptions struct {
	gatewayURL string
	secret     string
	timeout    time.Duration
	pause      time.Duration
	verbose    bool
}

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	opts := &probeOptions{}

	rootCmd := &cobra.Command{
		Use:           "sessionprobe",
		Short:         "Drive a text-only conversation session from a transcript",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.gatewayURL, "url", "ws://localhost:8080/ws/session", "Session websocket URL")
	rootCmd.PersistentFlags().StringVar(&opts.secret, "jwt-secret", os.Getenv("JWT_SECRET"), "Mint a session token with this secret")

	rootCmd.AddCommand(newPlayCmd(opts, logger))
	rootCmd.AddCommand(newCheckCmd())

	return rootCmd
}
