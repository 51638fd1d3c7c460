package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "netplay",
		Short: "Peer-to-peer netplay for noob-skater",
		Long: `netplay runs the pieces of the noob-skater multiplayer layer.

  signal    identity registry and session directory
  host      host a session with a scripted skater
  join      join a session with a scripted skater
  sessions  list joinable sessions`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		signalCmd(),
		hostCmd(),
		joinCmd(),
		sessionsCmd(),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
