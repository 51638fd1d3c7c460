package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/bartektricks/noob-skater-sub000/internal/app"
	"github.com/bartektricks/noob-skater-sub000/internal/config"
	"github.com/bartektricks/noob-skater-sub000/internal/directory"
	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
)

// peerFlags are shared by host and join.
type peerFlags struct {
	configPath  string
	nickname    string
	signalURL   string
	listenAddr  string
	advertise   string
	metricsAddr string
}

func (f *peerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVarP(&f.nickname, "nickname", "n", "", "Display name")
	cmd.Flags().StringVar(&f.signalURL, "signal", "", "Signal service URL")
	cmd.Flags().StringVar(&f.listenAddr, "listen", "", "Address to accept links on while hosting")
	cmd.Flags().StringVar(&f.advertise, "advertise", "", "Host name other peers use to reach this one")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
}

func (f *peerFlags) settings() (config.Config, error) {
	settings := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		settings = loaded
	}
	if f.nickname != "" {
		settings.Nickname = f.nickname
	}
	if f.signalURL != "" {
		settings.SignalURL = f.signalURL
	}
	if f.listenAddr != "" {
		settings.ListenAddr = f.listenAddr
	}
	if f.advertise != "" {
		settings.AdvertiseHost = f.advertise
	}
	return settings, nil
}

func newLogger() telemetry.Logger {
	return telemetry.WrapLogger(log.New(os.Stderr, "", log.LstdFlags))
}

func signalCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Run the identity registry and session directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSignal(cmd.Context(), app.SignalConfig{Addr: addr, Logger: newLogger()})
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":9420", "Listen address")

	return cmd
}

func hostCmd() *cobra.Command {
	var (
		flags peerFlags
		name  string
	)

	cmd := &cobra.Command{
		Use:   "host [session-id]",
		Short: "Host a session",
		Long: `Host a session under session-id, or under an identifier handed out by the
directory when --name is given, or under a generated identifier otherwise.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.settings()
			if err != nil {
				return err
			}
			cfg := app.PeerConfig{
				Settings:    settings,
				Logger:      newLogger(),
				SessionName: name,
				MetricsAddr: flags.metricsAddr,
			}
			if len(args) == 1 {
				cfg.SessionID = args[0]
			}
			return app.RunPeer(cmd.Context(), cfg)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "Register the session in the directory under this name")

	return cmd
}

func joinCmd() *cobra.Command {
	var flags peerFlags

	cmd := &cobra.Command{
		Use:   "join <session-id>",
		Short: "Join a session, taking it over if its host is gone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.settings()
			if err != nil {
				return err
			}
			return app.RunPeer(cmd.Context(), app.PeerConfig{
				Settings:    settings,
				Logger:      newLogger(),
				SessionID:   args[0],
				Join:        true,
				MetricsAddr: flags.metricsAddr,
			})
		},
	}

	flags.register(cmd)

	return cmd
}

func sessionsCmd() *cobra.Command {
	var signalURL string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List joinable sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := directory.NewClient(signalURL, nil).List(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCREATED")
			for _, session := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", session.ID, session.DisplayName, session.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&signalURL, "signal", config.Default().SignalURL, "Signal service URL")

	return cmd
}
