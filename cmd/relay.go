package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nitishvarma50/app-p2p/internal/config"
	"github.com/Nitishvarma50/app-p2p/internal/relay"
	"github.com/Nitishvarma50/app-p2p/internal/signaling"
	"github.com/Nitishvarma50/app-p2p/internal/ui"
	"github.com/spf13/cobra"
)

var flagRelayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the relay that pairs peers into rooms and forwards their WebRTC
signaling. It serves the WebSocket on /ws, the ICE server list on /config and
a health check on /health. PORT is honoured when --addr is not given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{
			ConfigFile:  flagConfig,
			STUNServers: flagSTUN,
			TURNServer:  flagTURN,
			TURNUser:    flagTURNUser,
			TURNPass:    flagTURNPass,
			RelayAddr:   flagRelayAddr,
		})
		if err != nil {
			return err
		}
		return serveRelay(cfg)
	},
}

// relayICEServers is what /config hands out: the configured STUN servers
// (or the public defaults) plus TURN when set.
func relayICEServers(cfg *config.Config) []signaling.ICEServer {
	stun := cfg.STUNServers
	if len(stun) == 0 {
		stun = config.DefaultSTUNServers
	}
	servers := relay.DefaultICEServers(stun)
	if turn := cfg.GetTURNServers(); turn != nil {
		user, pass := cfg.GetTURNCredentials()
		servers = append(servers, signaling.ICEServer{URLs: turn, Username: user, Credential: pass})
	}
	return servers
}

func serveRelay(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub()
	go hub.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.RelayAddr,
		Handler:           relay.NewRouter(hub, relayICEServers(cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	slog.Info("relay listening", "addr", cfg.RelayAddr)
	ui.PrintInfo("Relay listening on " + cfg.RelayAddr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	ui.PrintSuccess("Relay stopped")
	return nil
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&flagRelayAddr, "addr", "", "Listen address (default :8080)")
}
