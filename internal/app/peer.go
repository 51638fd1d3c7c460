package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	netplay "github.com/bartektricks/noob-skater-sub000"
	"github.com/bartektricks/noob-skater-sub000/internal/config"
	"github.com/bartektricks/noob-skater-sub000/internal/directory"
	"github.com/bartektricks/noob-skater-sub000/internal/geom"
	"github.com/bartektricks/noob-skater-sub000/internal/signal"
	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
	"github.com/bartektricks/noob-skater-sub000/logging"
)

// PeerConfig configures a headless peer.
type PeerConfig struct {
	Settings config.Config
	Logger   telemetry.Logger

	// SessionID is the identifier to host under or join. A host with an
	// empty SessionID registers SessionName with the directory and hosts
	// under the identifier it hands out.
	SessionID   string
	SessionName string
	Join        bool

	// MetricsAddr exposes /metrics for this peer when set.
	MetricsAddr string
	// StatusEvery is how often the peer logs its roster (default 5s).
	StatusEvery time.Duration
}

// peerHandler logs hub notifications.
type peerHandler struct {
	logger telemetry.Logger
}

func (h peerHandler) OnStatus(status netplay.Status) {
	h.logger.Printf("status: %s", status)
}

func (h peerHandler) OnPlayerJoined(p netplay.Player) {
	h.logger.Printf("%s (%s) joined", p.Nickname, p.PeerID)
}

func (h peerHandler) OnPlayerLeft(p netplay.Player) {
	h.logger.Printf("%s (%s) left", p.Nickname, p.PeerID)
}

func (h peerHandler) OnRoster(players []netplay.Player) {
	h.logger.Printf("roster: %d players", len(players))
}

func (h peerHandler) OnChat(chat netplay.Chat) {
	h.logger.Printf("<%s> %s", chat.SenderNickname, chat.Text)
}

func (h peerHandler) OnError(err error) {
	h.logger.Printf("netplay error: %v", err)
}

// RunPeer hosts or joins a session and drives a scripted skater until ctx is
// cancelled or the session fails for good.
func RunPeer(ctx context.Context, cfg PeerConfig) error {
	logger, fallbackLogger := resolveLogger(cfg.Logger)
	settings := config.ApplyEnv(cfg.Settings, os.Getenv, logger)
	if err := settings.Validate(); err != nil {
		return err
	}

	router, closeSinks, err := newRouter(settings.Logging, os.Stdout, fallbackLogger)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
		closeSinks()
	}()

	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewPrometheusMetrics(telemetry.MetricsConfig{
		Namespace: settings.Metrics.Namespace,
		Registry:  promRegistry,
	})
	registry := signal.NewClient(settings.SignalURL, nil)
	dir := directory.NewClient(settings.SignalURL, nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, 1)
	handler := failingHandler{peerHandler: peerHandler{logger: logger}, failed: failed}
	hub := netplay.NewHub(netplay.HubConfig{
		Settings:  settings,
		Registry:  registry,
		Logger:    telemetry.Prefixed(logger, "[peer] "),
		Publisher: logging.WithFields(router, map[string]any{"nickname": settings.Nickname}),
		Metrics:   metrics,
	}, handler)
	defer hub.Disconnect()

	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, promRegistry, hub, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- hub.Run(ctx)
	}()

	sessionID := cfg.SessionID
	switch {
	case cfg.Join:
		if sessionID == "" {
			return errors.New("join requires a session id")
		}
		if err := hub.Join(ctx, sessionID); err != nil {
			return err
		}
	default:
		if sessionID == "" && cfg.SessionName != "" {
			session, err := dir.Register(ctx, cfg.SessionName)
			if err != nil {
				return fmt.Errorf("register session: %w", err)
			}
			sessionID = session.ID
			defer func() {
				if err := dir.Unregister(context.Background(), session.ID); err != nil {
					logger.Printf("unregister %s failed: %v", session.ID, err)
				}
			}()
		}
		id, err := hub.Host(ctx, sessionID)
		if err != nil {
			return err
		}
		sessionID = id
	}
	logger.Printf("%s in session %s as %s", settings.Nickname, sessionID, hub.Role())

	statusEvery := cfg.StatusEvery
	if statusEvery <= 0 {
		statusEvery = 5 * time.Second
	}
	return driveSkater(ctx, hub, settings.Schedule().Interval(), statusEvery, logger, failed, runDone)
}

type failingHandler struct {
	peerHandler
	failed chan<- error
}

func (h failingHandler) OnError(err error) {
	h.peerHandler.OnError(err)
	select {
	case h.failed <- err:
	default:
	}
}

func driveSkater(ctx context.Context, hub *netplay.Hub, interval, statusEvery time.Duration, logger telemetry.Logger, failed <-chan error, runDone <-chan error) error {
	skater := newScriptedSkater(time.Now(), geom.Vec3{}, float64(len(hub.ID())%7))

	tick := time.NewTicker(interval)
	defer tick.Stop()
	status := time.NewTicker(statusEvery)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failed:
			return err
		case err := <-runDone:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case now := <-tick.C:
			hub.SubmitSnapshot(skater.Snapshot(now))
			hub.Frame(now)
		case now := <-status.C:
			frame := hub.Frame(now)
			logger.Printf("%s as %s, %d players, %d remote skaters", hub.Status(), hub.Role(), len(hub.Roster()), len(frame))
		}
	}
}

// diagnostics is the payload of a peer's /diagnostics endpoint.
type diagnostics struct {
	Status      netplay.Status   `json:"status"`
	Role        netplay.Role     `json:"role"`
	ID          string           `json:"id"`
	HostID      string           `json:"hostId"`
	ServerTime  int64            `json:"serverTime"`
	Players     []netplay.Player `json:"players"`
	Connections []string         `json:"connections"`
}

func newDiagnosticsHandler(hub *netplay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := diagnostics{
			Status:      hub.Status(),
			Role:        hub.Role(),
			ID:          hub.ID(),
			HostID:      hub.HostID(),
			ServerTime:  time.Now().UnixMilli(),
			Players:     hub.Roster(),
			Connections: hub.ConnectedPeers(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func serveMetrics(addr string, gatherer prometheus.Gatherer, hub *netplay.Hub, logger telemetry.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Get("/diagnostics", newDiagnosticsHandler(hub))
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()
	logger.Printf("metrics listening on %s", ln.Addr())
	return func() { srv.Close() }, nil
}
