package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bartektricks/noob-skater-sub000/internal/directory"
	"github.com/bartektricks/noob-skater-sub000/internal/signal"
	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
)

// SignalConfig configures the signaling service.
type SignalConfig struct {
	Addr        string
	Listener    net.Listener
	Logger      telemetry.Logger
	EnablePprof bool
}

// SignalHandlerConfig lists what the signaling router serves.
type SignalHandlerConfig struct {
	Registry    signal.Registry
	Directory   directory.Directory
	Gatherer    prometheus.Gatherer
	Logger      telemetry.Logger
	EnablePprof bool
}

// NewSignalHandler serves the identity registry, the session directory and
// the process metrics on one router.
func NewSignalHandler(cfg SignalHandlerConfig) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	signal.NewHandler(cfg.Registry, cfg.Logger).Routes(router)
	directory.NewHandler(cfg.Directory).Routes(router)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	if cfg.EnablePprof {
		router.Mount("/debug", middleware.Profiler())
	}
	return router
}

// RunSignal serves the signaling service until ctx is cancelled.
func RunSignal(ctx context.Context, cfg SignalConfig) error {
	logger, _ := resolveLogger(cfg.Logger)

	enablePprof := cfg.EnablePprof
	if raw := os.Getenv("NETPLAY_ENABLE_PPROF"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			enablePprof = value
		} else {
			logger.Printf("invalid NETPLAY_ENABLE_PPROF=%q: %v", raw, err)
		}
	}

	registry := signal.NewMemoryRegistry(nil)
	store := directory.NewStore(nil, registry.Live)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ln := cfg.Listener
	if ln == nil {
		addr := cfg.Addr
		if addr == "" {
			addr = ":9420"
		}
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("signal listen %s: %w", addr, err)
		}
	}

	srv := &http.Server{
		Handler: NewSignalHandler(SignalHandlerConfig{
			Registry:    registry,
			Directory:   store,
			Gatherer:    promRegistry,
			Logger:      logger,
			EnablePprof: enablePprof,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Printf("signal service listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("signal shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("signal server failed: %w", err)
	}
}
