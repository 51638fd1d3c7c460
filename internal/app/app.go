package app

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
	"github.com/bartektricks/noob-skater-sub000/logging"
	loggingSinks "github.com/bartektricks/noob-skater-sub000/logging/sinks"
)

func resolveLogger(logger telemetry.Logger) (telemetry.Logger, *log.Logger) {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	fallbackLogger := log.Default()
	if provider, ok := logger.(interface{ StandardLogger() *log.Logger }); ok {
		if candidate := provider.StandardLogger(); candidate != nil {
			fallbackLogger = candidate
		}
	}
	return logger, fallbackLogger
}

// newRouter builds the event router with the sinks cfg enables. The returned
// closer releases files opened for the json sink.
func newRouter(cfg logging.Config, stdout io.Writer, fallback *log.Logger) (*logging.Router, func() error, error) {
	var (
		sinks  []logging.NamedSink
		closer = func() error { return nil }
	)
	if cfg.HasSink("console") {
		sinks = append(sinks, logging.NamedSink{Name: "console", Sink: loggingSinks.NewConsoleSink(stdout)})
	}
	if cfg.HasSink("json") {
		out := stdout
		if cfg.JSON.FilePath != "" {
			file, err := os.OpenFile(cfg.JSON.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, nil, fmt.Errorf("open json log %s: %w", cfg.JSON.FilePath, err)
			}
			out = file
			closer = file.Close
		}
		sinks = append(sinks, logging.NamedSink{
			Name:       "json",
			Sink:       loggingSinks.NewJSON(out, cfg.JSON.FlushInterval),
			Categories: cfg.JSON.Categories,
		})
	}
	if cfg.HasSink("memory") {
		sinks = append(sinks, logging.NamedSink{Name: "memory", Sink: loggingSinks.NewMemorySink()})
	}
	return logging.NewRouter(logging.SystemClock{}, cfg, fallback, sinks), closer, nil
}
