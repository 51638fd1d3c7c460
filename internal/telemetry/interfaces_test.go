package telemetry

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWrapLogger(t *testing.T) {
	t.Run("nil logger", func(t *testing.T) {
		logger := WrapLogger(nil)
		logger.Printf("ignored %d", 42)
	})

	t.Run("forwards to logger", func(t *testing.T) {
		var buf bytes.Buffer
		base := log.New(&buf, "", 0)
		logger := WrapLogger(base)
		logger.Printf("hello %s", "world")
		if got := buf.String(); got != "hello world\n" {
			t.Fatalf("unexpected log output: %q", got)
		}
	})
}

func TestPrefixed(t *testing.T) {
	var buf bytes.Buffer
	logger := Prefixed(WrapLogger(log.New(&buf, "", 0)), "[hub] ")
	logger.Printf("role=%s", "host")
	if got := strings.TrimSpace(buf.String()); got != "[hub] role=host" {
		t.Fatalf("unexpected prefixed output: %q", got)
	}
}

func TestPrometheusMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(MetricsConfig{Registry: registry})

	metrics.MessageSent("gameState", 120)
	metrics.MessageSent("gameState", 80)
	metrics.ConnectionOpened()
	metrics.ConnectionOpened()
	metrics.ConnectionClosed()
	metrics.ConnectionRejected()
	metrics.Migration("succeeded")

	if got := testutil.ToFloat64(metrics.bytesSent.WithLabelValues("gameState")); got != 200 {
		t.Fatalf("expected 200 bytes sent, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.activeConnections); got != 1 {
		t.Fatalf("expected one active connection, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.connectionsRefused); got != 1 {
		t.Fatalf("expected one rejection, got %v", got)
	}

	var nilMetrics *PrometheusMetrics
	nilMetrics.MessageSent("ignored", 1)
	NopMetrics().Migration("ignored")
}
