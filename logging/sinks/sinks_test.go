package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bartektricks/noob-skater-sub000/logging"
)

func testEvent() logging.Event {
	return logging.Event{
		Type:     "network.peer_rejected",
		Time:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Session:  "skate-1234abcd",
		Actor:    logging.PeerRef{ID: "skate-1234abcd", Role: logging.PeerRoleHost},
		Targets:  []logging.PeerRef{{ID: "guest", Role: logging.PeerRoleClient}},
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  map[string]any{"reason": "full"},
	}
}

func TestJSONFlattensPeers(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	if err := sink.Write(testEvent()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	var rec record
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode line %q: %v", buf.String(), err)
	}
	if rec.Actor != "host:skate-1234abcd" || len(rec.Targets) != 1 || rec.Targets[0] != "client:guest" {
		t.Fatalf("unexpected peers: %+v", rec)
	}
	if rec.Severity != "warn" || rec.Category != logging.CategoryNetwork || rec.Time != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestJSONBuffersUntilClose(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, time.Hour)
	if err := sink.Write(testEvent()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected buffered output, got %q", buf.String())
	}
	sink.Close(context.Background())
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("expected flushed line, got %q", buf.String())
	}
}

func TestConsoleLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewConsoleSink(&buf)
	sink.Write(testEvent())

	line := buf.String()
	for _, want := range []string{
		"WARN  network.peer_rejected (network)",
		"session=skate-1234abcd",
		"actor=host:skate-1234abcd",
		"targets=client:guest",
		`payload={"reason":"full"}`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
}

func TestMemoryFiltersAndAwaits(t *testing.T) {
	sink := NewMemorySink()
	other := testEvent()
	other.Type = "lifecycle.session_hosted"
	other.Session = "elsewhere"
	sink.Write(other)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got := make(chan logging.Event, 1)
	go func() {
		event, err := sink.Await(ctx, "network.peer_rejected")
		if err == nil {
			got <- event
		}
		close(got)
	}()
	sink.Write(testEvent())

	event, ok := <-got
	if !ok || event.Session != "skate-1234abcd" {
		t.Fatalf("expected awaited event, got %+v", event)
	}
	if n := len(sink.ForSession("elsewhere")); n != 1 {
		t.Fatalf("expected one event for session, got %d", n)
	}
	if n := len(sink.OfType("network.peer_rejected")); n != 1 {
		t.Fatalf("expected one rejected event, got %d", n)
	}
	sink.Reset()
	if len(sink.Events()) != 0 {
		t.Fatalf("expected reset to clear events")
	}
}
