package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/bartektricks/noob-skater-sub000/logging"
)

// ConsoleSink prints one human readable line per event.
type ConsoleSink struct {
	logger *log.Logger
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{logger: log.New(w, "", log.LstdFlags)}
}

func (s *ConsoleSink) Write(event logging.Event) error {
	if s.logger == nil {
		return nil
	}
	var line strings.Builder
	fmt.Fprintf(&line, "%-5s %s", strings.ToUpper(event.Severity.String()), event.Type)
	if event.Category != "" {
		fmt.Fprintf(&line, " (%s)", event.Category)
	}
	if event.Session != "" {
		fmt.Fprintf(&line, " session=%s", event.Session)
	}
	if actor := formatPeer(event.Actor); actor != "" {
		fmt.Fprintf(&line, " actor=%s", actor)
	}
	line.WriteString(formatTargets(event.Targets))
	line.WriteString(formatPayload(event.Payload))
	s.logger.Print(line.String())
	return nil
}

func (s *ConsoleSink) Close(context.Context) error {
	return nil
}

func formatPeer(ref logging.PeerRef) string {
	if ref.ID == "" {
		return string(ref.Role)
	}
	if ref.Role == "" {
		return ref.ID
	}
	return fmt.Sprintf("%s:%s", ref.Role, ref.ID)
}

func formatTargets(targets []logging.PeerRef) string {
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, 0, len(targets))
	for _, target := range targets {
		parts = append(parts, formatPeer(target))
	}
	return fmt.Sprintf(" targets=%s", strings.Join(parts, ","))
}

func formatPayload(payload any) string {
	if payload == nil {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(" payload=%v", payload)
	}
	return fmt.Sprintf(" payload=%s", data)
}
