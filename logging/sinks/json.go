package sinks

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/bartektricks/noob-skater-sub000/logging"
)

// record is the line format of the JSON sink. Peers are flattened to
// "role:id" strings so log processors can grep for a peer directly.
type record struct {
	Time     string         `json:"time"`
	Type     string         `json:"type"`
	Severity string         `json:"severity"`
	Category string         `json:"category,omitempty"`
	Session  string         `json:"session,omitempty"`
	Actor    string         `json:"actor,omitempty"`
	Targets  []string       `json:"targets,omitempty"`
	Payload  any            `json:"payload,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

func newRecord(event logging.Event) record {
	rec := record{
		Time:     event.Time.UTC().Format(time.RFC3339Nano),
		Type:     string(event.Type),
		Severity: event.Severity.String(),
		Category: event.Category,
		Session:  event.Session,
		Actor:    formatPeer(event.Actor),
		Payload:  event.Payload,
		Extra:    event.Extra,
	}
	for _, target := range event.Targets {
		rec.Targets = append(rec.Targets, formatPeer(target))
	}
	return rec
}

// JSON writes one record per line. Writes are buffered and flushed either
// after every event or on a fixed interval.
type JSON struct {
	mu   sync.Mutex
	out  *bufio.Writer
	enc  *json.Encoder
	sync bool

	done chan struct{}
	once sync.Once
}

// NewJSON returns a sink writing to w. A non-positive flushInterval flushes
// after every event.
func NewJSON(w io.Writer, flushInterval time.Duration) *JSON {
	if w == nil {
		w = io.Discard
	}
	out := bufio.NewWriter(w)
	s := &JSON{
		out:  out,
		enc:  json.NewEncoder(out),
		sync: flushInterval <= 0,
		done: make(chan struct{}),
	}
	if !s.sync {
		go s.flushEvery(flushInterval)
	}
	return s
}

func (s *JSON) Write(event logging.Event) error {
	rec := newRecord(event)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return err
	}
	if s.sync {
		return s.out.Flush()
	}
	return nil
}

func (s *JSON) Close(context.Context) error {
	s.once.Do(func() { close(s.done) })
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Flush()
}

func (s *JSON) flushEvery(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.out.Flush()
			s.mu.Unlock()
		}
	}
}
