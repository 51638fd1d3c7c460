// Package ws carries netplay links over websockets. A hosting Session
// listens for inbound links and advertises its endpoint through a signal
// registry; a client Session resolves the host's identifier and dials it.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bartektricks/noob-skater-sub000/internal/signal"
	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
)

const (
	linkPath = "/link"

	// CloseReasonFull is the close text sent to links beyond capacity.
	CloseReasonFull = "session full"
)

var (
	ErrIdentityClaim      = errors.New("ws: identifier already claimed")
	ErrPeerUnreachable    = errors.New("ws: peer unreachable")
	ErrConnectionRejected = errors.New("ws: connection rejected by host")
	ErrUnknownPeer        = errors.New("ws: no link to peer")
	ErrAlreadyHosting     = errors.New("ws: session is already hosting")
	ErrClosed             = errors.New("ws: session closed")
)

// SessionConfig configures a Session.
type SessionConfig struct {
	Registry signal.Registry

	// ListenAddr is where a hosting session accepts links (default
	// "127.0.0.1:0").
	ListenAddr string
	// AdvertiseHost replaces the listener host in the advertised endpoint,
	// for hosts listening on an unspecified address.
	AdvertiseHost string

	MaxConnections int
	DialTimeout    time.Duration
	LeaseTTL       time.Duration
	WriteWait      time.Duration
	EventBuffer    int

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  trace.Tracer
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:0"
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = 7
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 5 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.Logger == nil {
		c.Logger = telemetry.Discard()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NopMetrics()
	}
	if c.Tracer == nil {
		c.Tracer = telemetry.Tracer()
	}
	return c
}

// Session owns this peer's identity and links. It may switch from client to
// host during a migration; Disconnect ends it for good.
type Session struct {
	cfg      SessionConfig
	upgrader websocket.Upgrader
	events   chan Event
	done     chan struct{}

	mu           sync.Mutex
	id           string
	lease        *signal.Lease
	hosting      bool
	server       *http.Server
	endpoint     string
	hostID       string
	hostEndpoint string
	links        map[string]*link
	closed       bool
	stopRefresh  context.CancelFunc

	wg sync.WaitGroup
}

func NewSession(cfg SessionConfig) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
		links:  make(map[string]*link),
	}
}

// Events delivers link lifecycle notifications and inbound frames.
func (s *Session) Events() <-chan Event {
	return s.events
}

// InitAsHost claims preferredID (or a generated identifier) and starts
// accepting links.
func (s *Session) InitAsHost(ctx context.Context, preferredID string) (string, error) {
	return s.host(ctx, preferredID, "")
}

// TakeOver claims id on behalf of a vanished host whose last advertised
// endpoint was stale, and starts accepting links.
func (s *Session) TakeOver(ctx context.Context, id, stale string) (string, error) {
	return s.host(ctx, id, stale)
}

func (s *Session) host(ctx context.Context, id, stale string) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	ctx, span := s.cfg.Tracer.Start(ctx, "netplay.host", trace.WithAttributes(
		attribute.String("peer.id", id),
		attribute.Bool("takeover", stale != ""),
	))
	defer span.End()

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return "", ErrClosed
	case s.hosting:
		s.mu.Unlock()
		return "", ErrAlreadyHosting
	}
	previous := s.lease
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "listen")
		return "", fmt.Errorf("ws: listen %s: %w", s.cfg.ListenAddr, err)
	}
	endpoint := s.advertise(ln.Addr())

	var lease signal.Lease
	if stale != "" {
		lease, err = s.cfg.Registry.Supersede(ctx, id, stale, endpoint, s.cfg.LeaseTTL)
	} else {
		lease, err = s.cfg.Registry.Claim(ctx, id, endpoint, s.cfg.LeaseTTL)
	}
	if err != nil {
		ln.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim")
		if errors.Is(err, signal.ErrIdentityTaken) {
			return "", fmt.Errorf("%w: %s", ErrIdentityClaim, id)
		}
		return "", fmt.Errorf("ws: claim %s: %w", id, err)
	}

	router := chi.NewRouter()
	router.Get(linkPath, s.serveLink)
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		s.cfg.Registry.Release(context.Background(), lease)
		return "", ErrClosed
	}
	s.id = id
	s.lease = &lease
	s.hosting = true
	s.server = srv
	s.endpoint = endpoint
	s.hostID = ""
	s.hostEndpoint = ""
	s.restartRefreshLocked()
	s.mu.Unlock()

	if previous != nil && previous.ID != id {
		if err := s.cfg.Registry.Release(ctx, *previous); err != nil {
			s.cfg.Logger.Printf("[ws] release of %s failed: %v", previous.ID, err)
		}
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.cfg.Logger.Printf("[ws] listener for %s stopped: %v", id, err)
		}
	}()
	s.cfg.Logger.Printf("[ws] hosting %s at %s", id, endpoint)
	return id, nil
}

func (s *Session) advertise(addr net.Addr) string {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return "ws://" + addr.String() + linkPath
	}
	if s.cfg.AdvertiseHost != "" {
		host = s.cfg.AdvertiseHost
	} else if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, port) + linkPath
}

// ConnectToHost opens this peer's single link to hostID. A session without
// an identity claims a generated one first.
func (s *Session) ConnectToHost(ctx context.Context, hostID, nickname string) error {
	ctx, span := s.cfg.Tracer.Start(ctx, "netplay.connect", trace.WithAttributes(attribute.String("host.id", hostID)))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect")
		return err
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return fail(ErrClosed)
	case s.hosting:
		s.mu.Unlock()
		return fail(ErrAlreadyHosting)
	}
	if _, ok := s.links[hostID]; ok {
		s.mu.Unlock()
		return nil
	}
	id := s.id
	s.mu.Unlock()

	if id == "" {
		claimed, err := s.claimClientIdentity(ctx)
		if err != nil {
			return fail(err)
		}
		id = claimed
	}

	endpoint, err := s.cfg.Registry.Resolve(ctx, hostID)
	if err != nil {
		return fail(fmt.Errorf("%w: resolve %s: %v", ErrPeerUnreachable, hostID, err))
	}
	target, err := url.Parse(endpoint)
	if err != nil {
		return fail(fmt.Errorf("%w: bad endpoint %q: %v", ErrPeerUnreachable, endpoint, err))
	}
	query := target.Query()
	query.Set("peer", id)
	query.Set("nickname", nickname)
	target.RawQuery = query.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.DialTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()
	conn, resp, err := dialer.DialContext(dialCtx, target.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.mu.Lock()
		s.hostID = hostID
		s.hostEndpoint = endpoint
		s.mu.Unlock()
		return fail(fmt.Errorf("%w: dial %s: %v", ErrPeerUnreachable, hostID, err))
	}

	l := newLink(hostID, "", conn, s.cfg.WriteWait)
	s.mu.Lock()
	if s.closed || s.hosting {
		s.mu.Unlock()
		l.close(websocket.CloseGoingAway, "")
		return fail(ErrClosed)
	}
	s.links[hostID] = l
	s.hostID = hostID
	s.hostEndpoint = endpoint
	s.wg.Add(1)
	s.mu.Unlock()

	s.cfg.Metrics.ConnectionOpened()
	s.emit(Event{Kind: EventConnected, Peer: hostID})
	go func() {
		defer s.wg.Done()
		s.readLoop(l)
	}()
	s.cfg.Logger.Printf("[ws] %s connected to %s", id, hostID)
	return nil
}

func (s *Session) claimClientIdentity(ctx context.Context) (string, error) {
	id := uuid.NewString()
	lease, err := s.cfg.Registry.Claim(ctx, id, "", s.cfg.LeaseTTL)
	if err != nil {
		return "", fmt.Errorf("ws: claim client identity: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.cfg.Registry.Release(context.Background(), lease)
		return "", ErrClosed
	}
	s.id = id
	s.lease = &lease
	s.restartRefreshLocked()
	return id, nil
}

func (s *Session) serveLink(w http.ResponseWriter, r *http.Request) {
	peer := r.URL.Query().Get("peer")
	nickname := r.URL.Query().Get("nickname")
	if peer == "" {
		http.Error(w, "missing peer", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Printf("[ws] upgrade failed for %s: %v", peer, err)
		return
	}
	l := newLink(peer, nickname, conn, s.cfg.WriteWait)

	s.mu.Lock()
	if s.closed || !s.hosting {
		s.mu.Unlock()
		l.close(websocket.CloseGoingAway, "")
		return
	}
	if len(s.links) >= s.cfg.MaxConnections {
		count := len(s.links)
		s.wg.Add(1)
		s.mu.Unlock()
		defer s.wg.Done()
		s.cfg.Logger.Printf("[ws] rejecting %s: %d/%d connections", peer, count, s.cfg.MaxConnections)
		s.cfg.Metrics.ConnectionRejected()
		s.emit(Event{Kind: EventRejected, Peer: peer, Nickname: nickname, Connections: count})
		l.close(websocket.ClosePolicyViolation, CloseReasonFull)
		return
	}
	if _, dup := s.links[peer]; dup || peer == s.id {
		s.mu.Unlock()
		s.cfg.Logger.Printf("[ws] rejecting duplicate peer %s", peer)
		l.close(websocket.ClosePolicyViolation, "duplicate peer")
		return
	}
	s.links[peer] = l
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	s.cfg.Metrics.ConnectionOpened()
	s.emit(Event{Kind: EventConnected, Peer: peer, Nickname: nickname})
	s.emit(Event{Kind: EventPlayerJoined, Peer: peer, Nickname: nickname})
	s.readLoop(l)
}

func (s *Session) readLoop(l *link) {
	var cause error
	for {
		_, payload, err := l.conn.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		s.emit(Event{Kind: EventMessage, Peer: l.peer, Data: payload})
	}
	l.close(websocket.CloseNormalClosure, "")

	s.mu.Lock()
	current, registered := s.links[l.peer]
	owned := registered && current == l
	if owned {
		delete(s.links, l.peer)
	}
	hosting := s.hosting
	s.mu.Unlock()
	if !owned {
		return
	}

	s.cfg.Metrics.ConnectionClosed()
	s.emit(Event{Kind: EventDisconnected, Peer: l.peer, Nickname: l.nickname, Err: classifyClose(cause)})
	if hosting {
		s.emit(Event{Kind: EventPlayerLeft, Peer: l.peer, Nickname: l.nickname})
	}
}

func classifyClose(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.ClosePolicyViolation:
			return fmt.Errorf("%w: %s", ErrConnectionRejected, closeErr.Text)
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return nil
		}
	}
	return err
}

func (s *Session) emit(ev Event) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Send writes data to peer's link.
func (s *Session) Send(peer string, data []byte) error {
	s.mu.Lock()
	l, ok := s.links[peer]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownPeer, peer)
	}
	if err := l.write(data); err != nil {
		l.close(websocket.CloseGoingAway, "")
		return fmt.Errorf("ws: send to %s: %w", peer, err)
	}
	return nil
}

// Broadcast writes data to every link except the listed peers and returns
// how many links accepted it.
func (s *Session) Broadcast(data []byte, except ...string) int {
	skip := make(map[string]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}
	s.mu.Lock()
	targets := make([]*link, 0, len(s.links))
	for id, l := range s.links {
		if _, ok := skip[id]; !ok {
			targets = append(targets, l)
		}
	}
	s.mu.Unlock()

	delivered := 0
	for _, l := range targets {
		if err := l.write(data); err != nil {
			s.cfg.Logger.Printf("[ws] broadcast to %s failed: %v", l.peer, err)
			l.close(websocket.CloseGoingAway, "")
			continue
		}
		delivered++
	}
	return delivered
}

// ConnectedPeers lists the peers with an open link, in order.
func (s *Session) ConnectedPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.links))
	for id := range s.links {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Session) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// ID is the identifier this session currently holds, empty before the first
// claim.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Hosting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hosting
}

// Endpoint is the advertised link endpoint while hosting.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// HostEndpoint is the endpoint last resolved for the host, kept after the
// link drops so a survivor can supersede it.
func (s *Session) HostEndpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostEndpoint
}

// Disconnect closes every link and the listener and releases the identity.
// It is safe to call more than once; no events are delivered after the first
// call returns.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	links := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.links = make(map[string]*link)
	srv := s.server
	lease := s.lease
	s.server = nil
	s.lease = nil
	s.hosting = false
	if s.stopRefresh != nil {
		s.stopRefresh()
		s.stopRefresh = nil
	}
	s.mu.Unlock()

	for _, l := range links {
		l.close(websocket.CloseNormalClosure, "bye")
		s.cfg.Metrics.ConnectionClosed()
	}
	if srv != nil {
		srv.Close()
	}
	if lease != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DialTimeout)
		if err := s.cfg.Registry.Release(ctx, *lease); err != nil {
			s.cfg.Logger.Printf("[ws] release of %s failed: %v", lease.ID, err)
		}
		cancel()
	}
	s.wg.Wait()
}

func (s *Session) restartRefreshLocked() {
	if s.stopRefresh != nil {
		s.stopRefresh()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.stopRefresh = cancel
	lease := *s.lease
	go s.refreshLoop(ctx, lease)
}

func (s *Session) refreshLoop(ctx context.Context, lease signal.Lease) {
	interval := s.cfg.LeaseTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.cfg.Registry.Refresh(ctx, lease, s.cfg.LeaseTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.cfg.Logger.Printf("[ws] lease refresh for %s failed: %v", lease.ID, err)
				if errors.Is(err, signal.ErrLeaseLost) {
					return
				}
			}
		}
	}
}
