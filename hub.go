package netplay

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bartektricks/noob-skater-sub000/internal/config"
	"github.com/bartektricks/noob-skater-sub000/internal/migration"
	"github.com/bartektricks/noob-skater-sub000/internal/net/proto"
	"github.com/bartektricks/noob-skater-sub000/internal/net/ws"
	"github.com/bartektricks/noob-skater-sub000/internal/reconcile"
	"github.com/bartektricks/noob-skater-sub000/internal/roster"
	"github.com/bartektricks/noob-skater-sub000/internal/schedule"
	"github.com/bartektricks/noob-skater-sub000/internal/signal"
	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
	"github.com/bartektricks/noob-skater-sub000/logging"
	"github.com/bartektricks/noob-skater-sub000/logging/lifecycle"
	"github.com/bartektricks/noob-skater-sub000/logging/network"
)

// HubConfig wires a Hub to its collaborators.
type HubConfig struct {
	Settings config.Config
	Registry signal.Registry

	// Nickname returns the local player's display name. It is read again on
	// every connect and takeover. Nil uses Settings.Nickname.
	Nickname func() string

	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Tracer    trace.Tracer
	Rails     RailGeometry
	Now       func() time.Time
}

// DefaultHubConfig returns a config with default settings and no registry.
func DefaultHubConfig() HubConfig {
	return HubConfig{Settings: config.Default()}
}

// Hub ties the transport session, protocol, roster, migration controller,
// reconciler and scheduler together. Transport events are consumed by Run;
// the game calls SubmitSnapshot and Frame from its own loop.
type Hub struct {
	cfg       HubConfig
	handler   Handler
	session   *ws.Session
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	tracer    trace.Tracer
	interval  time.Duration

	mu            sync.Mutex
	status        Status
	role          Role
	selfID        string
	hostID        string
	roster        *roster.Registry
	reconciler    *reconcile.Reconciler
	scheduler     *schedule.Scheduler
	migration     *migration.Controller
	pending       map[string]proto.EntitySnapshot
	lastHost      proto.EntitySnapshot
	hostKnown     bool
	lastBroadcast time.Time
	disconnecting bool

	retry     chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub constructs a Hub in the local state. A nil handler ignores
// notifications.
func NewHub(cfg HubConfig, handler Handler) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Discard()
	}
	if cfg.Publisher == nil {
		cfg.Publisher = logging.NopPublisher()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.NopMetrics()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = telemetry.Tracer()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Nickname == nil {
		nickname := cfg.Settings.Nickname
		cfg.Nickname = func() string { return nickname }
	}
	if handler == nil {
		handler = NopHandler{}
	}

	settings := cfg.Settings
	reconcileCfg := settings.ReconcileSettings()
	reconcileCfg.Rails = cfg.Rails
	scheduleCfg := settings.Schedule()

	session := ws.NewSession(ws.SessionConfig{
		Registry:       cfg.Registry,
		ListenAddr:     settings.ListenAddr,
		AdvertiseHost:  settings.AdvertiseHost,
		MaxConnections: settings.MaxConnections,
		DialTimeout:    settings.DialTimeout,
		LeaseTTL:       settings.LeaseTTL,
		Logger:         cfg.Logger,
		Metrics:        cfg.Metrics,
		Tracer:         cfg.Tracer,
	})

	return &Hub{
		cfg:        cfg,
		handler:    handler,
		session:    session,
		logger:     cfg.Logger,
		publisher:  cfg.Publisher,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		interval:   scheduleCfg.Interval(),
		status:     StatusLocal,
		roster:     roster.New(),
		reconciler: reconcile.New(reconcileCfg),
		scheduler:  schedule.New(scheduleCfg),
		migration: migration.NewController(migration.Config{
			Stagger: settings.MigrationStagger,
			Unreachable: func(err error) bool {
				return errors.Is(err, ws.ErrPeerUnreachable)
			},
		}),
		pending: make(map[string]proto.EntitySnapshot),
		retry:   make(chan string, 1),
		done:    make(chan struct{}),
	}
}

// outbound is a protocol message queued while the lock is held and written
// once it is released.
type outbound struct {
	to     string
	except string
	msg    proto.Message
}

type effects struct {
	from    string
	frames  []outbound
	notices []func(Handler)
}

func (fx *effects) send(to string, msg proto.Message) {
	fx.frames = append(fx.frames, outbound{to: to, msg: msg})
}

func (fx *effects) broadcast(msg proto.Message, except string) {
	fx.frames = append(fx.frames, outbound{except: except, msg: msg})
}

func (fx *effects) notify(fn func(Handler)) {
	fx.notices = append(fx.notices, fn)
}

// do runs fn under the lock, then performs the writes and callbacks it
// queued.
func (h *Hub) do(fn func(fx *effects)) {
	var fx effects
	h.mu.Lock()
	fn(&fx)
	fx.from = h.selfID
	h.mu.Unlock()
	h.deliver(fx)
}

func (h *Hub) deliver(fx effects) {
	for _, out := range fx.frames {
		data, err := proto.Encode(fx.from, out.msg)
		if err != nil {
			h.logger.Printf("[netplay] encode %s failed: %v", out.msg.MessageType(), err)
			continue
		}
		msgType := out.msg.MessageType()
		if out.to != "" {
			if err := h.session.Send(out.to, data); err != nil {
				h.logger.Printf("[netplay] send %s to %s failed: %v", msgType, out.to, err)
				continue
			}
			h.metrics.MessageSent(msgType, len(data))
			continue
		}
		var except []string
		if out.except != "" {
			except = append(except, out.except)
		}
		for n := h.session.Broadcast(data, except...); n > 0; n-- {
			h.metrics.MessageSent(msgType, len(data))
		}
	}
	for _, notice := range fx.notices {
		h.dispatch(notice)
	}
}

func (h *Hub) dispatch(fn func(Handler)) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Printf("[netplay] handler panic recovered: %v", r)
		}
	}()
	fn(h.handler)
}

func (h *Hub) nickname() string {
	name := strings.TrimSpace(h.cfg.Nickname())
	if name == "" {
		return "skater"
	}
	return name
}

func (h *Hub) setStatusLocked(fx *effects, status Status) {
	if h.status == status {
		return
	}
	h.status = status
	fx.notify(func(handler Handler) { handler.OnStatus(status) })
}

func (h *Hub) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Host starts a session under preferredID, or a generated identifier when it
// is empty, and returns the identifier.
func (h *Hub) Host(ctx context.Context, preferredID string) (string, error) {
	if h.closed() {
		return "", ErrClosed
	}
	h.mu.Lock()
	busy := h.role != ""
	h.mu.Unlock()
	if busy {
		return "", ErrBusy
	}

	id, err := h.session.InitAsHost(ctx, preferredID)
	if err != nil {
		if errors.Is(err, ws.ErrIdentityClaim) {
			return "", newError(ErrIdentityClaim, preferredID, err)
		}
		return "", newError(ErrTransport, preferredID, err)
	}
	h.do(func(fx *effects) {
		h.becomeHostLocked(fx, id)
	})
	h.logger.Printf("[netplay] hosting session %s", id)
	return id, nil
}

// Join connects to the session hosted under hostID. When the host cannot be
// reached the hub takes the identifier over and hosts the session itself;
// only a failed takeover is returned as an error.
func (h *Hub) Join(ctx context.Context, hostID string) error {
	if h.closed() {
		return ErrClosed
	}
	var beginErr error
	h.do(func(fx *effects) {
		if h.role != "" {
			beginErr = ErrBusy
			return
		}
		if err := h.migration.BeginConnect(hostID); err != nil {
			beginErr = err
			return
		}
		h.role = RoleClient
		h.hostID = hostID
		h.setStatusLocked(fx, StatusConnecting)
	})
	if beginErr != nil {
		return beginErr
	}
	return h.connect(ctx, hostID)
}

func (h *Hub) connect(ctx context.Context, hostID string) error {
	err := h.session.ConnectToHost(ctx, hostID, h.nickname())
	selfID := h.session.ID()
	if err == nil {
		h.do(func(fx *effects) {
			h.selfID = selfID
			if h.role == RoleClient && h.hostID == hostID {
				h.migration.Connected()
				h.scheduler.Reset()
				h.setStatusLocked(fx, StatusConnected)
			}
		})
		return nil
	}

	h.logger.Printf("[netplay] connect to %s failed: %v", hostID, err)
	network.PeerUnreachable(ctx, logging.WithSession(h.publisher, hostID),
		logging.PeerRef{ID: selfID, Role: logging.PeerRoleClient},
		network.UnreachablePayload{Error: err.Error()}, nil)

	var d migration.Decision
	h.do(func(fx *effects) {
		h.selfID = selfID
		d = h.migration.ConnectFailed(err)
	})
	return h.apply(ctx, d)
}

func (h *Hub) apply(ctx context.Context, d migration.Decision) error {
	switch d.Action {
	case migration.ActionTakeover:
		return h.takeover(ctx, d.HostID)
	case migration.ActionReconnect:
		h.do(func(fx *effects) {
			h.setStatusLocked(fx, StatusConnecting)
		})
		if d.Delay > 0 {
			hostID := d.HostID
			time.AfterFunc(d.Delay, func() {
				select {
				case h.retry <- hostID:
				case <-h.done:
				}
			})
			return nil
		}
		return h.connect(ctx, d.HostID)
	case migration.ActionFail:
		return h.fail(ctx, d)
	default:
		return nil
	}
}

func (h *Hub) takeover(ctx context.Context, hostID string) error {
	ctx, span := h.tracer.Start(ctx, "netplay.migrate", trace.WithAttributes(attribute.String("host.id", hostID)))
	defer span.End()

	h.do(func(fx *effects) {
		h.setStatusLocked(fx, StatusConnecting)
	})
	stale := h.session.HostEndpoint()
	id, err := h.session.TakeOver(ctx, hostID, stale)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "takeover")
		h.metrics.Migration("lost")
		h.logger.Printf("[netplay] takeover of %s failed: %v", hostID, err)
		var d migration.Decision
		h.do(func(fx *effects) {
			d = h.migration.TakeoverFailed(err)
		})
		return h.apply(ctx, d)
	}

	h.metrics.Migration("succeeded")
	lifecycle.HostMigrated(ctx, logging.WithSession(h.publisher, id),
		logging.PeerRef{ID: id, Role: logging.PeerRoleHost},
		lifecycle.MigrationPayload{SessionID: id, Reason: "host unreachable"}, nil)
	h.do(func(fx *effects) {
		h.migration.TakeoverSucceeded()
		h.becomeHostLocked(fx, id)
	})
	h.logger.Printf("[netplay] took over session %s", id)
	return nil
}

func (h *Hub) fail(ctx context.Context, d migration.Decision) error {
	var err *Error
	switch {
	case errors.Is(d.Err, migration.ErrMigrationFailed):
		err = newError(ErrMigrationFailed, d.HostID, d.Err)
		h.metrics.Migration("failed")
		lifecycle.MigrationFailed(ctx, logging.WithSession(h.publisher, d.HostID),
			logging.PeerRef{ID: h.session.ID(), Role: logging.PeerRoleClient},
			lifecycle.MigrationPayload{SessionID: d.HostID, Reason: "takeover race lost", Error: d.Err.Error()}, nil)
	case errors.Is(d.Err, ws.ErrConnectionRejected):
		err = newError(ErrConnectionRejected, d.HostID, d.Err)
	case errors.Is(d.Err, ws.ErrPeerUnreachable):
		err = newError(ErrPeerUnreachable, d.HostID, d.Err)
	default:
		err = newError(ErrTransport, d.HostID, d.Err)
	}
	h.logger.Printf("[netplay] giving up on %s: %v", d.HostID, err)
	h.do(func(fx *effects) {
		h.dropSessionLocked(fx)
		fx.notify(func(handler Handler) { handler.OnError(err) })
	})
	return err
}

// dropSessionLocked returns to a disconnected, empty view of the world.
func (h *Hub) dropSessionLocked(fx *effects) {
	h.role = ""
	h.hostID = ""
	h.roster.Reset()
	h.reconciler.Reset()
	h.scheduler.Reset()
	h.pending = make(map[string]proto.EntitySnapshot)
	h.hostKnown = false
	h.setStatusLocked(fx, StatusDisconnected)
	fx.notify(func(handler Handler) { handler.OnRoster(nil) })
}

func (h *Hub) becomeHostLocked(fx *effects, id string) {
	h.role = RoleHost
	h.selfID = id
	h.hostID = id
	h.migration.BeginHosting(id)
	h.roster.Reset()
	h.roster.Set(id, h.nickname())
	h.reconciler.Reset()
	h.scheduler.Reset()
	h.pending = make(map[string]proto.EntitySnapshot)
	h.hostKnown = false
	h.setStatusLocked(fx, StatusConnected)
	fx.broadcast(h.playerListLocked(), "")
	players := h.playersLocked()
	fx.notify(func(handler Handler) { handler.OnRoster(players) })
}

// Run consumes transport events and drives the relay and roster timers until
// ctx is cancelled or Disconnect is called.
func (h *Hub) Run(ctx context.Context) error {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	rosterInterval := h.cfg.Settings.RosterInterval
	if rosterInterval <= 0 {
		rosterInterval = 5 * time.Second
	}
	rosterTick := time.NewTicker(rosterInterval)
	defer rosterTick.Stop()

	events := h.session.Events()
	for {
		select {
		case <-ctx.Done():
			h.Disconnect()
			return ctx.Err()
		case <-h.done:
			return nil
		case ev := <-events:
			h.handleEvent(ctx, ev)
		case <-tick.C:
			h.flushPending()
		case <-rosterTick.C:
			h.broadcastRoster()
		case hostID := <-h.retry:
			h.connect(ctx, hostID)
		}
	}
}

func (h *Hub) handleEvent(ctx context.Context, ev ws.Event) {
	switch ev.Kind {
	case ws.EventMessage:
		h.handleFrame(ctx, ev.Peer, ev.Data)
	case ws.EventConnected:
		h.onConnected(ev)
	case ws.EventPlayerJoined:
		h.onPlayerJoined(ctx, ev)
	case ws.EventPlayerLeft:
		h.onPlayerLeft(ctx, ev)
	case ws.EventDisconnected:
		h.onDisconnected(ctx, ev)
	case ws.EventRejected:
		h.onRejected(ctx, ev)
	}
}

func (h *Hub) onConnected(ev ws.Event) {
	h.do(func(fx *effects) {
		if h.role != RoleClient || ev.Peer != h.hostID {
			return
		}
		h.migration.Connected()
		h.setStatusLocked(fx, StatusConnected)
	})
}

func (h *Hub) onPlayerJoined(ctx context.Context, ev ws.Event) {
	nickname := ev.Nickname
	if nickname == "" {
		nickname = ev.Peer
	}
	var session string
	h.do(func(fx *effects) {
		if h.role != RoleHost {
			return
		}
		session = h.selfID
		if !h.roster.Set(ev.Peer, nickname) {
			return
		}
		player := Player{PeerID: ev.Peer, Nickname: nickname}
		fx.broadcast(proto.PlayerJoined{PeerID: ev.Peer, Nickname: nickname}, ev.Peer)
		fx.broadcast(h.playerListLocked(), "")
		players := h.playersLocked()
		fx.notify(func(handler Handler) { handler.OnPlayerJoined(player) })
		fx.notify(func(handler Handler) { handler.OnRoster(players) })
	})
	if session != "" {
		lifecycle.PeerJoined(ctx, logging.WithSession(h.publisher, session),
			logging.PeerRef{ID: ev.Peer, Role: logging.PeerRoleClient},
			lifecycle.PeerPayload{Nickname: nickname}, nil)
	}
}

func (h *Hub) onPlayerLeft(ctx context.Context, ev ws.Event) {
	var (
		session string
		player  Player
	)
	h.do(func(fx *effects) {
		if h.role != RoleHost {
			return
		}
		nickname, ok := h.roster.Nickname(ev.Peer)
		if !ok {
			return
		}
		h.roster.Remove(ev.Peer)
		h.reconciler.Remove(ev.Peer)
		delete(h.pending, ev.Peer)
		session = h.selfID
		player = Player{PeerID: ev.Peer, Nickname: nickname}
		fx.broadcast(proto.PlayerLeft{PeerID: ev.Peer, Nickname: nickname}, "")
		fx.broadcast(h.playerListLocked(), "")
		players := h.playersLocked()
		fx.notify(func(handler Handler) { handler.OnPlayerLeft(player) })
		fx.notify(func(handler Handler) { handler.OnRoster(players) })
	})
	if session != "" {
		lifecycle.PeerLeft(ctx, logging.WithSession(h.publisher, session),
			logging.PeerRef{ID: player.PeerID, Role: logging.PeerRoleClient},
			lifecycle.PeerPayload{Nickname: player.Nickname}, nil)
	}
}

func (h *Hub) onDisconnected(ctx context.Context, ev ws.Event) {
	var (
		d        migration.Decision
		rejected bool
	)
	h.do(func(fx *effects) {
		if h.disconnecting || h.role != RoleClient || ev.Peer != h.hostID {
			return
		}
		if errors.Is(ev.Err, ws.ErrConnectionRejected) {
			rejected = true
			h.migration.Reset()
			return
		}
		ids := make([]string, 0, h.roster.Len())
		for _, entry := range h.roster.Entries() {
			ids = append(ids, entry.PeerID)
		}
		h.reconciler.Remove(ev.Peer)
		d = h.migration.HostLost(h.selfID, ids)
	})

	if rejected {
		h.fail(ctx, migration.Decision{Action: migration.ActionFail, HostID: ev.Peer, Err: ev.Err})
		return
	}
	if d.Action != migration.ActionNone {
		h.logger.Printf("[netplay] lost host %s, next step %s after %v", ev.Peer, d.Action, d.Delay)
		h.apply(ctx, d)
	}
}

func (h *Hub) onRejected(ctx context.Context, ev ws.Event) {
	h.mu.Lock()
	self := h.selfID
	h.mu.Unlock()
	network.ConnectionRejected(ctx, logging.WithSession(h.publisher, self),
		logging.PeerRef{ID: self, Role: logging.PeerRoleHost},
		network.RejectionPayload{Connections: ev.Connections, MaxConnections: h.cfg.Settings.MaxConnections},
		map[string]any{"peer": ev.Peer})
}

func (h *Hub) handleFrame(ctx context.Context, peer string, data []byte) {
	env, msg, err := proto.Decode(data)
	if err != nil {
		h.rejectFrame(ctx, peer, env.Type, "decode", err)
		return
	}
	h.metrics.MessageReceived(env.Type, len(data))

	var routeErr error
	now := h.cfg.Now()
	h.do(func(fx *effects) {
		sender := RoleClient
		if h.role == RoleClient {
			sender = RoleHost
		}
		if routeErr = proto.CheckRoute(env.Type, sender, h.role); routeErr != nil {
			return
		}
		switch m := msg.(type) {
		case proto.GameState:
			h.applyGameStateLocked(m, now)
		case proto.PlayerInput:
			h.applyPlayerInputLocked(peer, m, now)
		case proto.PlayerJoined:
			h.applyJoinedLocked(fx, m)
		case proto.PlayerLeft:
			h.applyLeftLocked(fx, m)
		case proto.PlayerList:
			h.applyPlayerListLocked(fx, m)
		case proto.ChatMessage:
			h.applyChatLocked(fx, peer, m, h.role == RoleHost && proto.Relayed(env.Type))
		}
	})
	if routeErr != nil {
		h.rejectFrame(ctx, peer, env.Type, "route", routeErr)
	}
}

func (h *Hub) rejectFrame(ctx context.Context, peer, msgType, reason string, err error) {
	h.metrics.MessageRejected(reason)
	h.logger.Printf("[netplay] dropping %q from %s: %v", msgType, peer, err)
	network.MessageRejected(ctx, h.publisher,
		logging.PeerRef{ID: peer, Role: logging.PeerRoleUnknown},
		network.MessagePayload{MessageType: msgType, Reason: err.Error()}, nil)
}

func (h *Hub) applyGameStateLocked(m proto.GameState, now time.Time) {
	if h.hostID != "" && h.hostID != h.selfID {
		h.reconciler.Ingest(h.hostID, m.Host, now)
	}
	for _, entity := range m.Entities {
		if entity.PeerID == h.selfID || entity.PeerID == h.hostID || !h.roster.Has(entity.PeerID) {
			continue
		}
		h.reconciler.Ingest(entity.PeerID, entity.Snapshot, now)
	}
}

func (h *Hub) applyPlayerInputLocked(peer string, m proto.PlayerInput, now time.Time) {
	if !h.roster.Has(peer) {
		return
	}
	if m.ClientID != "" && m.ClientID != peer {
		h.logger.Printf("[netplay] input from %s claims client id %s", peer, m.ClientID)
	}
	h.pending[peer] = m.Snapshot
	h.reconciler.Ingest(peer, m.Snapshot, now)
}

func (h *Hub) applyJoinedLocked(fx *effects, m proto.PlayerJoined) {
	if !h.roster.Set(m.PeerID, m.Nickname) || m.PeerID == h.selfID {
		return
	}
	player := Player{PeerID: m.PeerID, Nickname: m.Nickname}
	fx.notify(func(handler Handler) { handler.OnPlayerJoined(player) })
}

func (h *Hub) applyLeftLocked(fx *effects, m proto.PlayerLeft) {
	nickname, ok := h.roster.Nickname(m.PeerID)
	if !ok {
		return
	}
	h.roster.Remove(m.PeerID)
	h.reconciler.Remove(m.PeerID)
	player := Player{PeerID: m.PeerID, Nickname: nickname}
	fx.notify(func(handler Handler) { handler.OnPlayerLeft(player) })
}

func (h *Hub) applyPlayerListLocked(fx *effects, m proto.PlayerList) {
	entries := make([]roster.Entry, 0, len(m.Players))
	for _, p := range m.Players {
		entries = append(entries, roster.Entry{PeerID: p.PeerID, Nickname: p.Nickname})
	}
	joined, left := h.roster.Replace(entries)

	keep := make([]string, 0, len(entries))
	for _, entry := range h.roster.Entries() {
		if entry.PeerID != h.selfID {
			keep = append(keep, entry.PeerID)
		}
	}
	h.reconciler.Retain(keep)

	for _, entry := range joined {
		if entry.PeerID == h.selfID {
			continue
		}
		player := Player{PeerID: entry.PeerID, Nickname: entry.Nickname}
		fx.notify(func(handler Handler) { handler.OnPlayerJoined(player) })
	}
	for _, entry := range left {
		player := Player{PeerID: entry.PeerID, Nickname: entry.Nickname}
		fx.notify(func(handler Handler) { handler.OnPlayerLeft(player) })
	}
	players := h.playersLocked()
	fx.notify(func(handler Handler) { handler.OnRoster(players) })
}

func (h *Hub) applyChatLocked(fx *effects, peer string, m proto.ChatMessage, relay bool) {
	chat := m.Chat
	if h.role == RoleHost {
		chat.SenderID = peer
		if nickname, ok := h.roster.Nickname(peer); ok && chat.SenderNickname == "" {
			chat.SenderNickname = nickname
		}
	}
	if relay {
		fx.broadcast(proto.ChatMessage{Chat: chat}, peer)
	}
	fx.notify(func(handler Handler) { handler.OnChat(chat) })
}

func (h *Hub) playerListLocked() proto.PlayerList {
	entries := h.roster.Entries()
	players := make([]proto.Player, 0, len(entries))
	for _, entry := range entries {
		players = append(players, proto.Player{PeerID: entry.PeerID, Nickname: entry.Nickname})
	}
	return proto.PlayerList{Players: players}
}

func (h *Hub) playersLocked() []Player {
	entries := h.roster.Entries()
	players := make([]Player, 0, len(entries))
	for _, entry := range entries {
		players = append(players, Player{PeerID: entry.PeerID, Nickname: entry.Nickname})
	}
	return players
}

// gameStateLocked aggregates the client snapshots received since the last
// broadcast and clears them.
func (h *Hub) gameStateLocked(now time.Time) proto.GameState {
	state := proto.GameState{Host: h.lastHost}
	if len(h.pending) > 0 {
		state.Entities = make([]proto.PeerSnapshot, 0, len(h.pending))
		for id, snapshot := range h.pending {
			state.Entities = append(state.Entities, proto.PeerSnapshot{PeerID: id, Snapshot: snapshot})
		}
		sort.Slice(state.Entities, func(i, j int) bool {
			return state.Entities[i].PeerID < state.Entities[j].PeerID
		})
		h.pending = make(map[string]proto.EntitySnapshot)
	}
	h.lastBroadcast = now
	return state
}

// SubmitSnapshot offers the local skater's state for this tick and reports
// whether it went out on the wire.
func (h *Hub) SubmitSnapshot(snapshot EntitySnapshot) bool {
	now := h.cfg.Now()
	sent := false
	h.do(func(fx *effects) {
		if h.role == "" || h.status != StatusConnected {
			return
		}
		out, ok := h.scheduler.Decide(now, snapshot)
		if !ok {
			return
		}
		switch h.role {
		case RoleHost:
			h.lastHost = out
			h.hostKnown = true
			fx.broadcast(h.gameStateLocked(now), "")
		case RoleClient:
			fx.send(h.hostID, proto.PlayerInput{Snapshot: out, ClientID: h.selfID})
		}
		sent = true
	})
	return sent
}

// flushPending relays client snapshots at the normal rate even while the
// host's own skater is idle.
func (h *Hub) flushPending() {
	now := h.cfg.Now()
	h.do(func(fx *effects) {
		if h.role != RoleHost || !h.hostKnown || len(h.pending) == 0 {
			return
		}
		if now.Sub(h.lastBroadcast) < h.interval {
			return
		}
		fx.broadcast(h.gameStateLocked(now), "")
	})
}

func (h *Hub) broadcastRoster() {
	h.do(func(fx *effects) {
		if h.role != RoleHost {
			return
		}
		fx.broadcast(h.playerListLocked(), "")
	})
}

// SendChat sends text to everyone in the session. The local handler sees the
// line immediately.
func (h *Hub) SendChat(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var err error
	now := h.cfg.Now()
	h.do(func(fx *effects) {
		if h.role == "" || h.status != StatusConnected {
			err = ErrNotConnected
			return
		}
		chat := Chat{
			SenderID:       h.selfID,
			SenderNickname: h.nickname(),
			Text:           text,
			Timestamp:      now.UnixMilli(),
		}
		if h.role == RoleHost {
			fx.broadcast(proto.ChatMessage{Chat: chat}, "")
		} else {
			fx.send(h.hostID, proto.ChatMessage{Chat: chat})
		}
		fx.notify(func(handler Handler) { handler.OnChat(chat) })
	})
	return err
}

// Frame advances every remote skater to now and returns their render states
// keyed by peer id.
func (h *Hub) Frame(now time.Time) map[string]RenderState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reconciler.Frame(now)
}

func (h *Hub) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Role is empty until the hub hosts or joins a session.
func (h *Hub) Role() Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.role
}

func (h *Hub) ID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selfID
}

func (h *Hub) HostID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hostID
}

func (h *Hub) Roster() []Player {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.playersLocked()
}

// ConnectedPeers lists the peers this hub has an open link to.
func (h *Hub) ConnectedPeers() []string {
	return h.session.ConnectedPeers()
}

// Disconnect leaves the session. It is safe to call more than once.
func (h *Hub) Disconnect() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.disconnecting = true
		h.mu.Unlock()

		h.session.Disconnect()
		close(h.done)
		h.do(func(fx *effects) {
			h.migration.Reset()
			h.dropSessionLocked(fx)
		})
	})
}
