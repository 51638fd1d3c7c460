package netplay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bartektricks/noob-skater-sub000/internal/config"
	"github.com/bartektricks/noob-skater-sub000/internal/signal"
	"github.com/bartektricks/noob-skater-sub000/internal/telemetry"
	"github.com/bartektricks/noob-skater-sub000/logging"
	"github.com/bartektricks/noob-skater-sub000/logging/lifecycle"
)

const waitTimeout = 3 * time.Second

type recorder struct {
	mu       sync.Mutex
	statuses []Status
	joined   []Player
	left     []Player
	rosters  [][]Player
	chats    []Chat
	errs     []error
}

func (r *recorder) OnStatus(status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recorder) OnPlayerJoined(player Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, player)
}

func (r *recorder) OnPlayerLeft(player Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, player)
}

func (r *recorder) OnRoster(players []Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rosters = append(r.rosters, players)
}

func (r *recorder) OnChat(chat Chat) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, chat)
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) chatLog() []Chat {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chat(nil), r.chats...)
}

func (r *recorder) errorLog() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) count(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.statuses {
		if s == status {
			n++
		}
	}
	return n
}

func testSettings(nickname string) config.Config {
	settings := config.Default()
	settings.Nickname = nickname
	settings.DialTimeout = time.Second
	settings.RosterInterval = 200 * time.Millisecond
	settings.MigrationStagger = 100 * time.Millisecond
	return settings
}

func startHub(t *testing.T, cfg HubConfig, handler Handler) *Hub {
	t.Helper()
	hub := NewHub(cfg, handler)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		hub.Disconnect()
	})
	return hub
}

func newTestHub(t *testing.T, reg signal.Registry, nickname string) (*Hub, *recorder) {
	t.Helper()
	rec := &recorder{}
	return startHub(t, HubConfig{Settings: testSettings(nickname), Registry: reg}, rec), rec
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func rosterIDs(players []Player) string {
	return fmt.Sprint(players)
}

func TestJoinMissingSessionHostsIt(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	alice, aliceRec := newTestHub(t, reg, "Alice")

	if err := alice.Join(ctx, "room-42"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if alice.Role() != RoleHost || alice.ID() != "room-42" || alice.Status() != StatusConnected {
		t.Fatalf("expected Alice to host room-42, got role=%q id=%q status=%q", alice.Role(), alice.ID(), alice.Status())
	}
	if !reg.Live("room-42") {
		t.Fatalf("expected room-42 to be claimed")
	}
	if aliceRec.count(StatusConnected) != 1 {
		t.Fatalf("expected one connected notification, got %v", aliceRec.statuses)
	}

	bob, _ := newTestHub(t, reg, "Bob")
	if err := bob.Join(ctx, "room-42"); err != nil {
		t.Fatalf("bob join failed: %v", err)
	}
	if bob.Role() != RoleClient || bob.HostID() != "room-42" {
		t.Fatalf("expected Bob to be a client of room-42, got role=%q host=%q", bob.Role(), bob.HostID())
	}
	eventually(t, "both rosters to list two players", func() bool {
		return len(alice.Roster()) == 2 && len(bob.Roster()) == 2
	})
	if got, want := rosterIDs(bob.Roster()), rosterIDs(alice.Roster()); got != want {
		t.Fatalf("rosters diverged: host=%s client=%s", want, got)
	}
}

func TestHostIdentityClaimConflict(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	first, _ := newTestHub(t, reg, "first")
	second, _ := newTestHub(t, reg, "second")

	if _, err := first.Host(ctx, "room-1"); err != nil {
		t.Fatalf("host failed: %v", err)
	}
	_, err := second.Host(ctx, "room-1")
	if !errors.Is(err, ErrIdentityClaim) {
		t.Fatalf("expected ErrIdentityClaim, got %v", err)
	}
	var netErr *Error
	if !errors.As(err, &netErr) || netErr.Peer != "room-1" {
		t.Fatalf("expected classified error for room-1, got %#v", err)
	}
	if second.Role() != "" {
		t.Fatalf("expected failed host to stay idle, got %q", second.Role())
	}
	if _, err := first.Host(ctx, "room-2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy when already hosting, got %v", err)
	}
}

func TestRosterConsistentAcrossPeers(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	host, hostRec := newTestHub(t, reg, "Host")
	if _, err := host.Host(ctx, "room-7"); err != nil {
		t.Fatalf("host failed: %v", err)
	}

	clients := make([]*Hub, 0, 3)
	for i := 0; i < 3; i++ {
		client, _ := newTestHub(t, reg, fmt.Sprintf("skater-%d", i))
		if err := client.Join(ctx, "room-7"); err != nil {
			t.Fatalf("client %d join failed: %v", i, err)
		}
		clients = append(clients, client)
	}

	eventually(t, "rosters to converge", func() bool {
		want := rosterIDs(host.Roster())
		if len(host.Roster()) != 4 {
			return false
		}
		for _, c := range clients {
			if rosterIDs(c.Roster()) != want {
				return false
			}
		}
		return true
	})

	clients[0].Disconnect()
	eventually(t, "departure to propagate", func() bool {
		return len(host.Roster()) == 3 && len(clients[1].Roster()) == 3 && len(clients[2].Roster()) == 3
	})
	hostRec.mu.Lock()
	left := append([]Player(nil), hostRec.left...)
	hostRec.mu.Unlock()
	if len(left) != 1 || left[0].Nickname != "skater-0" {
		t.Fatalf("expected host to report skater-0 leaving, got %+v", left)
	}
	if peers := host.ConnectedPeers(); len(peers) != 2 {
		t.Fatalf("expected two remaining links, got %v", peers)
	}
}

func TestHostRejectsBeyondCapacity(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	settings := testSettings("Host")
	settings.MaxConnections = 1
	var (
		mu     sync.Mutex
		events []logging.Event
	)
	pub := logging.PublisherFunc(func(_ context.Context, event logging.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})
	host := startHub(t, HubConfig{Settings: settings, Registry: reg, Publisher: pub}, &recorder{})
	if _, err := host.Host(ctx, "tiny"); err != nil {
		t.Fatalf("host failed: %v", err)
	}

	first, _ := newTestHub(t, reg, "first")
	if err := first.Join(ctx, "tiny"); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	eventually(t, "first client to be admitted", func() bool { return len(host.Roster()) == 2 })

	late, lateRec := newTestHub(t, reg, "late")
	if err := late.Join(ctx, "tiny"); err != nil {
		t.Fatalf("expected handshake to succeed before rejection, got %v", err)
	}
	eventually(t, "late client to see the rejection", func() bool {
		for _, err := range lateRec.errorLog() {
			if errors.Is(err, ErrConnectionRejected) {
				return true
			}
		}
		return false
	})
	if late.Status() != StatusDisconnected {
		t.Fatalf("expected rejected client to be disconnected, got %q", late.Status())
	}
	if late.Role() != "" {
		t.Fatalf("expected rejected client to drop its role, got %q", late.Role())
	}
	if len(host.Roster()) != 2 {
		t.Fatalf("expected roster to stay at two, got %v", host.Roster())
	}

	eventually(t, "join event to be published", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, event := range events {
			if event.Type == lifecycle.EventPeerJoined && event.Session == "tiny" {
				return true
			}
		}
		return false
	})
}

func TestChatRelayedThroughHost(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	host, hostRec := newTestHub(t, reg, "Host")
	host.Host(ctx, "chat")
	alice, aliceRec := newTestHub(t, reg, "Alice")
	bob, bobRec := newTestHub(t, reg, "Bob")
	alice.Join(ctx, "chat")
	bob.Join(ctx, "chat")
	eventually(t, "roster of three", func() bool { return len(bob.Roster()) == 3 && len(alice.Roster()) == 3 })

	if err := alice.SendChat("  kickflip!  "); err != nil {
		t.Fatalf("send chat failed: %v", err)
	}
	eventually(t, "bob to receive the line", func() bool { return len(bobRec.chatLog()) == 1 })

	got := bobRec.chatLog()[0]
	if got.Text != "kickflip!" || got.SenderID != alice.ID() || got.SenderNickname != "Alice" {
		t.Fatalf("unexpected relayed chat: %+v", got)
	}
	if chats := hostRec.chatLog(); len(chats) != 1 || chats[0].SenderID != alice.ID() {
		t.Fatalf("expected host to deliver chat locally, got %+v", chats)
	}

	if err := host.SendChat("welcome"); err != nil {
		t.Fatalf("host chat failed: %v", err)
	}
	eventually(t, "host line to reach both clients", func() bool {
		return len(aliceRec.chatLog()) == 2 && len(bobRec.chatLog()) == 2
	})
	for _, chat := range aliceRec.chatLog() {
		if chat.Text == "kickflip!" && chat.SenderID != alice.ID() {
			t.Fatalf("unexpected echo: %+v", chat)
		}
	}
	if n := len(aliceRec.chatLog()); n != 2 {
		t.Fatalf("expected sender to see own line once, got %d lines", n)
	}

	idle, _ := newTestHub(t, reg, "idle")
	if err := idle.SendChat("hello?"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSnapshotsReachEveryPeer(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	host, _ := newTestHub(t, reg, "Host")
	host.Host(ctx, "park")
	alice, _ := newTestHub(t, reg, "Alice")
	bob, _ := newTestHub(t, reg, "Bob")
	alice.Join(ctx, "park")
	bob.Join(ctx, "park")
	eventually(t, "roster of three", func() bool { return len(bob.Roster()) == 3 && len(alice.Roster()) == 3 })

	hostSnap := EntitySnapshot{Position: Vec3{X: 1}}
	aliceSnap := EntitySnapshot{Position: Vec3{X: 5, Z: 2}}
	if !host.SubmitSnapshot(hostSnap) {
		t.Fatalf("expected first host snapshot to be sent")
	}
	if !alice.SubmitSnapshot(aliceSnap) {
		t.Fatalf("expected first client snapshot to be sent")
	}
	if host.SubmitSnapshot(hostSnap) {
		t.Fatalf("expected unchanged snapshot inside the interval to be held back")
	}

	eventually(t, "host to render alice", func() bool {
		_, ok := host.Frame(time.Now())[alice.ID()]
		return ok
	})
	eventually(t, "bob to render host and alice", func() bool {
		frame := bob.Frame(time.Now())
		_, sawHost := frame["park"]
		_, sawAlice := frame[alice.ID()]
		return sawHost && sawAlice
	})
	if _, self := alice.Frame(time.Now())[alice.ID()]; self {
		t.Fatalf("expected alice not to reconcile her own skater")
	}
}

func TestHostLossMigratesToSurvivor(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	host, _ := newTestHub(t, reg, "Host")
	host.Host(ctx, "room-9")
	alice, aliceRec := newTestHub(t, reg, "Alice")
	bob, bobRec := newTestHub(t, reg, "Bob")
	alice.Join(ctx, "room-9")
	bob.Join(ctx, "room-9")
	eventually(t, "roster of three", func() bool { return len(bob.Roster()) == 3 && len(alice.Roster()) == 3 })

	host.Disconnect()

	eventually(t, "a survivor to take over room-9", func() bool {
		return (alice.Role() == RoleHost) != (bob.Role() == RoleHost)
	})
	successor, follower := alice, bob
	if bob.Role() == RoleHost {
		successor, follower = bob, alice
	}
	if successor.ID() != "room-9" {
		t.Fatalf("expected successor to adopt room-9, got %q", successor.ID())
	}
	eventually(t, "follower to reconnect", func() bool {
		return follower.Status() == StatusConnected && follower.HostID() == "room-9" && len(follower.Roster()) == 2
	})
	if got, want := rosterIDs(follower.Roster()), rosterIDs(successor.Roster()); got != want {
		t.Fatalf("rosters diverged after migration: host=%s client=%s", want, got)
	}
	for _, errs := range [][]error{aliceRec.errorLog(), bobRec.errorLog()} {
		if len(errs) != 0 {
			t.Fatalf("expected migration without errors, got %v", errs)
		}
	}
}

func TestFollowerResendsRightAfterMigration(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	settings := func(nickname string) config.Config {
		s := testSettings(nickname)
		s.IdleInterval = time.Minute
		return s
	}
	host := startHub(t, HubConfig{Settings: settings("Host"), Registry: reg}, nil)
	alice := startHub(t, HubConfig{Settings: settings("Alice"), Registry: reg}, nil)
	bob := startHub(t, HubConfig{Settings: settings("Bob"), Registry: reg}, nil)
	host.Host(ctx, "room-7")
	alice.Join(ctx, "room-7")
	bob.Join(ctx, "room-7")
	eventually(t, "roster of three", func() bool { return len(bob.Roster()) == 3 && len(alice.Roster()) == 3 })

	idle := EntitySnapshot{Position: Vec3{X: 1}}
	if !alice.SubmitSnapshot(idle) || !bob.SubmitSnapshot(idle) {
		t.Fatalf("expected first snapshots to go out")
	}
	if alice.SubmitSnapshot(idle) {
		t.Fatalf("expected an idle repeat to be throttled")
	}

	host.Disconnect()
	eventually(t, "a survivor to take over room-7", func() bool {
		return (alice.Role() == RoleHost) != (bob.Role() == RoleHost)
	})
	follower := alice
	if alice.Role() == RoleHost {
		follower = bob
	}
	eventually(t, "follower to reconnect", func() bool {
		return follower.Status() == StatusConnected && len(follower.Roster()) == 2
	})
	if !follower.SubmitSnapshot(idle) {
		t.Fatalf("expected the follower's first snapshot to the new host to go out immediately")
	}
}

// refusingRegistry never lets anyone claim one identifier.
type refusingRegistry struct {
	*signal.MemoryRegistry
	refused string
}

func (r refusingRegistry) Claim(ctx context.Context, id, endpoint string, ttl time.Duration) (signal.Lease, error) {
	if id == r.refused {
		return signal.Lease{}, signal.ErrIdentityTaken
	}
	return r.MemoryRegistry.Claim(ctx, id, endpoint, ttl)
}

func (r refusingRegistry) Supersede(ctx context.Context, id, stale, endpoint string, ttl time.Duration) (signal.Lease, error) {
	if id == r.refused {
		return signal.Lease{}, signal.ErrIdentityTaken
	}
	return r.MemoryRegistry.Supersede(ctx, id, stale, endpoint, ttl)
}

func TestJoinReportsMigrationFailure(t *testing.T) {
	reg := refusingRegistry{MemoryRegistry: signal.NewMemoryRegistry(nil), refused: "room-z"}
	hub, rec := newTestHub(t, reg, "Zed")

	err := hub.Join(context.Background(), "room-z")
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	var netErr *Error
	if !errors.As(err, &netErr) || netErr.Peer != "room-z" {
		t.Fatalf("expected error to name room-z, got %#v", err)
	}
	if hub.Status() != StatusDisconnected || hub.Role() != "" {
		t.Fatalf("expected disconnected hub without a role, got %q/%q", hub.Status(), hub.Role())
	}
	errs := rec.errorLog()
	if len(errs) != 1 || !errors.Is(errs[0], ErrMigrationFailed) {
		t.Fatalf("expected one ErrMigrationFailed via OnError, got %v", errs)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := signal.NewMemoryRegistry(nil)
	hub, rec := newTestHub(t, reg, "solo")
	if _, err := hub.Host(ctx, "solo-room"); err != nil {
		t.Fatalf("host failed: %v", err)
	}

	hub.Disconnect()
	hub.Disconnect()

	if hub.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected status, got %q", hub.Status())
	}
	if n := rec.count(StatusDisconnected); n != 1 {
		t.Fatalf("expected one disconnected notification, got %d", n)
	}
	if reg.Live("solo-room") {
		t.Fatalf("expected lease to be released")
	}
	if _, err := hub.Host(ctx, "again"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after disconnect, got %v", err)
	}
}

type panickyHandler struct {
	NopHandler
}

func (panickyHandler) OnStatus(Status) { panic("boom") }

func TestHandlerPanicIsRecovered(t *testing.T) {
	var (
		mu     sync.Mutex
		logged []string
	)
	logger := telemetry.LoggerFunc(func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		logged = append(logged, fmt.Sprintf(format, args...))
	})
	reg := signal.NewMemoryRegistry(nil)
	hub := startHub(t, HubConfig{Settings: testSettings("p"), Registry: reg, Logger: logger}, panickyHandler{})

	if _, err := hub.Host(context.Background(), "panic-room"); err != nil {
		t.Fatalf("host failed: %v", err)
	}
	if hub.Status() != StatusConnected {
		t.Fatalf("expected hub to survive handler panic, got %q", hub.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, line := range logged {
		if line == "[netplay] handler panic recovered: boom" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected panic to be logged, got %v", logged)
	}
}
