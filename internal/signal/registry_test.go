package signal

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryRegistryClaimConflict(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil)

	if _, err := reg.Claim(ctx, "room-42", "ws://a", time.Minute); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := reg.Claim(ctx, "room-42", "ws://b", time.Minute); !errors.Is(err, ErrIdentityTaken) {
		t.Fatalf("expected ErrIdentityTaken, got %v", err)
	}
	endpoint, err := reg.Resolve(ctx, "room-42")
	if err != nil || endpoint != "ws://a" {
		t.Fatalf("expected ws://a, got %q (%v)", endpoint, err)
	}
	if _, err := reg.Claim(ctx, "", "ws://x", time.Minute); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
}

func TestMemoryRegistryLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	clock := &stubClock{now: time.Unix(1000, 0)}
	reg := NewMemoryRegistry(clock.Now)

	lease, err := reg.Claim(ctx, "room-42", "ws://a", 10*time.Second)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	clock.Advance(8 * time.Second)
	if err := reg.Refresh(ctx, lease, 10*time.Second); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	clock.Advance(8 * time.Second)
	if !reg.Live("room-42") {
		t.Fatalf("expected refreshed lease to be live")
	}

	clock.Advance(3 * time.Second)
	if _, err := reg.Resolve(ctx, "room-42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired lease to resolve as not found, got %v", err)
	}
	if _, err := reg.Claim(ctx, "room-42", "ws://b", 10*time.Second); err != nil {
		t.Fatalf("expected expired identifier to be claimable, got %v", err)
	}
	if err := reg.Refresh(ctx, lease, time.Second); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected stale lease refresh to fail, got %v", err)
	}
	if err := reg.Release(ctx, lease); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected stale lease release to fail, got %v", err)
	}
}

func TestMemoryRegistryNoEndpoint(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil)
	lease, err := reg.Claim(ctx, "client-1", "", time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := reg.Resolve(ctx, "client-1"); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
	if err := reg.Release(ctx, lease); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := reg.Resolve(ctx, "client-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected released id to be gone, got %v", err)
	}
}

func TestHTTPRoundTrip(t *testing.T) {
	ctx := context.Background()
	router := chi.NewRouter()
	NewHandler(NewMemoryRegistry(nil), nil).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, nil)
	lease, err := client.Claim(ctx, "room-42", "ws://127.0.0.1:9000/link", time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if lease.Token == "" || lease.ID != "room-42" {
		t.Fatalf("unexpected lease: %+v", lease)
	}

	if _, err := client.Claim(ctx, "room-42", "ws://elsewhere", time.Minute); !errors.Is(err, ErrIdentityTaken) {
		t.Fatalf("expected ErrIdentityTaken over HTTP, got %v", err)
	}

	endpoint, err := client.Resolve(ctx, "room-42")
	if err != nil || endpoint != "ws://127.0.0.1:9000/link" {
		t.Fatalf("unexpected resolve result %q (%v)", endpoint, err)
	}
	if err := client.Refresh(ctx, lease, time.Minute); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if err := client.Release(ctx, lease); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := client.Resolve(ctx, "room-42"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after release, got %v", err)
	}
}

func TestSupersedeRequiresStaleEndpoint(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil)
	old, err := reg.Claim(ctx, "room-42", "ws://dead", time.Minute)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if _, err := reg.Supersede(ctx, "room-42", "ws://other", "ws://b", time.Minute); !errors.Is(err, ErrIdentityTaken) {
		t.Fatalf("expected mismatched stale endpoint to be refused, got %v", err)
	}
	winner, err := reg.Supersede(ctx, "room-42", "ws://dead", "ws://a", time.Minute)
	if err != nil {
		t.Fatalf("supersede failed: %v", err)
	}
	if _, err := reg.Supersede(ctx, "room-42", "ws://dead", "ws://c", time.Minute); !errors.Is(err, ErrIdentityTaken) {
		t.Fatalf("expected second takeover to lose the race, got %v", err)
	}
	if endpoint, _ := reg.Resolve(ctx, "room-42"); endpoint != "ws://a" {
		t.Fatalf("expected winner endpoint, got %q", endpoint)
	}
	if err := reg.Refresh(ctx, old, time.Minute); !errors.Is(err, ErrLeaseLost) {
		t.Fatalf("expected superseded lease to be lost, got %v", err)
	}
	if err := reg.Refresh(ctx, winner, time.Minute); err != nil {
		t.Fatalf("winner refresh failed: %v", err)
	}
}

func TestHTTPSupersede(t *testing.T) {
	ctx := context.Background()
	router := chi.NewRouter()
	NewHandler(NewMemoryRegistry(nil), nil).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, nil)
	if _, err := client.Claim(ctx, "room-42", "ws://dead", time.Minute); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := client.Supersede(ctx, "room-42", "ws://dead", "ws://alive", time.Minute); err != nil {
		t.Fatalf("supersede failed: %v", err)
	}
	if _, err := client.Supersede(ctx, "room-42", "ws://dead", "ws://late", time.Minute); !errors.Is(err, ErrIdentityTaken) {
		t.Fatalf("expected ErrIdentityTaken, got %v", err)
	}
}
