// Package signal is the rendezvous substrate peers use to claim identifiers
// and find each other's link endpoints. A claim is a lease: the holder must
// refresh it before the TTL runs out or the identifier becomes claimable
// again, which is what lets a client take over a vanished host's identifier.
package signal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrIdentityTaken = errors.New("signal: identifier already claimed by a live peer")
	ErrNotFound      = errors.New("signal: identifier not claimed")
	ErrNoEndpoint    = errors.New("signal: identifier has no reachable endpoint")
	ErrLeaseLost     = errors.New("signal: lease no longer held")
	ErrInvalidID     = errors.New("signal: empty identifier")
)

// Lease proves ownership of a claimed identifier.
type Lease struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Registry maps peer identifiers to link endpoints.
type Registry interface {
	// Claim takes id for the caller. endpoint may be empty for peers that do
	// not accept inbound links.
	Claim(ctx context.Context, id, endpoint string, ttl time.Duration) (Lease, error)
	// Supersede takes id even while its lease is live, but only if the
	// current holder still advertises stale. It lets the survivors of a
	// crashed host race for its identifier without waiting for the TTL:
	// the first caller wins, the others see ErrIdentityTaken.
	Supersede(ctx context.Context, id, stale, endpoint string, ttl time.Duration) (Lease, error)
	Refresh(ctx context.Context, lease Lease, ttl time.Duration) error
	Resolve(ctx context.Context, id string) (string, error)
	Release(ctx context.Context, lease Lease) error
}

type claim struct {
	token     string
	endpoint  string
	expiresAt time.Time
}

// MemoryRegistry is an in-process Registry. It backs the signaling server and
// tests that run several peers in one process.
type MemoryRegistry struct {
	mu     sync.Mutex
	claims map[string]claim
	now    func() time.Time
}

// NewMemoryRegistry constructs an empty registry. A nil clock uses time.Now.
func NewMemoryRegistry(now func() time.Time) *MemoryRegistry {
	if now == nil {
		now = time.Now
	}
	return &MemoryRegistry{claims: make(map[string]claim), now: now}
}

func (r *MemoryRegistry) Claim(_ context.Context, id, endpoint string, ttl time.Duration) (Lease, error) {
	if id == "" {
		return Lease{}, ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.claims[id]; ok && now.Before(existing.expiresAt) {
		return Lease{}, ErrIdentityTaken
	}
	token := uuid.NewString()
	r.claims[id] = claim{token: token, endpoint: endpoint, expiresAt: now.Add(ttl)}
	return Lease{ID: id, Token: token}, nil
}

func (r *MemoryRegistry) Supersede(_ context.Context, id, stale, endpoint string, ttl time.Duration) (Lease, error) {
	if id == "" {
		return Lease{}, ErrInvalidID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.claims[id]; ok && now.Before(existing.expiresAt) {
		if stale == "" || existing.endpoint != stale {
			return Lease{}, ErrIdentityTaken
		}
	}
	token := uuid.NewString()
	r.claims[id] = claim{token: token, endpoint: endpoint, expiresAt: now.Add(ttl)}
	return Lease{ID: id, Token: token}, nil
}

func (r *MemoryRegistry) Refresh(_ context.Context, lease Lease, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.claims[lease.ID]
	if !ok || existing.token != lease.Token {
		return ErrLeaseLost
	}
	now := r.now()
	if !now.Before(existing.expiresAt) {
		delete(r.claims, lease.ID)
		return ErrLeaseLost
	}
	existing.expiresAt = now.Add(ttl)
	r.claims[lease.ID] = existing
	return nil
}

func (r *MemoryRegistry) Resolve(_ context.Context, id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.claims[id]
	if !ok {
		return "", ErrNotFound
	}
	if !r.now().Before(existing.expiresAt) {
		delete(r.claims, id)
		return "", ErrNotFound
	}
	if existing.endpoint == "" {
		return "", ErrNoEndpoint
	}
	return existing.endpoint, nil
}

func (r *MemoryRegistry) Release(_ context.Context, lease Lease) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.claims[lease.ID]
	if !ok || existing.token != lease.Token {
		return ErrLeaseLost
	}
	delete(r.claims, lease.ID)
	return nil
}

// Live reports whether id is currently claimed.
func (r *MemoryRegistry) Live(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.claims[id]
	return ok && r.now().Before(existing.expiresAt)
}
