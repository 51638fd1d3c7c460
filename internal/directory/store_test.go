package directory

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestStoreRegisterListUnregister(t *testing.T) {
	ctx := context.Background()
	current := time.Unix(100, 0)
	store := NewStore(func() time.Time { return current }, nil)

	first, err := store.Register(ctx, "Venice Beach")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	current = current.Add(time.Minute)
	second, err := store.Register(ctx, "  Southbank ")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if second.DisplayName != "Southbank" {
		t.Fatalf("expected trimmed name, got %q", second.DisplayName)
	}

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != second.ID || sessions[1].ID != first.ID {
		t.Fatalf("expected newest session first, got %+v", sessions)
	}

	if err := store.Unregister(ctx, first.ID); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if err := store.Unregister(ctx, first.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := store.Register(ctx, "   "); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestStoreHidesDeadSessions(t *testing.T) {
	ctx := context.Background()
	alive := map[string]bool{}
	store := NewStore(nil, func(id string) bool { return alive[id] })

	live, _ := store.Register(ctx, "live")
	store.Register(ctx, "dead")
	alive[live.ID] = true

	sessions, _ := store.List(ctx)
	if len(sessions) != 1 || sessions[0].ID != live.ID {
		t.Fatalf("expected only the live session, got %+v", sessions)
	}
}

func TestHTTPClient(t *testing.T) {
	ctx := context.Background()
	router := chi.NewRouter()
	NewHandler(NewStore(nil, nil)).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, nil)
	session, err := client.Register(ctx, "Lyon")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	sessions, err := client.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != session.ID || sessions[0].DisplayName != "Lyon" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if err := client.Unregister(ctx, session.ID); err != nil {
		t.Fatalf("unregister failed: %v", err)
	}
	if err := client.Unregister(ctx, session.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := client.Register(ctx, ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}
