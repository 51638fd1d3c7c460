package roster

import "testing"

func TestSetAndRemove(t *testing.T) {
	r := New()
	if !r.Set("host", "Alice") {
		t.Fatalf("expected first set to change roster")
	}
	if r.Set("host", "Alice") {
		t.Fatalf("expected identical set to be a no-op")
	}
	if !r.Set("host", "Alicia") {
		t.Fatalf("expected rename to change roster")
	}
	if r.Set("", "ghost") {
		t.Fatalf("expected empty id to be ignored")
	}
	if nickname, ok := r.Nickname("host"); !ok || nickname != "Alicia" {
		t.Fatalf("unexpected nickname %q", nickname)
	}
	if !r.Remove("host") || r.Remove("host") {
		t.Fatalf("expected remove to report presence once")
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty roster")
	}
}

func TestReplaceReportsDiff(t *testing.T) {
	r := New()
	r.Set("a", "Alice")
	r.Set("b", "Bob")

	joined, left := r.Replace([]Entry{{PeerID: "b", Nickname: "Bob"}, {PeerID: "c", Nickname: "Cara"}})
	if len(joined) != 1 || joined[0].PeerID != "c" {
		t.Fatalf("unexpected joined diff: %+v", joined)
	}
	if len(left) != 1 || left[0].PeerID != "a" {
		t.Fatalf("unexpected left diff: %+v", left)
	}
	entries := r.Entries()
	if len(entries) != 2 || entries[0].PeerID != "b" || entries[1].PeerID != "c" {
		t.Fatalf("expected sorted overwrite, got %+v", entries)
	}
}

// A client that missed join/leave deltas converges after the next full list.
func TestReplaceConvergesAfterMissedDeltas(t *testing.T) {
	host := New()
	client := New()

	host.Set("host", "Alice")
	host.Set("c1", "Bob")
	client.Replace(host.Entries())

	host.Set("c2", "Cara")
	host.Remove("c1")
	host.Set("c3", "Dan")
	if client.Equal(host) {
		t.Fatalf("client should be stale before the next list")
	}

	client.Replace(host.Entries())
	if !client.Equal(host) {
		t.Fatalf("expected client roster %+v to equal host %+v", client.Entries(), host.Entries())
	}
}

func TestReset(t *testing.T) {
	r := New()
	r.Set("a", "A")
	r.Reset()
	if r.Has("a") || r.Len() != 0 {
		t.Fatalf("expected reset roster to be empty")
	}
}
