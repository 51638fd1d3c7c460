// Package roster keeps the peerID -> nickname map. On the host it is the
// authority and is pushed to clients; on a client it is a cache replaced
// wholesale by each roster broadcast.
package roster

import "sort"

// Entry is one roster row.
type Entry struct {
	PeerID   string
	Nickname string
}

// Registry is not safe for concurrent use; it is owned by the hub's event loop.
type Registry struct {
	players map[string]string
}

func New() *Registry {
	return &Registry{players: make(map[string]string)}
}

// Set adds or renames a peer and reports whether the roster changed.
func (r *Registry) Set(peerID, nickname string) bool {
	if peerID == "" {
		return false
	}
	if current, ok := r.players[peerID]; ok && current == nickname {
		return false
	}
	r.players[peerID] = nickname
	return true
}

// Remove drops a peer and reports whether it was present.
func (r *Registry) Remove(peerID string) bool {
	if _, ok := r.players[peerID]; !ok {
		return false
	}
	delete(r.players, peerID)
	return true
}

// Replace overwrites the roster with entries and returns the peers that
// appeared and disappeared relative to the previous contents.
func (r *Registry) Replace(entries []Entry) (joined, left []Entry) {
	next := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.PeerID == "" {
			continue
		}
		next[entry.PeerID] = entry.Nickname
	}
	for id, nickname := range r.players {
		if _, ok := next[id]; !ok {
			left = append(left, Entry{PeerID: id, Nickname: nickname})
		}
	}
	for id, nickname := range next {
		if _, ok := r.players[id]; !ok {
			joined = append(joined, Entry{PeerID: id, Nickname: nickname})
		}
	}
	r.players = next
	sortEntries(joined)
	sortEntries(left)
	return joined, left
}

// Entries returns the roster sorted by peer id.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.players))
	for id, nickname := range r.players {
		out = append(out, Entry{PeerID: id, Nickname: nickname})
	}
	sortEntries(out)
	return out
}

func (r *Registry) Nickname(peerID string) (string, bool) {
	nickname, ok := r.players[peerID]
	return nickname, ok
}

func (r *Registry) Has(peerID string) bool {
	_, ok := r.players[peerID]
	return ok
}

func (r *Registry) Len() int {
	return len(r.players)
}

// Reset empties the roster.
func (r *Registry) Reset() {
	r.players = make(map[string]string)
}

// Equal reports whether r and other hold the same rows.
func (r *Registry) Equal(other *Registry) bool {
	if other == nil || len(r.players) != len(other.players) {
		return false
	}
	for id, nickname := range r.players {
		if theirs, ok := other.players[id]; !ok || theirs != nickname {
			return false
		}
	}
	return true
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].PeerID < entries[j].PeerID })
}
