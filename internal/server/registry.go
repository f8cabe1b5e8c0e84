package server

import (
	"cmp"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry is the authoritative table of TCP peers presumed reachable.
// Entries are removed eagerly on any detected failure.
type Registry struct {
	mu    sync.RWMutex
	peers map[int]*Peer
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[int]*Peer)}
}

// Add inserts a peer under its id.
func (r *Registry) Add(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID()] = p
}

// Remove deletes the entry for id and reports whether it was present.
// Removing an absent id is a no-op.
func (r *Registry) Remove(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return false
	}
	delete(r.peers, id)
	return true
}

// Get returns the peer registered under id.
func (r *Registry) Get(id int) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Snapshot returns the registered peers ordered by id.
func (r *Registry) Snapshot() []*Peer {
	r.mu.RLock()
	peers := lo.Values(r.peers)
	r.mu.RUnlock()

	slices.SortFunc(peers, func(a, b *Peer) int { return cmp.Compare(a.ID(), b.ID()) })
	return peers
}
