package discovery

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Registry remembers discovered peers by instance name.
type Registry struct {
	self  string
	mu    sync.RWMutex
	peers map[string]Peer
}

// NewRegistry returns a Registry that ignores the local instance self.
func NewRegistry(self string) *Registry {
	return &Registry{self: self, peers: make(map[string]Peer)}
}

// Add records p, replacing an earlier entry for the same instance.
func (r *Registry) Add(p Peer) {
	if p.Instance == r.self {
		return
	}
	r.mu.Lock()
	r.peers[p.Instance] = p
	r.mu.Unlock()
}

// List returns the known peers sorted by instance.
func (r *Registry) List() []Peer {
	r.mu.RLock()
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// ServeHTTP writes the peer list as JSON.
func (r *Registry) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(r.List())
}
