package relay

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Peer is the send half of a bridge connection.
type Peer interface {
	Send(ctx context.Context, frame []byte) error
	Close() error
}

type client struct {
	peer Peer
	id   uint32
}

// BroadcastResult reports the outcome of one fan-out.
type BroadcastResult struct {
	Delivered int
	// Failed lists, sorted, the addresses whose send failed.
	Failed []string
}

// Registry is the set of connected bridges keyed by remote address.
//
// Insert and Remove take the lock exclusively. Broadcast holds it shared for
// the whole fan-out, so no connection joins or leaves mid-broadcast while
// broadcasts from distinct connections may overlap.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]client)}
}

// Insert adds or replaces the connection at addr.
func (r *Registry) Insert(addr string, id uint32, p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[addr] = client{peer: p, id: id}
}

// Remove deletes addr and reports whether it was present. Removing an absent
// address is a no-op.
func (r *Registry) Remove(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.clients[addr]
	delete(r.clients, addr)
	return ok
}

// Len returns the number of connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ID returns the client id registered at addr.
func (r *Registry) ID(addr string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[addr]
	return c.id, ok
}

// Broadcast sends frame to every connection except from. Sends run
// concurrently; a failing recipient does not affect the others. It returns
// once every send has finished.
func (r *Registry) Broadcast(ctx context.Context, from string, frame []byte) BroadcastResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		g      errgroup.Group
		mu     sync.Mutex
		result BroadcastResult
	)
	for addr, c := range r.clients {
		if addr == from {
			continue
		}
		g.Go(func() error {
			err := c.peer.Send(ctx, frame)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, addr)
			} else {
				result.Delivered++
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(result.Failed)
	return result
}

// CloseAll closes every connection. Their receive loops then remove them.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		_ = c.peer.Close()
	}
}
