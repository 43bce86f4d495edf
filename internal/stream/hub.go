// Package stream fans ride notifications out to live connections.
package stream

import (
	"log"
	"sync"
)

// clientBuffer is the number of messages queued per client before drops.
const clientBuffer = 64

// Hooks are called when a ride gains its first or loses its last client.
type Hooks struct {
	OnFirst func(rideID string) error
	OnLast  func(rideID string)
}

// Client is one live connection following a ride.
type Client struct {
	RideID string
	Send   chan []byte
}

// Hub keeps the live clients of every ride.
type Hub struct {
	hooks Hooks

	// lifecycle orders first/last hooks; mu guards clients only, so
	// Broadcast never waits on a hook.
	lifecycle sync.Mutex
	mu        sync.RWMutex
	clients   map[string]map[*Client]struct{}
}

// NewHub creates a Hub.
func NewHub(hooks Hooks) *Hub {
	return &Hub{
		hooks:   hooks,
		clients: map[string]map[*Client]struct{}{},
	}
}

// Register adds a client for rideID. The first client of a ride runs OnFirst;
// if it fails the client is not registered.
func (h *Hub) Register(rideID string) (*Client, error) {
	client := &Client{
		RideID: rideID,
		Send:   make(chan []byte, clientBuffer),
	}

	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	first := len(h.clients[rideID]) == 0
	if first {
		h.clients[rideID] = map[*Client]struct{}{}
	}
	h.clients[rideID][client] = struct{}{}
	h.mu.Unlock()

	if first && h.hooks.OnFirst != nil {
		if err := h.hooks.OnFirst(rideID); err != nil {
			h.mu.Lock()
			delete(h.clients, rideID)
			h.mu.Unlock()
			return nil, err
		}
	}
	return client, nil
}

// Unregister removes the client and closes its Send channel. The last client
// of a ride runs OnLast.
func (h *Hub) Unregister(client *Client) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	rideClients, ok := h.clients[client.RideID]
	if ok {
		if _, ok = rideClients[client]; ok {
			delete(rideClients, client)
			close(client.Send)
		}
	}
	last := ok && len(rideClients) == 0
	if last {
		delete(h.clients, client.RideID)
	}
	h.mu.Unlock()

	if last && h.hooks.OnLast != nil {
		h.hooks.OnLast(client.RideID)
	}
}

// Broadcast queues payload for every client of rideID. Slow clients drop messages.
func (h *Hub) Broadcast(rideID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[rideID] {
		select {
		case client.Send <- payload:
		default:
			log.Printf("[STREAM] ride=%s dropping message for slow client", rideID)
		}
	}
}

// Clients returns the number of clients following rideID.
func (h *Hub) Clients(rideID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[rideID])
}
