package hub

import (
	"fmt"
	"log"
	"sync"
)

// QueueRoom is the broadcast group of agents watching the waiting queue.
const QueueRoom = "queue"

func ChatRoom(chatID int) string {
	return fmt.Sprintf("chat:%d", chatID)
}

// Registry tracks live connections and their room membership. Membership is
// process-local, best-effort state used only for broadcast delivery; the hub
// compensates for its weakness with identity-based fan-out on terminal
// events, which is why ByIdentity is part of the contract.
type Registry interface {
	Register(c *Client)
	Unregister(c *Client)
	Join(room string, c *Client)
	Leave(room string, c *Client)
	InRoom(room string, c *Client) bool
	Broadcast(room, event string, data interface{})
	ByIdentity(key string) []*Client
}

type roomRegistry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func NewRoomRegistry() *roomRegistry {
	return &roomRegistry{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

func (r *roomRegistry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c] = struct{}{}
	log.Printf("Client registered, %d connections live", len(r.clients))
}

func (r *roomRegistry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, c)
	for name, members := range r.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, name)
		}
	}
}

func (r *roomRegistry) Join(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (r *roomRegistry) Leave(room string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if members, ok := r.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(r.rooms, room)
		}
	}
}

func (r *roomRegistry) InRoom(room string, c *Client) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c]
	return ok
}

// Broadcast delivers an event to every member of a room. A failed write
// means a dead connection: it is closed and dropped.
func (r *roomRegistry) Broadcast(room, event string, data interface{}) {
	r.mu.RLock()
	members := make([]*Client, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		if err := c.Send(event, data); err != nil {
			log.Printf("Error sending %s to room %s member: %v", event, room, err)
			c.Close()
			r.Unregister(c)
		}
	}
}

// ByIdentity returns every live connection whose resolved principal matches
// the given identity key, independent of room membership.
func (r *roomRegistry) ByIdentity(key string) []*Client {
	if key == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Client
	for c := range r.clients {
		p := c.Principal()
		if p != nil && p.Key() == key {
			matched = append(matched, c)
		}
	}
	return matched
}
