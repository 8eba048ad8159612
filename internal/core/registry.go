package core

import "sync"

// Registry maps authenticated users to their live client and tracks which
// rooms each client is subscribed to. One identity has at most one client;
// registering a second one replaces the first.
//
// All four indexes are guarded by a single mutex so readers never observe a
// client that is present in one view and missing from another. The lock is
// never held while delivering events.
type Registry struct {
	mu          sync.RWMutex
	byUser      map[int64]*Client
	byClient    map[*Client]int64
	rooms       map[int64]map[*Client]struct{}
	clientRooms map[*Client]map[int64]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser:      make(map[int64]*Client),
		byClient:    make(map[*Client]int64),
		rooms:       make(map[int64]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[int64]struct{}),
	}
}

// Register maps userID to c. If another client was registered for userID it
// is dropped from every index and returned; the registry does not notify it.
func (r *Registry) Register(userID int64, c *Client) (displaced *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, ok := r.byClient[c]; ok && prevUser != userID {
		r.removeLocked(c)
	}

	if old, ok := r.byUser[userID]; ok && old != c {
		r.removeLocked(old)
		displaced = old
	}

	r.byUser[userID] = c
	r.byClient[c] = userID
	return displaced
}

// Unregister removes c and its room subscriptions. It returns the identity
// that was freed, or false if c was not registered. Calling it again is a
// no-op.
func (r *Registry) Unregister(c *Client) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byClient[c]
	if !ok {
		return 0, false
	}
	r.removeLocked(c)
	return userID, true
}

// removeLocked drops c from every index. r.mu must be held for writing.
func (r *Registry) removeLocked(c *Client) {
	if userID, ok := r.byClient[c]; ok {
		if r.byUser[userID] == c {
			delete(r.byUser, userID)
		}
		delete(r.byClient, c)
	}
	for roomID := range r.clientRooms[c] {
		subs := r.rooms[roomID]
		delete(subs, c)
		if len(subs) == 0 {
			delete(r.rooms, roomID)
		}
	}
	delete(r.clientRooms, c)
}

// Lookup returns the live client of userID.
func (r *Registry) Lookup(userID int64) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// IdentityOf returns the user a client is registered for.
func (r *Registry) IdentityOf(c *Client) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.byClient[c]
	return userID, ok
}

// Subscribe adds c to a room's broadcast group. It reports false, and does
// nothing, if c is not registered.
func (r *Registry) Subscribe(c *Client, roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byClient[c]; !ok {
		return false
	}
	r.subscribeLocked(c, roomID)
	return true
}

func (r *Registry) subscribeLocked(c *Client, roomID int64) {
	subs, ok := r.rooms[roomID]
	if !ok {
		subs = make(map[*Client]struct{})
		r.rooms[roomID] = subs
	}
	subs[c] = struct{}{}

	joined, ok := r.clientRooms[c]
	if !ok {
		joined = make(map[int64]struct{})
		r.clientRooms[c] = joined
	}
	joined[roomID] = struct{}{}
}

// JoinAllRooms subscribes the current client of userID to every room in
// roomIDs in one step. It returns the number of rooms joined, zero when the
// user has no live client.
func (r *Registry) JoinAllRooms(userID int64, roomIDs []int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.byUser[userID]
	if !ok {
		return 0
	}
	for _, roomID := range roomIDs {
		r.subscribeLocked(c, roomID)
	}
	return len(roomIDs)
}

// Unsubscribe removes c from a room's broadcast group.
func (r *Registry) Unsubscribe(c *Client, roomID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subs, ok := r.rooms[roomID]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if joined, ok := r.clientRooms[c]; ok {
		delete(joined, roomID)
	}
}

// RetainRooms drops every subscription of c whose room is not in keep and
// returns how many were dropped.
func (r *Registry) RetainRooms(c *Client, keep []int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := make(map[int64]struct{}, len(keep))
	for _, roomID := range keep {
		allowed[roomID] = struct{}{}
	}

	dropped := 0
	for roomID := range r.clientRooms[c] {
		if _, ok := allowed[roomID]; ok {
			continue
		}
		subs := r.rooms[roomID]
		delete(subs, c)
		if len(subs) == 0 {
			delete(r.rooms, roomID)
		}
		delete(r.clientRooms[c], roomID)
		dropped++
	}
	return dropped
}

// UnsubscribeUser removes the live client of userID, if any, from a room.
func (r *Registry) UnsubscribeUser(userID, roomID int64) {
	if c, ok := r.Lookup(userID); ok {
		r.Unsubscribe(c, roomID)
	}
}

// Members returns a snapshot of the clients subscribed to a room.
func (r *Registry) Members(roomID int64) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.rooms[roomID]
	out := make([]*Client, 0, len(subs))
	for c := range subs {
		out = append(out, c)
	}
	return out
}

// IsSubscribed reports whether c receives broadcasts for roomID.
func (r *Registry) IsSubscribed(c *Client, roomID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][c]
	return ok
}

// Online returns the number of registered clients.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Clients returns a snapshot of every registered client.
func (r *Registry) Clients() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Client, 0, len(r.byClient))
	for c := range r.byClient {
		out = append(out, c)
	}
	return out
}
