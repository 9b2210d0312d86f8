package calls

import "sync"

// Registry maps roomID to the coordinators hosted on this instance, one per participant.
// It exists to reconcile duplicate signaling deliveries and to route UI actions.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Coordinator
}

func NewRegistry() *Registry {
	return &Registry{rooms: map[string]map[string]*Coordinator{}}
}

// Add registers c. It returns false if a coordinator for the same room and participant exists.
func (r *Registry) Add(c *Coordinator) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	byUser, ok := r.rooms[c.roomID]
	if !ok {
		byUser = map[string]*Coordinator{}
		r.rooms[c.roomID] = byUser
	}
	if _, exists := byUser[c.selfID]; exists {
		return false
	}
	byUser[c.selfID] = c
	return true
}

func (r *Registry) Get(roomID, selfID string) (*Coordinator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.rooms[roomID][selfID]
	return c, ok
}

// Remove drops c if it is still the registered coordinator for its slot.
func (r *Registry) Remove(c *Coordinator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byUser := r.rooms[c.roomID]
	if byUser[c.selfID] != c {
		return
	}
	delete(byUser, c.selfID)
	if len(byUser) == 0 {
		delete(r.rooms, c.roomID)
	}
}

// ForAccount returns the coordinators in which selfID participates.
func (r *Registry) ForAccount(selfID string) []*Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Coordinator
	for _, byUser := range r.rooms {
		if c, ok := byUser[selfID]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) All() []*Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Coordinator
	for _, byUser := range r.rooms {
		for _, c := range byUser {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, byUser := range r.rooms {
		n += len(byUser)
	}
	return n
}
