package realtime

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Tyrowin/roomchat/internal/domain"
)

// ConnID identifies one live connection.
type ConnID string

// Sink is the outbound side of a connection. Send must not block: it either
// queues the payload and returns true, or drops it and returns false.
type Sink interface {
	Send(payload []byte) bool
}

// PresenceRecord describes an online identity.
type PresenceRecord struct {
	Identity    domain.Identity `json:"identity"`
	Connections int             `json:"connections"`
}

type registration struct {
	id       ConnID
	identity domain.Identity
	sink     Sink
}

// Registry maps identities to their live connections. An identity may hold
// any number of connections; it is online iff that set is non-empty.
type Registry struct {
	mu         sync.RWMutex
	conns      map[ConnID]*registration
	byIdentity map[string]map[ConnID]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		conns:      make(map[ConnID]*registration),
		byIdentity: make(map[string]map[ConnID]struct{}),
	}
}

// Register adds a connection for identity and returns its id. The second
// result is true when this is the identity's first live connection.
func (r *Registry) Register(identity domain.Identity, sink Sink) (ConnID, bool) {
	id := ConnID(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[id] = &registration{id: id, identity: identity, sink: sink}
	set, ok := r.byIdentity[identity.ID]
	if !ok {
		set = make(map[ConnID]struct{})
		r.byIdentity[identity.ID] = set
	}
	set[id] = struct{}{}
	return id, len(set) == 1
}

// Unregister removes a connection. Unknown ids are ignored and report
// ok=false. last is true only when the identity's final connection was
// removed.
func (r *Registry) Unregister(id ConnID) (identity domain.Identity, last, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, found := r.conns[id]
	if !found {
		return domain.Identity{}, false, false
	}
	delete(r.conns, id)

	set := r.byIdentity[reg.identity.ID]
	delete(set, id)
	if len(set) > 0 {
		return reg.identity, false, true
	}
	delete(r.byIdentity, reg.identity.ID)
	return reg.identity, true, true
}

// ConnectionsFor returns the live connection ids of an identity.
func (r *Registry) ConnectionsFor(identityID string) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byIdentity[identityID]
	out := make([]ConnID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// IsOnline reports whether the identity has at least one live connection.
func (r *Registry) IsOnline(identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identityID]) > 0
}

// Count returns the number of live connections held by an identity.
func (r *Registry) Count(identityID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity[identityID])
}

// Lookup returns the owner and sink of a connection.
func (r *Registry) Lookup(id ConnID) (domain.Identity, Sink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.conns[id]
	if !ok {
		return domain.Identity{}, nil, false
	}
	return reg.identity, reg.sink, true
}

// Len returns the total number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// all copies every registration so callers can send without holding the lock.
func (r *Registry) all() []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*registration, 0, len(r.conns))
	for _, reg := range r.conns {
		out = append(out, reg)
	}
	return out
}

// pick copies the registrations for ids that are still live.
func (r *Registry) pick(ids []ConnID) []*registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*registration, 0, len(ids))
	for _, id := range ids {
		if reg, ok := r.conns[id]; ok {
			out = append(out, reg)
		}
	}
	return out
}

// Online returns a presence record per online identity, ordered by name.
func (r *Registry) Online() []PresenceRecord {
	r.mu.RLock()
	out := make([]PresenceRecord, 0, len(r.byIdentity))
	for _, set := range r.byIdentity {
		for id := range set {
			out = append(out, PresenceRecord{
				Identity:    r.conns[id].identity,
				Connections: len(set),
			})
			break
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity.Name != out[j].Identity.Name {
			return out[i].Identity.Name < out[j].Identity.Name
		}
		return out[i].Identity.ID < out[j].Identity.ID
	})
	return out
}
