package realtime

import (
	"go.uber.org/zap"

	"github.com/Tyrowin/roomchat/internal/domain"
)

// Presence announces identity transitions to every registered connection.
// Callers invoke it once per transition, never once per connection.
type Presence struct {
	registry *Registry
	log      *zap.SugaredLogger
}

// NewPresence returns a broadcaster that reads recipients from registry.
func NewPresence(registry *Registry, log *zap.SugaredLogger) *Presence {
	return &Presence{registry: registry, log: log}
}

// AnnounceOnline tells all connections that identity became reachable and
// returns the number of connections that accepted the event.
func (p *Presence) AnnounceOnline(identity domain.Identity) int {
	return p.broadcast(EventIdentityOnline, identity)
}

// AnnounceOffline tells all connections that identity became unreachable.
func (p *Presence) AnnounceOffline(identity domain.Identity) int {
	return p.broadcast(EventIdentityOffline, identity)
}

func (p *Presence) broadcast(typ EventType, identity domain.Identity) int {
	payload, err := Encode(typ, identity)
	if err != nil {
		p.log.Errorf("Error encoding %s event for %s: %v", typ, identity.ID, err)
		return 0
	}

	sent := 0
	for _, reg := range p.registry.all() {
		if reg.sink.Send(payload) {
			sent++
			continue
		}
		p.log.Debugf("Dropped %s event for connection %s", typ, reg.id)
	}
	p.log.Infof("Announced %s for %s to %d connections", typ, identity.Name, sent)
	return sent
}
