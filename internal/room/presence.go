package room

import (
	"sort"
	"sync"
)

// Presence maintains the set of participants joined to a room. Liveness is
// delegated to the transport channel: Track on connect, Forget on disconnect.
// The membership set handed to handlers is rebuilt from scratch on every
// change, never patched incrementally, which keeps it consistent after
// network blips at room-sized scale.
type Presence struct {
	mu       sync.Mutex
	members  map[string]PresenceEntry // connection id -> entry
	handlers []func([]PresenceEntry)
}

func NewPresence() *Presence {
	return &Presence{members: make(map[string]PresenceEntry)}
}

// Track announces a participant's presence for a live connection. Re-tracking
// the same connection replaces its entry.
func (p *Presence) Track(connID string, e PresenceEntry) {
	p.mu.Lock()
	p.members[connID] = e
	hs, set := p.snapshotLocked()
	p.mu.Unlock()
	notify(hs, set)
}

// Forget drops a connection, typically from the channel's disconnect hook.
func (p *Presence) Forget(connID string) {
	p.mu.Lock()
	if _, ok := p.members[connID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.members, connID)
	hs, set := p.snapshotLocked()
	p.mu.Unlock()
	notify(hs, set)
}

// OnChange registers a handler that receives the full membership set on every
// join or leave.
func (p *Presence) OnChange(h func([]PresenceEntry)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Members returns the current membership set, deduplicated by name and
// sorted, so repeated syncs with unchanged membership are identical.
func (p *Presence) Members() []PresenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, set := p.snapshotLocked()
	return set
}

func (p *Presence) snapshotLocked() ([]func([]PresenceEntry), []PresenceEntry) {
	byName := make(map[string]PresenceEntry, len(p.members))
	for _, e := range p.members {
		byName[e.Name] = e
	}
	set := make([]PresenceEntry, 0, len(byName))
	for _, e := range byName {
		set = append(set, e)
	}
	sort.Slice(set, func(i, j int) bool { return set[i].Name < set[j].Name })
	hs := make([]func([]PresenceEntry), len(p.handlers))
	copy(hs, p.handlers)
	return hs, set
}

func notify(hs []func([]PresenceEntry), set []PresenceEntry) {
	for _, h := range hs {
		h(set)
	}
}
