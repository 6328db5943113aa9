package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"slidelive/internal/room"
)

// Path is one best-effort outbound delivery route. Send failures are logged
// by the multiplexer and never surfaced to publishers.
type Path interface {
	Name() string
	Send(code string, origin *Multiplexer, ev room.Event) error
}

// Multiplexer is the single publish/subscribe surface over all delivery
// paths. Publish invokes local subscribers synchronously before any outbound
// path is attempted, so the publisher's own state settles ahead of network
// latency; the outbound paths are independent and best-effort.
type Multiplexer struct {
	mu     sync.RWMutex
	code   string
	nextID int
	subs   map[room.EventType]map[int]func(room.Event)
	paths  []Path
}

func NewMultiplexer(paths ...Path) *Multiplexer {
	return &Multiplexer{
		subs:  make(map[room.EventType]map[int]func(room.Event)),
		paths: paths,
	}
}

// JoinRoom binds the multiplexer to a room code. Any previous binding is torn
// down first; a multiplexer is never a member of two rooms at once. Joining
// the room it is already in is a no-op.
func (m *Multiplexer) JoinRoom(code string) {
	code = room.NormalizeCode(code)
	m.mu.Lock()
	if m.code == code {
		m.mu.Unlock()
		return
	}
	prev := m.code
	m.code = code
	paths := m.paths
	m.mu.Unlock()

	for _, p := range paths {
		if j, ok := p.(interface {
			Join(code string, m *Multiplexer)
			Leave(code string, m *Multiplexer)
		}); ok {
			if prev != "" {
				j.Leave(prev, m)
			}
			if code != "" {
				j.Join(code, m)
			}
		}
	}
}

// LeaveRoom tears down the current binding.
func (m *Multiplexer) LeaveRoom() {
	m.JoinRoom("")
}

// RoomCode returns the current binding.
func (m *Multiplexer) RoomCode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (m *Multiplexer) Subscribe(t room.EventType, h func(room.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[t] == nil {
		m.subs[t] = make(map[int]func(room.Event))
	}
	id := m.nextID
	m.nextID++
	m.subs[t][id] = h
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[t], id)
	}
}

// Publish validates the event at the boundary, delivers it to local
// subscribers synchronously, then fans out over every path. A failing path
// neither raises to the caller nor blocks the other paths.
func (m *Multiplexer) Publish(ev room.Event) {
	if err := ev.Validate(); err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("dropping invalid event")
		return
	}
	m.Deliver(ev)

	m.mu.RLock()
	code := m.code
	paths := m.paths
	m.mu.RUnlock()
	if code == "" {
		return
	}
	for _, p := range paths {
		if err := p.Send(code, m, ev); err != nil {
			log.Error().Err(err).Str("path", p.Name()).Str("type", string(ev.Type)).Msg("path send failed")
		}
	}
}

// Deliver invokes local subscribers for an event that arrived over a path
// (or, during Publish, for self-delivery).
func (m *Multiplexer) Deliver(ev room.Event) {
	m.mu.RLock()
	hs := make([]func(room.Event), 0, len(m.subs[ev.Type]))
	for _, h := range m.subs[ev.Type] {
		hs = append(hs, h)
	}
	m.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}

// Loopback is the same-device path: an in-process broadcast group that
// mirrors events to every other multiplexer bound to the same room code,
// the way a cross-tab channel would on one machine.
type Loopback struct {
	mu      sync.RWMutex
	members map[string]map[*Multiplexer]bool
}

func NewLoopback() *Loopback {
	return &Loopback{members: make(map[string]map[*Multiplexer]bool)}
}

func (l *Loopback) Name() string { return "loopback" }

func (l *Loopback) Join(code string, m *Multiplexer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.members[code] == nil {
		l.members[code] = make(map[*Multiplexer]bool)
	}
	l.members[code][m] = true
}

func (l *Loopback) Leave(code string, m *Multiplexer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g := l.members[code]; g != nil {
		delete(g, m)
		if len(g) == 0 {
			delete(l.members, code)
		}
	}
}

func (l *Loopback) Send(code string, origin *Multiplexer, ev room.Event) error {
	l.mu.RLock()
	targets := make([]*Multiplexer, 0, len(l.members[code]))
	for m := range l.members[code] {
		if m != origin {
			targets = append(targets, m)
		}
	}
	l.mu.RUnlock()
	for _, m := range targets {
		m.Deliver(ev)
	}
	return nil
}
