package room

import (
	"context"
	"errors"
	"sync"
)

// memStore is an in-memory Store for tests. failPersist makes the next N
// PersistResponse calls fail, for offline-path tests.
type memStore struct {
	mu          sync.Mutex
	sessions    map[string]*Session // id -> session
	responses   []Response
	overrides   map[string]map[OverrideKey]bool
	failPersist int
	persists    int
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[string]*Session),
		overrides: make(map[string]map[OverrideKey]bool),
	}
}

func (m *memStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) FetchSessionByRoomCode(ctx context.Context, code string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.RoomCode == NormalizeCode(code) && s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateSessionFields(ctx context.Context, id string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errors.New("no such session")
	}
	for k, v := range fields {
		switch k {
		case "current_slide":
			s.CurrentSlide = v.(int)
		case "active_question_id":
			s.ActiveQuestionID = v.(string)
		case "focus_mode":
			s.FocusMode = v.(bool)
		case "active":
			s.Active = v.(bool)
		}
	}
	return nil
}

func (m *memStore) PersistResponse(ctx context.Context, r *Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPersist > 0 {
		m.failPersist--
		return errors.New("store unreachable")
	}
	for _, existing := range m.responses {
		if existing.QuestionID == r.QuestionID && existing.Name == r.Name && existing.SessionID == r.SessionID {
			return nil // duplicate rows are dropped, not errors
		}
	}
	m.responses = append(m.responses, *r)
	m.persists++
	return nil
}

func (m *memStore) FetchResponses(ctx context.Context, sessionID string) ([]Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Response
	for _, r := range m.responses {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) SaveGradeOverride(ctx context.Context, sessionID string, key OverrideKey, correct bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overrides[sessionID] == nil {
		m.overrides[sessionID] = make(map[OverrideKey]bool)
	}
	m.overrides[sessionID][key] = correct
	return nil
}

func (m *memStore) FetchGradeOverrides(ctx context.Context, sessionID string) (map[OverrideKey]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[OverrideKey]bool)
	for k, v := range m.overrides[sessionID] {
		out[k] = v
	}
	return out, nil
}

// directSink persists straight through the store, no queueing.
type directSink struct{ store Store }

func (d directSink) Submit(ctx context.Context, r *Response) error {
	return d.store.PersistResponse(ctx, r)
}

// recordingBus captures published events and supports local subscription,
// standing in for the transport multiplexer.
type recordingBus struct {
	mu     sync.Mutex
	events []Event
	subs   map[EventType][]func(Event)
}

func newRecordingBus() *recordingBus {
	return &recordingBus{subs: make(map[EventType][]func(Event))}
}

func (b *recordingBus) Publish(ev Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	hs := append([]func(Event){}, b.subs[ev.Type]...)
	b.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (b *recordingBus) Subscribe(t EventType, h func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
	idx := len(b.subs[t]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if idx < len(b.subs[t]) {
			b.subs[t][idx] = func(Event) {}
		}
	}
}

func (b *recordingBus) byType(t EventType) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
