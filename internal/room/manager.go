package room

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BusFactory builds the transport multiplexer bound to one room code.
type BusFactory func(code string) Publisher

// Manager owns the live rooms of this process: code allocation, presenter
// session creation, participant join resolution and teardown.
type Manager struct {
	mu     sync.RWMutex
	store  Store
	sink   ResponseSink
	newBus BusFactory
	rooms  map[string]*Controller
}

func NewManager(store Store, sink ResponseSink, newBus BusFactory) *Manager {
	return &Manager{
		store:  store,
		sink:   sink,
		newBus: newBus,
		rooms:  make(map[string]*Controller),
	}
}

// CreateRoom allocates a unique code, persists the session row flagged
// active and returns the presenter controller. An empty deck is rejected;
// the slide index invariant needs at least one slide. The uniqueness check
// covers both live in-process rooms and active rows in the store.
func (m *Manager) CreateRoom(ctx context.Context, slides []Slide, mode ScoreMode, basePoints int) (*Controller, error) {
	if len(slides) == 0 {
		return nil, ErrNoSlides
	}
	if mode == "" {
		mode = ScoreCumulative
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var code string
	for attempt := 0; ; attempt++ {
		if attempt >= 50 {
			return nil, ErrCodeSpaceExhausted
		}
		code = randomCode(CodeLength)
		if _, live := m.rooms[code]; live {
			continue
		}
		existing, err := m.store.FetchSessionByRoomCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			break
		}
	}

	sess := &Session{
		ID:         uuid.NewString(),
		RoomCode:   code,
		Slides:     slides,
		ScoreMode:  mode,
		BasePoints: basePoints,
		Active:     true,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	c := NewController(m.store, m.sink, m.newBus(code), sess)
	m.rooms[code] = c
	log.Info().Str("code", code).Str("session", sess.ID).Msg("room created")
	return c, nil
}

// Get returns the live controller for a code.
func (m *Manager) Get(code string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return c, nil
}

// Join resolves a room code for a participant. Only sessions flagged active
// resolve; a dead code is an explicit, immediate rejection. The returned
// snapshot bootstraps the participant's follower state.
func (m *Manager) Join(ctx context.Context, code string) (*Session, error) {
	code = NormalizeCode(code)
	m.mu.RLock()
	c, live := m.rooms[code]
	m.mu.RUnlock()
	if live && !c.Ended() {
		s := c.Snapshot()
		return &s, nil
	}
	sess, err := m.store.FetchSessionByRoomCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.Active {
		return nil, ErrRoomNotFound
	}
	return sess, nil
}

// End deactivates a room and removes it from the registry, returning the
// final leaderboard.
func (m *Manager) End(ctx context.Context, code string) ([]LeaderboardEntry, error) {
	code = NormalizeCode(code)
	m.mu.Lock()
	c, ok := m.rooms[code]
	delete(m.rooms, code)
	m.mu.Unlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return c.End(ctx), nil
}
