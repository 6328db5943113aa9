package room

import "context"

// Store is the persistence collaborator. The engine only depends on this
// narrow surface; postgres lives behind it in internal/store.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	// FetchSessionByRoomCode returns the active session for a code, or nil
	// when no active session matches.
	FetchSessionByRoomCode(ctx context.Context, code string) (*Session, error)
	UpdateSessionFields(ctx context.Context, id string, fields map[string]any) error
	PersistResponse(ctx context.Context, r *Response) error
	FetchResponses(ctx context.Context, sessionID string) ([]Response, error)
	SaveGradeOverride(ctx context.Context, sessionID string, key OverrideKey, correct bool) error
	FetchGradeOverrides(ctx context.Context, sessionID string) (map[OverrideKey]bool, error)
}

// ResponseSink persists participant answers. The offline buffer wraps the
// Store behind this so a failed write is queued instead of lost.
type ResponseSink interface {
	Submit(ctx context.Context, r *Response) error
}

// Publisher fans an event out to the room. Implemented by the transport
// multiplexer in internal/ws.
type Publisher interface {
	Publish(ev Event)
}

// Bus extends Publisher with subscription, for followers.
type Bus interface {
	Publisher
	Subscribe(t EventType, h func(Event)) (unsubscribe func())
}
