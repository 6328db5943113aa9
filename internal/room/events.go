package room

import "fmt"

// EventType names one kind of room event. The catalogue is closed: Publish
// rejects types it does not know about.
type EventType string

const (
	EventSessionStart    EventType = "session:start"
	EventSlideChange     EventType = "slide:change"
	EventQuestionState   EventType = "question:state"
	EventQuestionReveal  EventType = "question:reveal"
	EventAnswerSubmit    EventType = "answer:submit"
	EventPresenceSync    EventType = "presence:sync"
	EventLeaderboardShow EventType = "leaderboard:show"
	EventLeaderboardHide EventType = "leaderboard:hide"
	EventSessionEnd      EventType = "session:end"
	EventStudentAlert    EventType = "student:alert"
	EventFocusChange     EventType = "focus:change"
	EventDrawStart       EventType = "draw:start"
	EventDrawMove        EventType = "draw:move"
	EventDrawEnd         EventType = "draw:end"
	EventDrawClear       EventType = "draw:clear"
)

// Event is the envelope carried by the transport multiplexer. Payload is one
// of the typed payload structs below, matched to Type by Validate.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

type SessionStartPayload struct {
	RoomCode   string  `json:"roomCode"`
	Slides     []Slide `json:"slides"` // public projection, correct answers stripped
	StartIndex int     `json:"startIndex"`
}

type SlideChangePayload struct {
	Index int `json:"index"`
}

// QuestionStatePayload mirrors every lifecycle transition. Question is the
// public projection and is only set while the round is active; it must never
// carry the correct answer.
type QuestionStatePayload struct {
	Active     bool      `json:"isActive"`
	QuestionID string    `json:"questionId,omitempty"`
	Duration   int       `json:"duration,omitempty"`
	Question   *Question `json:"question,omitempty"`
	Timeout    bool      `json:"isTimeout,omitempty"`
}

// QuestionRevealPayload is the only event allowed to carry a correct answer.
type QuestionRevealPayload struct {
	QuestionID  string             `json:"questionId"`
	Correct     Answer             `json:"correct"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type AnswerSubmitPayload struct {
	SessionID   string `json:"sessionId"`
	Name        string `json:"name"`
	Class       string `json:"class,omitempty"`
	QuestionID  string `json:"questionId"`
	Answer      Answer `json:"answer"`
	SubmittedAt int64  `json:"submittedAt"`
}

type PresenceSyncPayload struct {
	Members []PresenceEntry `json:"members"`
}

type LeaderboardPayload struct {
	Entries []LeaderboardEntry `json:"entries"`
}

type SessionEndPayload struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

type StudentAlertPayload struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type FocusChangePayload struct {
	Enabled bool `json:"enabled"`
}

type DrawPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type DrawPayload struct {
	Points []DrawPoint `json:"points,omitempty"`
	Color  string      `json:"color,omitempty"`
	Width  float64     `json:"width,omitempty"`
}

// Validate checks the envelope at the publish boundary: known type, payload
// struct matching the type, and no correct-answer leakage outside the reveal.
func (e Event) Validate() error {
	switch e.Type {
	case EventSessionStart:
		p, ok := e.Payload.(SessionStartPayload)
		if !ok {
			return payloadErr(e.Type)
		}
		if p.RoomCode == "" {
			return fmt.Errorf("%w: %s missing room code", ErrInvalidEvent, e.Type)
		}
		for _, sl := range p.Slides {
			for _, q := range sl.Questions {
				if !q.Correct.isZero() {
					return fmt.Errorf("%w: %s leaks a correct answer", ErrInvalidEvent, e.Type)
				}
			}
		}
	case EventSlideChange:
		if _, ok := e.Payload.(SlideChangePayload); !ok {
			return payloadErr(e.Type)
		}
	case EventQuestionState:
		p, ok := e.Payload.(QuestionStatePayload)
		if !ok {
			return payloadErr(e.Type)
		}
		if p.Active && p.QuestionID == "" {
			return fmt.Errorf("%w: active %s without question id", ErrInvalidEvent, e.Type)
		}
		if p.Question != nil && !p.Question.Correct.isZero() {
			return fmt.Errorf("%w: %s leaks a correct answer", ErrInvalidEvent, e.Type)
		}
	case EventQuestionReveal:
		p, ok := e.Payload.(QuestionRevealPayload)
		if !ok {
			return payloadErr(e.Type)
		}
		if p.QuestionID == "" {
			return fmt.Errorf("%w: %s missing question id", ErrInvalidEvent, e.Type)
		}
	case EventAnswerSubmit:
		p, ok := e.Payload.(AnswerSubmitPayload)
		if !ok {
			return payloadErr(e.Type)
		}
		if p.Name == "" || p.QuestionID == "" {
			return fmt.Errorf("%w: %s missing name or question id", ErrInvalidEvent, e.Type)
		}
	case EventPresenceSync:
		if _, ok := e.Payload.(PresenceSyncPayload); !ok {
			return payloadErr(e.Type)
		}
	case EventLeaderboardShow:
		if _, ok := e.Payload.(LeaderboardPayload); !ok {
			return payloadErr(e.Type)
		}
	case EventLeaderboardHide:
		if e.Payload != nil {
			return payloadErr(e.Type)
		}
	case EventSessionEnd:
		if _, ok := e.Payload.(SessionEndPayload); !ok {
			return payloadErr(e.Type)
		}
	case EventStudentAlert:
		p, ok := e.Payload.(StudentAlertPayload)
		if !ok {
			return payloadErr(e.Type)
		}
		if p.Name == "" {
			return fmt.Errorf("%w: %s missing name", ErrInvalidEvent, e.Type)
		}
	case EventFocusChange:
		if _, ok := e.Payload.(FocusChangePayload); !ok {
			return payloadErr(e.Type)
		}
	case EventDrawStart, EventDrawMove, EventDrawEnd:
		if _, ok := e.Payload.(DrawPayload); !ok {
			return payloadErr(e.Type)
		}
	case EventDrawClear:
		if e.Payload != nil {
			return payloadErr(e.Type)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

func payloadErr(t EventType) error {
	return fmt.Errorf("%w: wrong payload for %s", ErrInvalidEvent, t)
}

func (a Answer) isZero() bool {
	return a.Choice == nil && a.Text == "" && len(a.Claims) == 0
}
