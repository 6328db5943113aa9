package room

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Follower is the participant role: a pure read-only mirror of the
// presenter's state, driven entirely by published events. Its countdown is a
// display estimate only, reconciled whenever an authoritative state event
// arrives; the presenter's clock decides everything that matters.
type Follower struct {
	mu sync.Mutex

	roomCode    string
	slides      []Slide // public projection
	slideIndex  int
	question    *Question // public projection, set while a round is shown
	questionID  string
	active      bool
	deadline    time.Time // local countdown estimate
	revealed    *QuestionRevealPayload
	leaderboard []LeaderboardEntry
	showBoard   bool
	focusMode   bool
	ended       bool

	store  Store
	unsubs []func()
	now    func() time.Time
}

func NewFollower(store Store) *Follower {
	return &Follower{store: store, now: time.Now}
}

// Attach subscribes the follower to a bus. Attaching again replaces the
// previous subscriptions, so a reload cannot double-subscribe.
func (f *Follower) Attach(bus Bus) {
	f.Detach()
	types := []EventType{
		EventSessionStart, EventSlideChange, EventQuestionState,
		EventQuestionReveal, EventLeaderboardShow, EventLeaderboardHide,
		EventFocusChange, EventSessionEnd,
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range types {
		f.unsubs = append(f.unsubs, bus.Subscribe(t, f.Apply))
	}
}

// Detach drops all subscriptions.
func (f *Follower) Detach() {
	f.mu.Lock()
	unsubs := f.unsubs
	f.unsubs = nil
	f.mu.Unlock()
	for _, u := range unsubs {
		u()
	}
}

// Apply folds one published event into the mirror.
func (f *Follower) Apply(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch p := ev.Payload.(type) {
	case SessionStartPayload:
		f.roomCode = p.RoomCode
		f.slides = p.Slides
		f.slideIndex = p.StartIndex
		f.clearQuestionLocked()
		f.ended = false
	case SlideChangePayload:
		f.slideIndex = p.Index
		f.clearQuestionLocked()
	case QuestionStatePayload:
		if p.Active {
			f.active = true
			f.questionID = p.QuestionID
			f.question = p.Question
			f.deadline = f.now().Add(time.Duration(p.Duration) * time.Second)
			f.revealed = nil
		} else if p.QuestionID == "" {
			f.clearQuestionLocked()
		} else {
			f.active = false
			f.deadline = time.Time{}
		}
	case QuestionRevealPayload:
		cp := p
		f.revealed = &cp
		f.leaderboard = p.Leaderboard
		f.active = false
	case LeaderboardPayload:
		f.leaderboard = p.Entries
		f.showBoard = true
	case FocusChangePayload:
		f.focusMode = p.Enabled
	case SessionEndPayload:
		f.leaderboard = p.Leaderboard
		f.ended = true
		f.clearQuestionLocked()
	default:
		if ev.Type == EventLeaderboardHide {
			f.showBoard = false
			return
		}
		log.Debug().Str("type", string(ev.Type)).Msg("follower ignoring event")
	}
}

// Resync pulls the authoritative snapshot from the storage collaborator,
// compensating for events missed while disconnected. A round found active is
// resumed from the question's nominal duration; the next authoritative state
// event corrects the estimate.
func (f *Follower) Resync(ctx context.Context, roomCode string) error {
	sess, err := f.store.FetchSessionByRoomCode(ctx, NormalizeCode(roomCode))
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrRoomNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomCode = sess.RoomCode
	f.slides = sess.PublicSlides()
	f.slideIndex = sess.CurrentSlide
	f.focusMode = sess.FocusMode
	f.ended = !sess.Active
	f.clearQuestionLocked()
	if sess.ActiveQuestionID != "" {
		if q := sess.QuestionByID(sess.ActiveQuestionID); q != nil {
			pub := q.Public()
			f.question = &pub
			f.questionID = pub.ID
			f.active = true
			f.deadline = f.now().Add(time.Duration(pub.Duration) * time.Second)
		}
	}
	return nil
}

func (f *Follower) clearQuestionLocked() {
	f.active = false
	f.question = nil
	f.questionID = ""
	f.deadline = time.Time{}
	f.revealed = nil
}

func (f *Follower) SlideIndex() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slideIndex
}

func (f *Follower) ActiveQuestion() (*Question, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.question, f.active
}

// RemainingEstimate is the locally ticking countdown shown to the user.
func (f *Follower) RemainingEstimate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active || f.deadline.IsZero() {
		return 0
	}
	left := int(f.deadline.Sub(f.now()).Round(time.Second).Seconds())
	if left < 0 {
		return 0
	}
	return left
}

func (f *Follower) Revealed() *QuestionRevealPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revealed
}

func (f *Follower) Leaderboard() ([]LeaderboardEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaderboard, f.showBoard
}

func (f *Follower) FocusMode() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.focusMode
}

func (f *Follower) Ended() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ended
}
