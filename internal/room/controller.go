package room

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Controller is the presenter role: the single source of truth for one room.
// Every mutation is applied to in-memory state first, then persisted, then
// published. Persistence failure never blocks publication; the room stays
// live even when the durable store is briefly unreachable.
//
// Followers never go through the Controller; they apply published events.
type Controller struct {
	mu        sync.Mutex
	store     Store
	sink      ResponseSink
	bus       Publisher
	sess      *Session
	lc        *Lifecycle
	presence  *Presence
	hostToken string

	// The response log is a replica: participants persist their own answers
	// through the storage collaborator, so it is refreshed, not assumed
	// complete.
	responses []Response
	answered  map[OverrideKey]bool
	overrides map[OverrideKey]bool
	armedAt   map[string]int64 // question id -> epoch ms countdown start
	alerts    map[string]int   // participant name -> focus alert count
	ended     bool

	now func() time.Time
}

func NewController(store Store, sink ResponseSink, bus Publisher, sess *Session) *Controller {
	c := &Controller{
		store:     store,
		sink:      sink,
		bus:       bus,
		sess:      sess,
		presence:  NewPresence(),
		hostToken: uuid.NewString(),
		answered:  make(map[OverrideKey]bool),
		overrides: make(map[OverrideKey]bool),
		armedAt:   make(map[string]int64),
		alerts:    make(map[string]int),
		now:       time.Now,
	}
	c.lc = NewLifecycle(c.handleTimeout)
	c.presence.OnChange(func(members []PresenceEntry) {
		bus.Publish(Event{Type: EventPresenceSync, Payload: PresenceSyncPayload{Members: members}})
	})
	return c
}

func (c *Controller) HostToken() string { return c.hostToken }

func (c *Controller) Presence() *Presence { return c.presence }

func (c *Controller) Lifecycle() *Lifecycle { return c.lc }

// Snapshot returns a copy of the session aggregate for snapshot pulls.
func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.sess
}

// Start announces the session to the room. No-op once the session ended.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	ev := Event{Type: EventSessionStart, Payload: SessionStartPayload{
		RoomCode:   c.sess.RoomCode,
		Slides:     c.sess.PublicSlides(),
		StartIndex: c.sess.CurrentSlide,
	}}
	c.mu.Unlock()
	c.bus.Publish(ev)
}

// ChangeSlide navigates the deck. Out-of-range indexes are a silent no-op:
// no event, no state change. Navigation clears the active question and the
// drawing layer on every device.
func (c *Controller) ChangeSlide(ctx context.Context, index int) {
	c.mu.Lock()
	if c.ended || index < 0 || index >= len(c.sess.Slides) {
		c.mu.Unlock()
		log.Debug().Int("index", index).Msg("slide change ignored")
		return
	}
	c.sess.CurrentSlide = index
	c.sess.ActiveQuestionID = ""
	hadQuestion := c.lc.State() != StateIdle
	c.lc.Reset()
	id := c.sess.ID
	c.mu.Unlock()

	c.persist(ctx, id, map[string]any{"current_slide": index, "active_question_id": ""})
	c.bus.Publish(Event{Type: EventSlideChange, Payload: SlideChangePayload{Index: index}})
	if hadQuestion {
		c.bus.Publish(Event{Type: EventQuestionState, Payload: QuestionStatePayload{Active: false}})
	}
	c.bus.Publish(Event{Type: EventDrawClear})
}

// ArmQuestion starts the countdown for a question on the current slide.
// Fails while another round is active. The published event carries only the
// question's public fields.
func (c *Controller) ArmQuestion(ctx context.Context, questionIndex int) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if c.sess.CurrentSlide < 0 || c.sess.CurrentSlide >= len(c.sess.Slides) {
		c.mu.Unlock()
		return ErrUnknownQuestion
	}
	slide := c.sess.Slides[c.sess.CurrentSlide]
	if questionIndex < 0 || questionIndex >= len(slide.Questions) {
		c.mu.Unlock()
		return ErrUnknownQuestion
	}
	q := slide.Questions[questionIndex]
	if err := c.lc.Arm(&q, c.now()); err != nil {
		c.mu.Unlock()
		return err
	}
	c.armedAt[q.ID] = c.lc.ArmedAt()
	c.sess.ActiveQuestionID = q.ID
	id := c.sess.ID
	c.mu.Unlock()

	c.persist(ctx, id, map[string]any{"active_question_id": q.ID})
	pub := q.Public()
	c.bus.Publish(Event{Type: EventQuestionState, Payload: QuestionStatePayload{
		Active:     true,
		QuestionID: q.ID,
		Duration:   q.Duration,
		Question:   &pub,
	}})
	return nil
}

// StopQuestion ends the round before the timer expires. No-op when no round
// is active; the expiry path and this one cannot both fire.
func (c *Controller) StopQuestion(ctx context.Context) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if err := c.lc.Stop(); err != nil {
		c.mu.Unlock()
		log.Debug().Msg("stop ignored, no active round")
		return err
	}
	q := c.lc.Question()
	c.mu.Unlock()

	c.bus.Publish(Event{Type: EventQuestionState, Payload: QuestionStatePayload{
		Active:     false,
		QuestionID: q.ID,
	}})
	return nil
}

// handleTimeout is the countdown-expiry path. It publishes the terminal state
// event with the timeout flag so presenter UIs auto-open the statistics view;
// the reveal stays a deliberate presenter action.
func (c *Controller) handleTimeout(q *Question) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	log.Info().Str("question", q.ID).Msg("countdown expired")
	c.bus.Publish(Event{Type: EventQuestionState, Payload: QuestionStatePayload{
		Active:     false,
		QuestionID: q.ID,
		Timeout:    true,
	}})
}

// Reveal discloses the correct answer together with a fresh leaderboard
// snapshot. Only legal after the round stopped or timed out; otherwise a
// no-op with no event.
func (c *Controller) Reveal(ctx context.Context) error {
	c.refreshResponses(ctx)
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	if err := c.lc.Reveal(); err != nil {
		c.mu.Unlock()
		log.Debug().Msg("reveal ignored, round not stopped")
		return err
	}
	q := c.lc.Question()
	lb := c.leaderboardLocked()
	c.mu.Unlock()

	c.bus.Publish(Event{Type: EventQuestionReveal, Payload: QuestionRevealPayload{
		QuestionID:  q.ID,
		Correct:     q.Correct,
		Leaderboard: lb,
	}})
	return nil
}

// SubmitAnswer handles a participant submission. The presenter's countdown is
// authoritative for the cutoff: a first submission is accepted while the
// round is still ACTIVE here, regardless of the participant's local clock.
func (c *Controller) SubmitAnswer(ctx context.Context, p AnswerSubmitPayload) error {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return ErrSessionEnded
	}
	q := c.lc.Question()
	if c.lc.State() != StateActive || q == nil || q.ID != p.QuestionID {
		c.mu.Unlock()
		return ErrRoundClosed
	}
	key := OverrideKey{QuestionID: p.QuestionID, Name: p.Name}
	if c.answered[key] {
		c.mu.Unlock()
		return ErrAlreadyAnswered
	}
	c.answered[key] = true
	r := Response{
		ID:          uuid.NewString(),
		SessionID:   c.sess.ID,
		Name:        p.Name,
		Class:       p.Class,
		QuestionID:  p.QuestionID,
		Answer:      p.Answer,
		SubmittedAt: p.SubmittedAt,
	}
	c.responses = append(c.responses, r)
	c.mu.Unlock()

	// The sink reports success even when the store is down; queued writes
	// replay later. The local state is the final authority on duplicates
	// until the store catches up.
	if err := c.sink.Submit(ctx, &r); err != nil {
		log.Error().Err(err).Str("name", p.Name).Msg("response persist failed")
	}
	return nil
}

// AnsweredCount reports how many participants have answered a question.
func (c *Controller) AnsweredCount(questionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.answered {
		if k.QuestionID == questionID {
			n++
		}
	}
	return n
}

// OverrideGrade records a manual correctness decision for a short-answer
// response.
func (c *Controller) OverrideGrade(ctx context.Context, key OverrideKey, correct bool) {
	c.mu.Lock()
	c.overrides[key] = correct
	id := c.sess.ID
	c.mu.Unlock()
	if err := c.store.SaveGradeOverride(ctx, id, key, correct); err != nil {
		log.Error().Err(err).Str("question", key.QuestionID).Msg("override persist failed")
	}
}

// RecordAlert tallies a focus-mode alert from a participant.
func (c *Controller) RecordAlert(name, reason string) {
	c.mu.Lock()
	c.alerts[name]++
	c.mu.Unlock()
	log.Info().Str("name", name).Str("reason", reason).Msg("student alert")
}

// Alerts returns a copy of the per-participant alert tally.
func (c *Controller) Alerts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.alerts))
	for k, v := range c.alerts {
		out[k] = v
	}
	return out
}

// SetFocusMode toggles focus monitoring for the room.
func (c *Controller) SetFocusMode(ctx context.Context, enabled bool) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.sess.FocusMode = enabled
	id := c.sess.ID
	c.mu.Unlock()

	c.persist(ctx, id, map[string]any{"focus_mode": enabled})
	c.bus.Publish(Event{Type: EventFocusChange, Payload: FocusChangePayload{Enabled: enabled}})
}

// ShowLeaderboard publishes a fresh snapshot to the room.
func (c *Controller) ShowLeaderboard(ctx context.Context) {
	c.refreshResponses(ctx)
	c.mu.Lock()
	lb := c.leaderboardLocked()
	c.mu.Unlock()
	c.bus.Publish(Event{Type: EventLeaderboardShow, Payload: LeaderboardPayload{Entries: lb}})
}

func (c *Controller) HideLeaderboard() {
	c.bus.Publish(Event{Type: EventLeaderboardHide})
}

// RelayDraw forwards annotation strokes through the multiplexer unchanged.
func (c *Controller) RelayDraw(ev Event) error {
	switch ev.Type {
	case EventDrawStart, EventDrawMove, EventDrawEnd, EventDrawClear:
	default:
		return ErrInvalidEvent
	}
	if err := ev.Validate(); err != nil {
		return err
	}
	c.bus.Publish(ev)
	return nil
}

// Leaderboard recomputes the ranking from the response log plus overrides.
func (c *Controller) Leaderboard(ctx context.Context) []LeaderboardEntry {
	c.refreshResponses(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leaderboardLocked()
}

// End deactivates the session, publishes the terminal event with the final
// leaderboard and stops accepting mutation. Returns the final ranking.
func (c *Controller) End(ctx context.Context) []LeaderboardEntry {
	c.refreshResponses(ctx)
	c.mu.Lock()
	if c.ended {
		lb := c.leaderboardLocked()
		c.mu.Unlock()
		return lb
	}
	c.ended = true
	c.lc.Reset()
	c.sess.Active = false
	id := c.sess.ID
	lb := c.leaderboardLocked()
	c.mu.Unlock()

	c.persist(ctx, id, map[string]any{"active": false})
	c.bus.Publish(Event{Type: EventSessionEnd, Payload: SessionEndPayload{Leaderboard: lb}})
	return lb
}

func (c *Controller) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Controller) leaderboardLocked() []LeaderboardEntry {
	questions := make(map[string]Question)
	for _, sl := range c.sess.Slides {
		for _, q := range sl.Questions {
			questions[q.ID] = q
		}
	}
	return ComputeLeaderboard(
		c.responses, questions, c.overrides,
		c.sess.ScoreMode, c.sess.BasePoints,
		c.armedAt, c.sess.ActiveQuestionID,
	)
}

// refreshResponses merges the store's view of the response log into the
// replica. The store wins on rows we have not seen; local rows not yet
// flushed are kept.
func (c *Controller) refreshResponses(ctx context.Context) {
	c.mu.Lock()
	id := c.sess.ID
	c.mu.Unlock()
	stored, err := c.store.FetchResponses(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("response refresh failed")
		return
	}
	overrides, err := c.store.FetchGradeOverrides(ctx, id)
	if err != nil {
		log.Warn().Err(err).Msg("override refresh failed")
		overrides = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range stored {
		key := OverrideKey{QuestionID: r.QuestionID, Name: r.Name}
		if c.answered[key] {
			continue
		}
		c.answered[key] = true
		c.responses = append(c.responses, r)
	}
	for k, v := range overrides {
		if _, ok := c.overrides[k]; !ok {
			c.overrides[k] = v
		}
	}
}

func (c *Controller) persist(ctx context.Context, id string, fields map[string]any) {
	if err := c.store.UpdateSessionFields(ctx, id, fields); err != nil {
		log.Error().Err(err).Str("session", id).Msg("session persist failed")
	}
}
