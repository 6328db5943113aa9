package room

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testSession() *Session {
	return &Session{
		ID:       "sess-1",
		RoomCode: "AB12",
		Slides: []Slide{
			{ID: "s1", Index: 0, Questions: []Question{{
				ID:       "q1",
				Kind:     KindMultipleChoice,
				Prompt:   "Capital of Vietnam?",
				Options:  []string{"Da Nang", "Hue", "Hanoi"},
				Correct:  ChoiceOf(2),
				Duration: 30,
			}}},
			{ID: "s2", Index: 1},
		},
		ScoreMode:  ScoreCumulative,
		BasePoints: 100,
		Active:     true,
	}
}

func newTestController(t *testing.T) (*Controller, *memStore, *recordingBus) {
	t.Helper()
	store := newMemStore()
	bus := newRecordingBus()
	sess := testSession()
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	c := NewController(store, directSink{store}, bus, sess)
	return c, store, bus
}

func TestRevealWithoutRoundIsNoOp(t *testing.T) {
	c, _, bus := newTestController(t)

	if err := c.Reveal(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if got := bus.count(); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
	if st := c.Lifecycle().State(); st != StateIdle {
		t.Fatalf("state = %v, want IDLE", st)
	}
}

func TestSlideChangeClearsActiveQuestion(t *testing.T) {
	c, _, bus := newTestController(t)
	ctx := context.Background()

	if err := c.ArmQuestion(ctx, 0); err != nil {
		t.Fatal(err)
	}
	c.ChangeSlide(ctx, 1)

	if st := c.Lifecycle().State(); st != StateIdle {
		t.Fatalf("state after navigation = %v, want IDLE", st)
	}
	snap := c.Snapshot()
	if snap.CurrentSlide != 1 || snap.ActiveQuestionID != "" {
		t.Fatalf("snapshot = slide %d, question %q", snap.CurrentSlide, snap.ActiveQuestionID)
	}

	// The slide change must land before the question is cleared so followers
	// never show a live question on top of the new slide.
	var order []EventType
	for _, ev := range bus.events {
		if ev.Type == EventSlideChange || ev.Type == EventQuestionState || ev.Type == EventDrawClear {
			order = append(order, ev.Type)
		}
	}
	want := []EventType{EventQuestionState, EventSlideChange, EventQuestionState, EventDrawClear}
	if len(order) != len(want) {
		t.Fatalf("event order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("event order %v, want %v", order, want)
		}
	}
	last := bus.byType(EventQuestionState)
	clear := last[len(last)-1].Payload.(QuestionStatePayload)
	if clear.Active {
		t.Fatal("question clear event still marked active")
	}
}

func TestSlideChangeOutOfRangeIgnored(t *testing.T) {
	c, _, bus := newTestController(t)
	ctx := context.Background()

	c.ChangeSlide(ctx, -1)
	c.ChangeSlide(ctx, 2)

	if got := bus.count(); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
	if snap := c.Snapshot(); snap.CurrentSlide != 0 {
		t.Fatalf("slide index = %d, want 0", snap.CurrentSlide)
	}
}

func TestArmPublishesPublicQuestion(t *testing.T) {
	c, _, bus := newTestController(t)

	if err := c.ArmQuestion(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	evs := bus.byType(EventQuestionState)
	if len(evs) != 1 {
		t.Fatalf("got %d question:state events, want 1", len(evs))
	}
	p := evs[0].Payload.(QuestionStatePayload)
	if !p.Active || p.QuestionID != "q1" || p.Duration != 30 {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p.Question == nil || p.Question.Prompt != "Capital of Vietnam?" {
		t.Fatal("armed event should carry the question body")
	}
	if !p.Question.Correct.isZero() {
		t.Fatalf("correct answer leaked: %+v", p.Question.Correct)
	}
	if err := evs[0].Validate(); err != nil {
		t.Fatalf("armed event failed validation: %v", err)
	}
}

func TestArmOnEmptyDeckRejected(t *testing.T) {
	store := newMemStore()
	bus := newRecordingBus()
	sess := testSession()
	sess.Slides = nil
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	c := NewController(store, directSink{store}, bus, sess)

	if err := c.ArmQuestion(context.Background(), 0); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
	if got := bus.count(); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestArmWhileActiveRejected(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	if err := c.ArmQuestion(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.ArmQuestion(ctx, 0); !errors.Is(err, ErrQuestionActive) {
		t.Fatalf("expected ErrQuestionActive, got %v", err)
	}
}

func TestArmUnknownQuestionIndex(t *testing.T) {
	c, _, _ := newTestController(t)

	if err := c.ArmQuestion(context.Background(), 5); !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
}

func TestSubmitDuplicateRejected(t *testing.T) {
	c, store, _ := newTestController(t)
	ctx := context.Background()

	if err := c.ArmQuestion(ctx, 0); err != nil {
		t.Fatal(err)
	}
	p := AnswerSubmitPayload{
		Name:        "An",
		QuestionID:  "q1",
		Answer:      ChoiceOf(2),
		SubmittedAt: time.Now().UnixMilli(),
	}
	if err := c.SubmitAnswer(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Answer = ChoiceOf(1)
	if err := c.SubmitAnswer(ctx, p); !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}
	if store.persists != 1 {
		t.Fatalf("store holds %d responses, want 1", store.persists)
	}
	if c.AnsweredCount("q1") != 1 {
		t.Fatalf("answered count = %d, want 1", c.AnsweredCount("q1"))
	}
}

func TestSubmitAfterStopRejected(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	if err := c.ArmQuestion(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.StopQuestion(ctx); err != nil {
		t.Fatal(err)
	}
	err := c.SubmitAnswer(ctx, AnswerSubmitPayload{
		Name:       "Binh",
		QuestionID: "q1",
		Answer:     ChoiceOf(2),
	})
	if !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("expected ErrRoundClosed, got %v", err)
	}
}

func TestSubmitForWrongQuestionRejected(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	if err := c.ArmQuestion(ctx, 0); err != nil {
		t.Fatal(err)
	}
	err := c.SubmitAnswer(ctx, AnswerSubmitPayload{
		Name:       "Chi",
		QuestionID: "q-stale",
		Answer:     ChoiceOf(1),
	})
	if !errors.Is(err, ErrRoundClosed) {
		t.Fatalf("expected ErrRoundClosed, got %v", err)
	}
}

func TestRevealPublishesAnswerAndLeaderboard(t *testing.T) {
	c, _, bus := newTestController(t)
	ctx := context.Background()

	if err := c.ArmQuestion(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.SubmitAnswer(ctx, AnswerSubmitPayload{
		Name:        "An",
		QuestionID:  "q1",
		Answer:      ChoiceOf(2),
		SubmittedAt: time.Now().UnixMilli(),
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.StopQuestion(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Reveal(ctx); err != nil {
		t.Fatal(err)
	}

	evs := bus.byType(EventQuestionReveal)
	if len(evs) != 1 {
		t.Fatalf("got %d reveal events, want 1", len(evs))
	}
	p := evs[0].Payload.(QuestionRevealPayload)
	if p.QuestionID != "q1" || p.Correct.Choice == nil || *p.Correct.Choice != 2 {
		t.Fatalf("unexpected reveal payload %+v", p)
	}
	if len(p.Leaderboard) != 1 || p.Leaderboard[0].Name != "An" || p.Leaderboard[0].CorrectCount != 1 {
		t.Fatalf("unexpected leaderboard %+v", p.Leaderboard)
	}
	if p.Leaderboard[0].Score < 100 {
		t.Fatalf("score = %d, want at least base points", p.Leaderboard[0].Score)
	}
}

func TestEndIsIdempotentAndTerminal(t *testing.T) {
	c, store, bus := newTestController(t)
	ctx := context.Background()

	lb := c.End(ctx)
	again := c.End(ctx)
	if len(lb) != len(again) {
		t.Fatal("second End returned a different leaderboard")
	}
	if got := len(bus.byType(EventSessionEnd)); got != 1 {
		t.Fatalf("got %d session:end events, want 1", got)
	}
	if !c.Ended() {
		t.Fatal("controller not marked ended")
	}
	s, err := store.FetchSessionByRoomCode(ctx, "AB12")
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Fatal("session still active in store after End")
	}
	if err := c.ArmQuestion(ctx, 0); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
	if err := c.SubmitAnswer(ctx, AnswerSubmitPayload{Name: "An", QuestionID: "q1"}); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestStartAfterEndPublishesNothing(t *testing.T) {
	c, _, bus := newTestController(t)
	ctx := context.Background()

	c.End(ctx)
	before := bus.count()
	c.Start(ctx)
	if got := bus.count(); got != before {
		t.Fatalf("start on an ended session published %d events", got-before)
	}
}

func TestOverrideGradeFlowsIntoLeaderboard(t *testing.T) {
	store := newMemStore()
	bus := newRecordingBus()
	sess := testSession()
	sess.Slides[0].Questions[0] = Question{
		ID:       "q1",
		Kind:     KindShortAnswer,
		Prompt:   "Name a prime",
		Correct:  Answer{Text: "7"},
		Duration: 30,
	}
	if err := store.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	c := NewController(store, directSink{store}, bus, sess)
	ctx := context.Background()

	if err := c.ArmQuestion(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if err := c.SubmitAnswer(ctx, AnswerSubmitPayload{
		Name:       "Dao",
		QuestionID: "q1",
		Answer:     Answer{Text: "11"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.StopQuestion(ctx); err != nil {
		t.Fatal(err)
	}

	lb := c.Leaderboard(ctx)
	if lb[0].CorrectCount != 0 {
		t.Fatalf("pre-override correct count = %d, want 0", lb[0].CorrectCount)
	}
	c.OverrideGrade(ctx, OverrideKey{QuestionID: "q1", Name: "Dao"}, true)
	lb = c.Leaderboard(ctx)
	if lb[0].CorrectCount != 1 {
		t.Fatalf("post-override correct count = %d, want 1", lb[0].CorrectCount)
	}
	saved, err := store.FetchGradeOverrides(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := saved[OverrideKey{QuestionID: "q1", Name: "Dao"}]; !ok || !v {
		t.Fatal("override not persisted")
	}
}

func TestRelayDrawRejectsForeignEvents(t *testing.T) {
	c, _, bus := newTestController(t)

	ev := Event{Type: EventDrawMove, Payload: DrawPayload{Points: []DrawPoint{{X: 0.5, Y: 0.25}}}}
	if err := c.RelayDraw(ev); err != nil {
		t.Fatal(err)
	}
	if err := c.RelayDraw(Event{Type: EventSessionEnd}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if got := len(bus.byType(EventDrawMove)); got != 1 {
		t.Fatalf("got %d draw events, want 1", got)
	}
}

func TestFocusModeToggle(t *testing.T) {
	c, store, bus := newTestController(t)
	ctx := context.Background()

	c.SetFocusMode(ctx, true)
	c.RecordAlert("An", "tab_hidden")
	c.RecordAlert("An", "window_blur")

	evs := bus.byType(EventFocusChange)
	if len(evs) != 1 || !evs[0].Payload.(FocusChangePayload).Enabled {
		t.Fatalf("unexpected focus events %+v", evs)
	}
	if c.Alerts()["An"] != 2 {
		t.Fatalf("alert tally = %d, want 2", c.Alerts()["An"])
	}
	s, err := store.FetchSessionByRoomCode(ctx, "AB12")
	if err != nil {
		t.Fatal(err)
	}
	if s == nil || !s.FocusMode {
		t.Fatal("focus mode not persisted")
	}
}

func TestLeaderboardMergesStoredResponses(t *testing.T) {
	c, store, _ := newTestController(t)
	ctx := context.Background()

	// A response persisted by another path (e.g. a replayed buffer) shows up
	// on the next recompute.
	if err := store.PersistResponse(ctx, &Response{
		ID:         "r-ext",
		SessionID:  "sess-1",
		Name:       "Em",
		QuestionID: "q1",
		Answer:     ChoiceOf(2),
	}); err != nil {
		t.Fatal(err)
	}
	lb := c.Leaderboard(ctx)
	if len(lb) != 1 || lb[0].Name != "Em" || lb[0].CorrectCount != 1 {
		t.Fatalf("unexpected leaderboard %+v", lb)
	}
}
