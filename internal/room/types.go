package room

// ScoreMode selects how the leaderboard aggregates responses.
type ScoreMode string

const (
	// ScoreCumulative aggregates every response across the whole session.
	ScoreCumulative ScoreMode = "CUMULATIVE"
	// ScoreSingle restricts aggregation to the current/most recent question.
	ScoreSingle ScoreMode = "SINGLE"
)

// QuestionKind identifies the answer shape of a question.
type QuestionKind string

const (
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindTrueFalse      QuestionKind = "true_false"
	KindTrueFalseQuad  QuestionKind = "true_false_x4" // four sub-claims, one composite submission
	KindShortAnswer    QuestionKind = "short_answer"
)

// Answer holds a submitted or stored answer value. Which field is meaningful
// depends on the question kind: Choice for multiple choice, Text for
// true/false and short answer, Claims (sub-claim index -> "Đúng"/"Sai") for
// true/false x4. Choice is a pointer so a submission that selected option 0
// is distinct from one that selected nothing.
type Answer struct {
	Choice *int              `json:"choice,omitempty"`
	Text   string            `json:"text,omitempty"`
	Claims map[string]string `json:"claims,omitempty"`
}

// ChoiceOf builds a multiple-choice answer value.
func ChoiceOf(i int) Answer {
	return Answer{Choice: &i}
}

// Question is a single interactive question attached to a slide. Correct is
// the stored correct answer and must never travel over the wire before the
// reveal.
type Question struct {
	ID       string       `json:"id"`
	Kind     QuestionKind `json:"kind"`
	Prompt   string       `json:"prompt"`
	Options  []string     `json:"options,omitempty"`
	Correct  Answer       `json:"correct,omitempty"`
	Duration int          `json:"duration"` // whole seconds
}

// Public returns a copy safe to publish to participants: the correct answer
// is stripped.
func (q Question) Public() Question {
	q.Correct = Answer{}
	return q
}

// Slide is one ordered content unit owning zero or more questions.
type Slide struct {
	ID        string     `json:"id"`
	Index     int        `json:"index"`
	AssetURL  string     `json:"assetUrl"`
	Page      int        `json:"page,omitempty"` // page within a paged document asset
	Questions []Question `json:"questions,omitempty"`
}

// Session is the presenter-owned aggregate. Mutated only by the Controller;
// mirrored read-only by followers.
type Session struct {
	ID               string    `json:"id"`
	RoomCode         string    `json:"roomCode"`
	Slides           []Slide   `json:"slides"`
	CurrentSlide     int       `json:"currentSlide"`
	ActiveQuestionID string    `json:"activeQuestionId,omitempty"`
	FocusMode        bool      `json:"focusMode"`
	ScoreMode        ScoreMode `json:"scoreMode"`
	BasePoints       int       `json:"basePoints"`
	Active           bool      `json:"active"`
}

// QuestionByID scans all slides for a question.
func (s *Session) QuestionByID(id string) *Question {
	for i := range s.Slides {
		for j := range s.Slides[i].Questions {
			if s.Slides[i].Questions[j].ID == id {
				return &s.Slides[i].Questions[j]
			}
		}
	}
	return nil
}

// PublicSlides returns the slide list with all correct answers stripped.
func (s *Session) PublicSlides() []Slide {
	out := make([]Slide, len(s.Slides))
	for i, sl := range s.Slides {
		cp := sl
		cp.Questions = make([]Question, len(sl.Questions))
		for j, q := range sl.Questions {
			cp.Questions[j] = q.Public()
		}
		out[i] = cp
	}
	return out
}

// Response is one participant's submission for one question. Append-only; at
// most one per (participant, question).
type Response struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionId"`
	Name        string `json:"name"`
	Class       string `json:"class,omitempty"`
	QuestionID  string `json:"questionId"`
	Answer      Answer `json:"answer"`
	SubmittedAt int64  `json:"submittedAt"` // epoch milliseconds
}

// OverrideKey identifies a manual grade override.
type OverrideKey struct {
	QuestionID string
	Name       string
}

// LeaderboardEntry is derived state, recomputed on demand and never stored.
type LeaderboardEntry struct {
	Name          string `json:"name"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correctCount"`
	AnsweredCount int    `json:"answeredCount"`
}

// PresenceEntry is one participant currently joined to a room. Ephemeral;
// lives only as long as the underlying channel subscription.
type PresenceEntry struct {
	Name  string `json:"name"`
	Class string `json:"class,omitempty"`
}
