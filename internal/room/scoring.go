package room

import (
	"math"
	"sort"
	"strings"
)

// ComputeLeaderboard derives the ranked leaderboard from the response log.
// It is pure: identical inputs produce identical output, including order.
//
// questions maps question id to the question entity, armedAt maps question id
// to the epoch-millisecond timestamp at which its countdown was armed. In
// ScoreSingle mode only responses for currentQuestionID are counted.
//
// Only the first response per (participant, question) contributes; the
// submission path rejects duplicates, this is the backstop. Order is score
// descending, then name ascending; the sort is stable.
func ComputeLeaderboard(
	responses []Response,
	questions map[string]Question,
	overrides map[OverrideKey]bool,
	mode ScoreMode,
	basePoints int,
	armedAt map[string]int64,
	currentQuestionID string,
) []LeaderboardEntry {
	type pair struct{ name, qid string }
	seen := make(map[pair]bool)
	byName := make(map[string]*LeaderboardEntry)
	order := make([]string, 0)

	for _, r := range responses {
		if mode == ScoreSingle && r.QuestionID != currentQuestionID {
			continue
		}
		q, ok := questions[r.QuestionID]
		if !ok {
			continue
		}
		k := pair{r.Name, r.QuestionID}
		if seen[k] {
			continue
		}
		seen[k] = true

		e := byName[r.Name]
		if e == nil {
			e = &LeaderboardEntry{Name: r.Name}
			byName[r.Name] = e
			order = append(order, r.Name)
		}
		e.AnsweredCount++
		if !isCorrect(q, r, overrides) {
			continue
		}
		e.CorrectCount++
		e.Score += basePoints + speedBonus(basePoints, q.Duration, elapsedSeconds(r, armedAt))
	}

	sort.Strings(order)
	out := make([]LeaderboardEntry, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// isCorrect applies the per-kind correctness rule.
func isCorrect(q Question, r Response, overrides map[OverrideKey]bool) bool {
	switch q.Kind {
	case KindMultipleChoice:
		// An absent choice never matches, not even a correct option 0.
		if r.Answer.Choice == nil || q.Correct.Choice == nil {
			return false
		}
		return *r.Answer.Choice == *q.Correct.Choice
	case KindTrueFalse:
		return r.Answer.Text == q.Correct.Text
	case KindTrueFalseQuad:
		// Full match on every sub-claim; no partial credit.
		if len(r.Answer.Claims) != len(q.Correct.Claims) {
			return false
		}
		for idx, want := range q.Correct.Claims {
			if r.Answer.Claims[idx] != want {
				return false
			}
		}
		return true
	case KindShortAnswer:
		// The manual override wins over the automatic matcher.
		if ok, present := overrides[OverrideKey{QuestionID: q.ID, Name: r.Name}]; present {
			return ok
		}
		return strings.EqualFold(strings.TrimSpace(r.Answer.Text), strings.TrimSpace(q.Correct.Text))
	}
	return false
}

// speedBonus is round(base/2 * max(0, (duration-elapsed)/duration)).
func speedBonus(basePoints, duration int, elapsed float64) int {
	if duration <= 0 {
		return 0
	}
	frac := (float64(duration) - elapsed) / float64(duration)
	if frac < 0 {
		frac = 0
	}
	return int(math.Round(float64(basePoints) / 2 * frac))
}

// elapsedSeconds measures submission latency against the arm timestamp. If
// the arm timestamp is unknown no bonus is awarded.
func elapsedSeconds(r Response, armedAt map[string]int64) float64 {
	t, ok := armedAt[r.QuestionID]
	if !ok || t == 0 || r.SubmittedAt < t {
		return math.Inf(1)
	}
	return float64(r.SubmittedAt-t) / 1000
}
