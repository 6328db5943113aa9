package room

import (
	"sync"
	"time"
)

// State is the per-question lifecycle state.
type State string

const (
	StateIdle     State = "IDLE"
	StateActive   State = "ACTIVE"
	StateTimedOut State = "TIMED_OUT"
	StateStopped  State = "STOPPED"
	StateRevealed State = "REVEALED"
)

// Lifecycle drives one question round for the authoritative presenter. All
// transitions are serialized by the mutex; the expiry/manual-stop race is
// resolved by re-checking the state under the lock, so the exit from ACTIVE
// fires exactly once.
//
// Presenter-driven transitions (Arm, Stop, Reveal, Reset) are published by
// the caller after they return. Only the countdown-expiry path notifies
// through onTimeout, invoked without the lifecycle lock held.
type Lifecycle struct {
	mu        sync.Mutex
	state     State
	question  *Question
	armedAt   int64 // epoch ms
	remaining int
	cancel    chan struct{}

	onTimeout func(q *Question)

	tick func() <-chan time.Time // test seam, defaults to a 1s ticker
}

func NewLifecycle(onTimeout func(q *Question)) *Lifecycle {
	return &Lifecycle{state: StateIdle, onTimeout: onTimeout}
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Question returns the currently armed question, nil when idle.
func (l *Lifecycle) Question() *Question {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.question
}

// ArmedAt returns the epoch-millisecond arm timestamp of the current round.
func (l *Lifecycle) ArmedAt() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.armedAt
}

// Remaining reports the seconds left on the countdown.
func (l *Lifecycle) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining
}

// Arm starts a round for q. Fails while another round is active; the question
// entity is frozen for the duration of the round.
func (l *Lifecycle) Arm(q *Question, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateActive {
		return ErrQuestionActive
	}
	l.stopTimerLocked()
	l.state = StateActive
	l.question = q
	l.armedAt = now.UnixMilli()
	l.remaining = q.Duration
	l.cancel = make(chan struct{})
	go l.countdown(l.cancel, q.Duration)
	return nil
}

// Stop ends the round early. No-op error unless a round is active.
func (l *Lifecycle) Stop() error {
	return l.leaveActive(StateStopped)
}

func (l *Lifecycle) leaveActive(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateActive {
		return ErrInvalidTransition
	}
	l.stopTimerLocked()
	l.state = to
	l.remaining = 0
	return nil
}

// Reveal discloses the answer. Only legal after the round was stopped or
// timed out.
func (l *Lifecycle) Reveal() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateStopped && l.state != StateTimedOut {
		return ErrInvalidTransition
	}
	l.state = StateRevealed
	return nil
}

// Reset returns to IDLE from any state, cancelling a pending countdown.
// Triggered by slide navigation or switching questions on a slide.
func (l *Lifecycle) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimerLocked()
	l.state = StateIdle
	l.question = nil
	l.armedAt = 0
	l.remaining = 0
}

func (l *Lifecycle) stopTimerLocked() {
	if l.cancel != nil {
		close(l.cancel)
		l.cancel = nil
	}
}

// countdown ticks once per second; at zero it funnels into leaveActive, which
// re-checks the state so a concurrent manual stop cannot double-fire.
func (l *Lifecycle) countdown(cancel <-chan struct{}, duration int) {
	var ticks <-chan time.Time
	if l.tick != nil {
		ticks = l.tick()
	} else {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		ticks = ticker.C
	}
	left := duration
	for {
		select {
		case <-cancel:
			return
		case <-ticks:
			left--
			l.mu.Lock()
			if l.state != StateActive {
				l.mu.Unlock()
				return
			}
			l.remaining = left
			q := l.question
			l.mu.Unlock()
			if left <= 0 {
				if l.leaveActive(StateTimedOut) == nil && l.onTimeout != nil {
					l.onTimeout(q)
				}
				return
			}
		}
	}
}
