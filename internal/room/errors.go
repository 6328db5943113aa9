package room

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found or closed")
	ErrNoSlides           = errors.New("session needs at least one slide")
	ErrQuestionActive     = errors.New("a question is already active")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
	ErrAlreadyAnswered    = errors.New("already answered")
	ErrRoundClosed        = errors.New("round is not accepting answers")
	ErrSessionEnded       = errors.New("session has ended")
	ErrUnknownQuestion    = errors.New("unknown question")
	ErrInvalidEvent       = errors.New("invalid event payload")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique room code")
)
