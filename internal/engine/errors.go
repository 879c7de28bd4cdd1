package engine

import "errors"

var (
	// ErrOutOfSequence is returned when a submission does not target the
	// user's current active question.
	ErrOutOfSequence = errors.New("submission does not match the active question")
	// ErrJudgeUnavailable is returned when the acceptance judge cannot
	// produce a verdict. Nothing is persisted.
	ErrJudgeUnavailable = errors.New("acceptance judge unavailable")
	// ErrGenerationFailed is returned when a follow-up question or reaction
	// cannot be generated. Nothing is persisted.
	ErrGenerationFailed = errors.New("text generation failed")
)
