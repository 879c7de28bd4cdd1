package store

import "time"

// Question is one base question of the interview catalog. Questions are
// immutable after seeding and ordered by ascending ID. An empty Criterion
// marks a criterion-less question: every answer to it is accepted without
// judging.
type Question struct {
	ID        int64
	Text      string
	Criterion string
	Phase     int
	// MaxDepth is the number of consecutive follow-up sub-questions allowed
	// for this question before the interview advances regardless of the
	// verdict. Zero means "use the configured default".
	MaxDepth  int
	CreatedAt time.Time
}

// Answer is one persisted submission. QuestionID always refers to the base
// question of the chain; Depth is 0 for the base prompt and 1..MaxDepth for
// follow-up prompts. Rows are append-only and never mutated.
type Answer struct {
	ID         string
	Text       string
	QuestionID int64
	UserID     string
	Phase      int
	Depth      int
	Accepted   bool
	CreatedAt  time.Time
}

// FollowUp is the text of a generated sub-question, persisted together with
// the rejected answer that produced it. Depth of the first follow-up is 1.
type FollowUp struct {
	ID         string
	UserID     string
	QuestionID int64
	Depth      int
	Prompt     string
	CreatedAt  time.Time
}

// PhaseIntro is the message shown when a new interview phase starts.
type PhaseIntro struct {
	ID    string
	Phase int
	Text  string
}
