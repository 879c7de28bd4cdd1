// Package store defines the durable conversation record: the immutable
// question catalog, append-only answers, generated follow-up prompts, and
// phase intro messages. Implementations: sqlite (default) and postgres.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence interface consumed by the flow engine and the
// export tooling.
type Store interface {
	// Questions returns the full catalog ordered by ascending question id.
	Questions(ctx context.Context) ([]Question, error)
	// Question returns a single catalog entry or ErrNotFound.
	Question(ctx context.Context, id int64) (Question, error)
	// PhaseIntro returns the intro message for a phase, or "" when none is
	// configured.
	PhaseIntro(ctx context.Context, phase int) (string, error)

	// Answers returns every answer of the user in chronological order.
	Answers(ctx context.Context, userID string) ([]Answer, error)
	// FollowUps returns every generated sub-question of the user in
	// chronological order.
	FollowUps(ctx context.Context, userID string) ([]FollowUp, error)
	// AppendExchange persists one answer and, when the answer was rejected
	// below the depth limit, the follow-up generated for it. Both rows are
	// written in a single transaction so the conversation position can
	// always be rederived from storage.
	AppendExchange(ctx context.Context, answer Answer, followUp *FollowUp) error

	// AllAnswers returns every persisted answer across users, chronological,
	// for export.
	AllAnswers(ctx context.Context) ([]Answer, error)

	// SeedCatalog installs the question catalog and phase intros. Existing
	// rows with the same ids are replaced; answers are untouched.
	SeedCatalog(ctx context.Context, questions []Question, intros []PhaseIntro) error
	// ResetAnswers deletes all answers and follow-ups. Administrative only.
	ResetAnswers(ctx context.Context) error

	Close() error
}
