// Package postgres is the PostgreSQL-backed Store implementation for shared
// deployments, using a pgx connection pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xsurvey/xsurvey/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open opens a PostgreSQL connection pool for the given DSN and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.MaxConns = 10

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);`); err != nil {
		return err
	}

	applied := map[int]bool{}
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version, err := strconv.Atoi(strings.SplitN(name, "_", 2)[0])
		if err != nil {
			return fmt.Errorf("bad migration name %q: %w", name, err)
		}
		if applied[version] {
			continue
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return err
		}
	}
	return nil
}

// Questions implements store.Store.
func (s *Store) Questions(ctx context.Context) ([]store.Question, error) {
	rows, err := s.pool.Query(ctx, `
SELECT question_id, question, acceptance_criteria, phase, max_depth, created_at
FROM questions ORDER BY question_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []store.Question
	for rows.Next() {
		var q store.Question
		if err := rows.Scan(&q.ID, &q.Text, &q.Criterion, &q.Phase, &q.MaxDepth, &q.CreatedAt); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Question implements store.Store.
func (s *Store) Question(ctx context.Context, id int64) (store.Question, error) {
	var q store.Question
	err := s.pool.QueryRow(ctx, `
SELECT question_id, question, acceptance_criteria, phase, max_depth, created_at
FROM questions WHERE question_id = $1`, id).
		Scan(&q.ID, &q.Text, &q.Criterion, &q.Phase, &q.MaxDepth, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Question{}, store.ErrNotFound
	}
	return q, err
}

// PhaseIntro implements store.Store.
func (s *Store) PhaseIntro(ctx context.Context, phase int) (string, error) {
	var intro string
	err := s.pool.QueryRow(ctx,
		`SELECT intro_message FROM phase_intros WHERE phase = $1`, phase).Scan(&intro)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return intro, err
}

// Answers implements store.Store.
func (s *Store) Answers(ctx context.Context, userID string) ([]store.Answer, error) {
	rows, err := s.pool.Query(ctx, `
SELECT answer_id, answer_text, question_id, user_id, phase, depth, accepted, created_at
FROM answers WHERE user_id = $1 ORDER BY created_at ASC, seq ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnswers(rows)
}

// AllAnswers implements store.Store.
func (s *Store) AllAnswers(ctx context.Context) ([]store.Answer, error) {
	rows, err := s.pool.Query(ctx, `
SELECT answer_id, answer_text, question_id, user_id, phase, depth, accepted, created_at
FROM answers ORDER BY user_id ASC, created_at ASC, seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnswers(rows)
}

// FollowUps implements store.Store.
func (s *Store) FollowUps(ctx context.Context, userID string) ([]store.FollowUp, error) {
	rows, err := s.pool.Query(ctx, `
SELECT follow_up_id, user_id, question_id, depth, prompt, created_at
FROM follow_ups WHERE user_id = $1 ORDER BY created_at ASC, seq ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followUps []store.FollowUp
	for rows.Next() {
		var f store.FollowUp
		if err := rows.Scan(&f.ID, &f.UserID, &f.QuestionID, &f.Depth, &f.Prompt, &f.CreatedAt); err != nil {
			return nil, err
		}
		followUps = append(followUps, f)
	}
	return followUps, rows.Err()
}

// AppendExchange implements store.Store.
func (s *Store) AppendExchange(ctx context.Context, answer store.Answer, followUp *store.FollowUp) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
INSERT INTO answers (answer_id, answer_text, question_id, user_id, phase, depth, accepted, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		answer.ID, answer.Text, answer.QuestionID, answer.UserID,
		answer.Phase, answer.Depth, answer.Accepted, answer.CreatedAt); err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	if followUp != nil {
		if _, err := tx.Exec(ctx, `
INSERT INTO follow_ups (follow_up_id, user_id, question_id, depth, prompt, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			followUp.ID, followUp.UserID, followUp.QuestionID,
			followUp.Depth, followUp.Prompt, followUp.CreatedAt); err != nil {
			return fmt.Errorf("insert follow-up: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// SeedCatalog implements store.Store.
func (s *Store) SeedCatalog(ctx context.Context, questions []store.Question, intros []store.PhaseIntro) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, q := range questions {
		if _, err := tx.Exec(ctx, `
INSERT INTO questions (question_id, question, acceptance_criteria, phase, max_depth, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (question_id) DO UPDATE SET
  question = excluded.question,
  acceptance_criteria = excluded.acceptance_criteria,
  phase = excluded.phase,
  max_depth = excluded.max_depth`,
			q.ID, q.Text, q.Criterion, q.Phase, q.MaxDepth, q.CreatedAt); err != nil {
			return fmt.Errorf("seed question %d: %w", q.ID, err)
		}
	}

	for _, intro := range intros {
		if _, err := tx.Exec(ctx, `
INSERT INTO phase_intros (intro_id, phase, intro_message) VALUES ($1, $2, $3)
ON CONFLICT (phase) DO UPDATE SET intro_message = excluded.intro_message`,
			intro.ID, intro.Phase, intro.Text); err != nil {
			return fmt.Errorf("seed intro for phase %d: %w", intro.Phase, err)
		}
	}

	return tx.Commit(ctx)
}

// ResetAnswers implements store.Store.
func (s *Store) ResetAnswers(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM follow_ups`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM answers`); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func collectAnswers(rows pgx.Rows) ([]store.Answer, error) {
	var answers []store.Answer
	for rows.Next() {
		var a store.Answer
		if err := rows.Scan(&a.ID, &a.Text, &a.QuestionID, &a.UserID, &a.Phase, &a.Depth, &a.Accepted, &a.CreatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
