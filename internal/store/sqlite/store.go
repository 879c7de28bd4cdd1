// Package sqlite is the SQLite-backed Store implementation, the default for
// single-host deployments. It uses the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xsurvey/xsurvey/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating when necessary) a SQLite database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}

	applied := map[int]bool{}
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
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
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

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
		if _, err := s.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().UnixNano()); err != nil {
			return err
		}
	}
	return nil
}

// Questions implements store.Store.
func (s *Store) Questions(ctx context.Context) ([]store.Question, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT question_id, question, acceptance_criteria, phase, max_depth, created_at
FROM questions ORDER BY question_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []store.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Question implements store.Store.
func (s *Store) Question(ctx context.Context, id int64) (store.Question, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT question_id, question, acceptance_criteria, phase, max_depth, created_at
FROM questions WHERE question_id = ?`, id)

	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Question{}, store.ErrNotFound
	}
	return q, err
}

// PhaseIntro implements store.Store.
func (s *Store) PhaseIntro(ctx context.Context, phase int) (string, error) {
	var intro string
	err := s.db.QueryRowContext(ctx,
		`SELECT intro_message FROM phase_intros WHERE phase = ?`, phase).Scan(&intro)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return intro, err
}

// Answers implements store.Store.
func (s *Store) Answers(ctx context.Context, userID string) ([]store.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT answer_id, answer_text, question_id, user_id, phase, depth, accepted, created_at
FROM answers WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnswers(rows)
}

// AllAnswers implements store.Store.
func (s *Store) AllAnswers(ctx context.Context) ([]store.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT answer_id, answer_text, question_id, user_id, phase, depth, accepted, created_at
FROM answers ORDER BY user_id ASC, created_at ASC, rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAnswers(rows)
}

// FollowUps implements store.Store.
func (s *Store) FollowUps(ctx context.Context, userID string) ([]store.FollowUp, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT follow_up_id, user_id, question_id, depth, prompt, created_at
FROM follow_ups WHERE user_id = ? ORDER BY created_at ASC, rowid ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var followUps []store.FollowUp
	for rows.Next() {
		var (
			f  store.FollowUp
			ts int64
		)
		if err := rows.Scan(&f.ID, &f.UserID, &f.QuestionID, &f.Depth, &f.Prompt, &ts); err != nil {
			return nil, err
		}
		f.CreatedAt = time.Unix(0, ts).UTC()
		followUps = append(followUps, f)
	}
	return followUps, rows.Err()
}

// AppendExchange implements store.Store.
func (s *Store) AppendExchange(ctx context.Context, answer store.Answer, followUp *store.FollowUp) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO answers (answer_id, answer_text, question_id, user_id, phase, depth, accepted, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		answer.ID, answer.Text, answer.QuestionID, answer.UserID,
		answer.Phase, answer.Depth, boolToInt(answer.Accepted), answer.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}

	if followUp != nil {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO follow_ups (follow_up_id, user_id, question_id, depth, prompt, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			followUp.ID, followUp.UserID, followUp.QuestionID,
			followUp.Depth, followUp.Prompt, followUp.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("insert follow-up: %w", err)
		}
	}

	return tx.Commit()
}

// SeedCatalog implements store.Store.
func (s *Store) SeedCatalog(ctx context.Context, questions []store.Question, intros []store.PhaseIntro) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range questions {
		if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO questions (question_id, question, acceptance_criteria, phase, max_depth, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			q.ID, q.Text, q.Criterion, q.Phase, q.MaxDepth, q.CreatedAt.UnixNano()); err != nil {
			return fmt.Errorf("seed question %d: %w", q.ID, err)
		}
	}

	for _, intro := range intros {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO phase_intros (intro_id, phase, intro_message) VALUES (?, ?, ?)
ON CONFLICT(phase) DO UPDATE SET intro_message = excluded.intro_message`,
			intro.ID, intro.Phase, intro.Text); err != nil {
			return fmt.Errorf("seed intro for phase %d: %w", intro.Phase, err)
		}
	}

	return tx.Commit()
}

// ResetAnswers implements store.Store.
func (s *Store) ResetAnswers(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM follow_ups`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM answers`); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQuestion(row rowScanner) (store.Question, error) {
	var (
		q  store.Question
		ts int64
	)
	if err := row.Scan(&q.ID, &q.Text, &q.Criterion, &q.Phase, &q.MaxDepth, &ts); err != nil {
		return store.Question{}, err
	}
	q.CreatedAt = time.Unix(0, ts).UTC()
	return q, nil
}

func collectAnswers(rows *sql.Rows) ([]store.Answer, error) {
	var answers []store.Answer
	for rows.Next() {
		var (
			a        store.Answer
			accepted int
			ts       int64
		)
		if err := rows.Scan(&a.ID, &a.Text, &a.QuestionID, &a.UserID, &a.Phase, &a.Depth, &accepted, &ts); err != nil {
			return nil, err
		}
		a.Accepted = accepted != 0
		a.CreatedAt = time.Unix(0, ts).UTC()
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
