// Package export renders the recorded interview trail for offline analysis.
// It produces a flat CSV of every answer and a per-user JSONL file where each
// line holds one user's whole conversation as a single text block.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xsurvey/xsurvey/internal/store"
)

// Record is one answer joined with the prompt text the user actually saw.
// For depth > 0 that is the generated follow-up, not the catalog question.
type Record struct {
	AnswerID   string
	UserID     string
	QuestionID int64
	Question   string
	Answer     string
	Phase      int
	Depth      int
	Accepted   bool
	CreatedAt  time.Time
}

// CollectRecords loads every answer from the store, ordered by user and
// submission time, and resolves each one's prompt text.
func CollectRecords(ctx context.Context, st store.Store) ([]Record, error) {
	questions, err := st.Questions(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]store.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	answers, err := st.AllAnswers(ctx)
	if err != nil {
		return nil, err
	}

	followUps := make(map[string][]store.FollowUp)
	records := make([]Record, 0, len(answers))
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return nil, fmt.Errorf("answer %s references unknown question %d", a.ID, a.QuestionID)
		}
		if _, ok := followUps[a.UserID]; !ok {
			fs, err := st.FollowUps(ctx, a.UserID)
			if err != nil {
				return nil, err
			}
			followUps[a.UserID] = fs
		}
		records = append(records, Record{
			AnswerID:   a.ID,
			UserID:     a.UserID,
			QuestionID: a.QuestionID,
			Question:   promptText(q, followUps[a.UserID], a.Depth),
			Answer:     a.Text,
			Phase:      a.Phase,
			Depth:      a.Depth,
			Accepted:   a.Accepted,
			CreatedAt:  a.CreatedAt,
		})
	}
	return records, nil
}

// WriteCSV writes records as a flat CSV. Column names match what the analysis
// tooling downstream expects, in particular user_id, question and full_answer.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	header := []string{"answer_id", "user_id", "question_id", "question", "full_answer", "phase", "depth", "accepted", "created_at"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.AnswerID,
			r.UserID,
			strconv.FormatInt(r.QuestionID, 10),
			r.Question,
			r.Answer,
			strconv.Itoa(r.Phase),
			strconv.Itoa(r.Depth),
			strconv.FormatBool(r.Accepted),
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type userText struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// WriteMergedJSONL writes one JSON line per user with every Q&A pair merged
// into a numbered text block. Records must already be grouped by user, which
// CollectRecords guarantees.
func WriteMergedJSONL(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var (
		current string
		pairs   []string
	)
	flush := func() error {
		if current == "" {
			return nil
		}
		return enc.Encode(userText{UserID: current, Text: strings.Join(pairs, " ")})
	}
	for _, r := range records {
		if r.UserID != current {
			if err := flush(); err != nil {
				return err
			}
			current = r.UserID
			pairs = pairs[:0]
		}
		n := len(pairs) + 1
		pairs = append(pairs, fmt.Sprintf("Question %d: %s, Answer %d: %s \n\n", n, r.Question, n, r.Answer))
	}
	return flush()
}

func promptText(q store.Question, followUps []store.FollowUp, depth int) string {
	if depth == 0 {
		return q.Text
	}
	for _, f := range followUps {
		if f.QuestionID == q.ID && f.Depth == depth {
			return f.Prompt
		}
	}
	return q.Text
}
