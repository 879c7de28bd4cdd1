package engine

import (
	"fmt"

	"github.com/xsurvey/xsurvey/internal/store"
)

// position is the user's place in the interview, rederived from persisted
// history on every call. The engine keeps no in-memory cursor, so a restart
// resumes exactly where the user left off.
type position struct {
	question store.Question
	depth    int
	prompt   string
	done     bool
}

// derivePosition walks the question catalog in order and classifies each
// question against the user's answer trail. A question is resolved when its
// latest answer was accepted, or when it was rejected at the question's final
// depth. The first unresolved question is the active one.
func derivePosition(questions []store.Question, answers []store.Answer, followUps []store.FollowUp, defaultMaxDepth int) (position, error) {
	for _, q := range questions {
		last, ok := latestAnswer(answers, q.ID)
		if !ok {
			return position{question: q, depth: 0, prompt: q.Text}, nil
		}
		if last.Accepted {
			continue
		}
		if last.Depth >= maxDepthFor(q, defaultMaxDepth) {
			// Depth exhausted, the interview moves on regardless.
			continue
		}
		depth := last.Depth + 1
		prompt, ok := followUpPrompt(followUps, q.ID, depth)
		if !ok {
			return position{}, fmt.Errorf("no stored follow-up for question %d at depth %d", q.ID, depth)
		}
		return position{question: q, depth: depth, prompt: prompt}, nil
	}
	return position{done: true}, nil
}

func latestAnswer(answers []store.Answer, questionID int64) (store.Answer, bool) {
	var (
		last  store.Answer
		found bool
	)
	for _, a := range answers {
		if a.QuestionID == questionID {
			last = a
			found = true
		}
	}
	return last, found
}

func followUpPrompt(followUps []store.FollowUp, questionID int64, depth int) (string, bool) {
	var (
		prompt string
		found  bool
	)
	for _, f := range followUps {
		if f.QuestionID == questionID && f.Depth == depth {
			prompt = f.Prompt
			found = true
		}
	}
	return prompt, found
}

func maxDepthFor(q store.Question, defaultMaxDepth int) int {
	if q.MaxDepth > 0 {
		return q.MaxDepth
	}
	return defaultMaxDepth
}
