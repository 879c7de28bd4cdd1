package ai

import "context"

// Verdict is the outcome of judging an answer against its acceptance criterion.
type Verdict struct {
	Accepted bool
	Reason   string
	Raw      string
}

// JudgeRequest carries everything the judge needs to evaluate one answer.
// History is optional prior-turn context formatted as alternating
// "Question: ... / Answer: ..." lines.
type JudgeRequest struct {
	Question  string
	Criterion string
	Answer    string
	History   string
}

// Judge decides whether an answer satisfies the acceptance criterion of the
// question it was asked for. Implementations are nondeterministic and
// fallible; callers must treat an error as "no verdict", never as a verdict.
type Judge interface {
	Judge(ctx context.Context, req JudgeRequest) (*Verdict, error)
}

// FollowUpGenerator produces one concise sub-question for an answer that was
// rejected with the given reason.
type FollowUpGenerator interface {
	FollowUp(ctx context.Context, question, answer, reason string) (string, error)
}

// ReactionGenerator produces a short contextual acknowledgement of an answer.
type ReactionGenerator interface {
	React(ctx context.Context, question, answer, history string) (string, error)
}
