package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/ai"
	"github.com/xsurvey/xsurvey/internal/logger"
	"github.com/xsurvey/xsurvey/internal/store"
	"github.com/xsurvey/xsurvey/internal/util"
)

const (
	defaultMaxDepth  = 1
	defaultMaxLogLen = 200
)

// Options tunes an Engine. Zero values fall back to sane defaults.
type Options struct {
	// DefaultMaxDepth caps follow-up depth for questions that do not set
	// their own limit.
	DefaultMaxDepth int
	// CapabilityTimeout bounds each judge/generation call. Zero means the
	// caller's context deadline applies as-is.
	CapabilityTimeout time.Duration
	Logger            *zap.Logger
}

// Engine drives the interview. It keeps no per-user state in memory: every
// call rederives the user's position from the persisted answer trail, so the
// process can restart mid-interview without losing anyone's place.
type Engine struct {
	store     store.Store
	judge     ai.Judge
	followUps ai.FollowUpGenerator
	reactions ai.ReactionGenerator
	maxDepth  int
	timeout   time.Duration
	log       *zap.Logger

	mu    sync.Mutex
	users map[string]*sync.Mutex
}

func New(st store.Store, judge ai.Judge, followUps ai.FollowUpGenerator, reactions ai.ReactionGenerator, opts Options) *Engine {
	maxDepth := opts.DefaultMaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:     st,
		judge:     judge,
		followUps: followUps,
		reactions: reactions,
		maxDepth:  maxDepth,
		timeout:   opts.CapabilityTimeout,
		log:       log,
		users:     make(map[string]*sync.Mutex),
	}
}

// Prompt is the next thing to ask a user. Depth 0 is a base question from the
// catalog, deeper prompts are generated follow-ups. Intro carries the phase
// introduction when the user is entering a phase for the first time.
type Prompt struct {
	QuestionID int64
	Depth      int
	Phase      int
	Text       string
	Intro      string
}

// Outcome reports what happened to a submitted answer. Next is nil when the
// interview is complete.
type Outcome struct {
	Accepted bool
	Reason   string
	Reaction string
	Next     *Prompt
}

// Exchange is one prompt/answer pair from a user's history.
type Exchange struct {
	QuestionID int64
	Depth      int
	Phase      int
	Prompt     string
	Answer     string
	Accepted   bool
	CreatedAt  time.Time
}

// CurrentPrompt returns the user's active prompt, or nil when every question
// is resolved.
func (e *Engine) CurrentPrompt(ctx context.Context, userID string) (*Prompt, error) {
	unlock := e.lockUser(userID)
	defer unlock()

	questions, answers, followUps, err := e.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	pos, err := derivePosition(questions, answers, followUps, e.maxDepth)
	if err != nil {
		return nil, err
	}
	return e.buildPrompt(ctx, pos, answers)
}

// SubmitAnswer records the user's answer to the prompt at (questionID, depth)
// and returns the verdict together with the next prompt. The submission must
// target the active position, otherwise ErrOutOfSequence is returned and
// nothing is persisted. All judge and generation calls complete before the
// answer is written, so a capability failure leaves the trail untouched.
func (e *Engine) SubmitAnswer(ctx context.Context, userID string, questionID int64, depth int, text string) (*Outcome, error) {
	unlock := e.lockUser(userID)
	defer unlock()

	questions, answers, followUps, err := e.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	pos, err := derivePosition(questions, answers, followUps, e.maxDepth)
	if err != nil {
		return nil, err
	}
	if pos.done || pos.question.ID != questionID || pos.depth != depth {
		return nil, ErrOutOfSequence
	}

	log := e.log.With(
		zap.String(logger.FieldUser, userID),
		zap.Int64(logger.FieldQuestion, questionID),
		zap.Int("depth", depth),
	)

	verdict, err := e.judgeAnswer(ctx, pos, answers, followUps, text, log)
	if err != nil {
		return nil, err
	}

	var followUp *store.FollowUp
	if !verdict.Accepted && pos.depth < maxDepthFor(pos.question, e.maxDepth) {
		prompt, err := e.generateFollowUp(ctx, pos, text, verdict.Reason)
		if err != nil {
			return nil, err
		}
		followUp = &store.FollowUp{
			ID:         uuid.NewString(),
			UserID:     userID,
			QuestionID: pos.question.ID,
			Depth:      pos.depth + 1,
			Prompt:     prompt,
		}
	}

	reaction, err := e.generateReaction(ctx, pos, questions, answers, followUps, text)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	answer := store.Answer{
		ID:         uuid.NewString(),
		Text:       text,
		QuestionID: pos.question.ID,
		UserID:     userID,
		Phase:      pos.question.Phase,
		Depth:      pos.depth,
		Accepted:   verdict.Accepted,
		CreatedAt:  now,
	}
	if followUp != nil {
		followUp.CreatedAt = now
	}
	if err := e.store.AppendExchange(ctx, answer, followUp); err != nil {
		return nil, fmt.Errorf("persist exchange: %w", err)
	}
	log.Info("answer recorded",
		zap.Bool("accepted", verdict.Accepted),
		zap.String("answer", util.TruncateForLog(text, defaultMaxLogLen)),
	)

	answers = append(answers, answer)
	if followUp != nil {
		followUps = append(followUps, *followUp)
	}
	next, err := derivePosition(questions, answers, followUps, e.maxDepth)
	if err != nil {
		return nil, err
	}
	nextPrompt, err := e.buildPrompt(ctx, next, answers)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Accepted: verdict.Accepted,
		Reason:   verdict.Reason,
		Reaction: reaction,
		Next:     nextPrompt,
	}, nil
}

// History returns the user's exchanges in submission order. Phase 0 means all
// phases.
func (e *Engine) History(ctx context.Context, userID string, phase int) ([]Exchange, error) {
	questions, answers, followUps, err := e.loadState(ctx, userID)
	if err != nil {
		return nil, err
	}
	exchanges := assembleHistory(questions, answers, followUps)
	if phase == 0 {
		return exchanges, nil
	}
	var filtered []Exchange
	for _, ex := range exchanges {
		if ex.Phase == phase {
			filtered = append(filtered, ex)
		}
	}
	return filtered, nil
}

func (e *Engine) judgeAnswer(ctx context.Context, pos position, answers []store.Answer, followUps []store.FollowUp, text string, log *zap.Logger) (*ai.Verdict, error) {
	if pos.question.Criterion == "" {
		log.Debug("no acceptance criterion, accepting answer")
		return &ai.Verdict{Accepted: true}, nil
	}
	cctx, cancel := e.capabilityCtx(ctx)
	defer cancel()
	verdict, err := e.judge.Judge(cctx, ai.JudgeRequest{
		Question:  pos.prompt,
		Criterion: pos.question.Criterion,
		Answer:    text,
		History:   questionHistory(pos.question, answers, followUps),
	})
	if err != nil {
		log.Warn("judge call failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrJudgeUnavailable, err)
	}
	return verdict, nil
}

func (e *Engine) generateFollowUp(ctx context.Context, pos position, text, reason string) (string, error) {
	cctx, cancel := e.capabilityCtx(ctx)
	defer cancel()
	prompt, err := e.followUps.FollowUp(cctx, pos.prompt, text, reason)
	if err != nil {
		return "", fmt.Errorf("%w: follow-up: %v", ErrGenerationFailed, err)
	}
	return prompt, nil
}

func (e *Engine) generateReaction(ctx context.Context, pos position, questions []store.Question, answers []store.Answer, followUps []store.FollowUp, text string) (string, error) {
	byID := make(map[int64]store.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	cctx, cancel := e.capabilityCtx(ctx)
	defer cancel()
	reaction, err := e.reactions.React(cctx, pos.prompt, text, fullHistory(answers, followUps, byID))
	if err != nil {
		return "", fmt.Errorf("%w: reaction: %v", ErrGenerationFailed, err)
	}
	return reaction, nil
}

func (e *Engine) buildPrompt(ctx context.Context, pos position, answers []store.Answer) (*Prompt, error) {
	if pos.done {
		return nil, nil
	}
	p := &Prompt{
		QuestionID: pos.question.ID,
		Depth:      pos.depth,
		Phase:      pos.question.Phase,
		Text:       pos.prompt,
	}
	if pos.depth == 0 && !phaseStarted(answers, pos.question.Phase) {
		intro, err := e.store.PhaseIntro(ctx, pos.question.Phase)
		if err != nil {
			return nil, err
		}
		p.Intro = intro
	}
	return p, nil
}

func (e *Engine) loadState(ctx context.Context, userID string) ([]store.Question, []store.Answer, []store.FollowUp, error) {
	questions, err := e.store.Questions(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	answers, err := e.store.Answers(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	followUps, err := e.store.FollowUps(ctx, userID)
	if err != nil {
		return nil, nil, nil, err
	}
	return questions, answers, followUps, nil
}

func (e *Engine) capabilityCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *Engine) lockUser(userID string) func() {
	e.mu.Lock()
	m, ok := e.users[userID]
	if !ok {
		m = &sync.Mutex{}
		e.users[userID] = m
	}
	e.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func phaseStarted(answers []store.Answer, phase int) bool {
	for _, a := range answers {
		if a.Phase == phase {
			return true
		}
	}
	return false
}

// questionHistory renders the user's earlier exchanges for one base question,
// so the judge sees what the user already said before the current follow-up.
func questionHistory(q store.Question, answers []store.Answer, followUps []store.FollowUp) string {
	var b strings.Builder
	for _, a := range answers {
		if a.QuestionID != q.ID {
			continue
		}
		writeExchange(&b, promptTextAt(q, followUps, a.Depth), a.Text)
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}

// fullHistory renders every exchange the user has made so far, used as context
// for reaction generation.
func fullHistory(answers []store.Answer, followUps []store.FollowUp, questions map[int64]store.Question) string {
	var b strings.Builder
	for _, a := range answers {
		q, ok := questions[a.QuestionID]
		if !ok {
			continue
		}
		writeExchange(&b, promptTextAt(q, followUps, a.Depth), a.Text)
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}

func writeExchange(b *strings.Builder, prompt, answer string) {
	b.WriteString("Question: ")
	b.WriteString(prompt)
	b.WriteString("\nAnswer: ")
	b.WriteString(answer)
	b.WriteString("\n\n")
}

func promptTextAt(q store.Question, followUps []store.FollowUp, depth int) string {
	if depth == 0 {
		return q.Text
	}
	if prompt, ok := followUpPrompt(followUps, q.ID, depth); ok {
		return prompt
	}
	return q.Text
}

func assembleHistory(questions []store.Question, answers []store.Answer, followUps []store.FollowUp) []Exchange {
	byID := make(map[int64]store.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	exchanges := make([]Exchange, 0, len(answers))
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			continue
		}
		exchanges = append(exchanges, Exchange{
			QuestionID: a.QuestionID,
			Depth:      a.Depth,
			Phase:      a.Phase,
			Prompt:     promptTextAt(q, followUps, a.Depth),
			Answer:     a.Text,
			Accepted:   a.Accepted,
			CreatedAt:  a.CreatedAt,
		})
	}
	return exchanges
}
