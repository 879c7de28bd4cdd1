package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/ai"
	"github.com/xsurvey/xsurvey/internal/store"
)

type memStore struct {
	mu        sync.Mutex
	questions []store.Question
	intros    map[int]string
	answers   []store.Answer
	followUps []store.FollowUp
	appendErr error
}

func (m *memStore) Questions(context.Context) ([]store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Question(nil), m.questions...), nil
}

func (m *memStore) Question(_ context.Context, id int64) (store.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.questions {
		if q.ID == id {
			return q, nil
		}
	}
	return store.Question{}, store.ErrNotFound
}

func (m *memStore) PhaseIntro(_ context.Context, phase int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.intros[phase], nil
}

func (m *memStore) Answers(_ context.Context, userID string) ([]store.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Answer
	for _, a := range m.answers {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) AllAnswers(context.Context) ([]store.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.Answer(nil), m.answers...), nil
}

func (m *memStore) FollowUps(_ context.Context, userID string) ([]store.FollowUp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.FollowUp
	for _, f := range m.followUps {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) AppendExchange(_ context.Context, answer store.Answer, followUp *store.FollowUp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	m.answers = append(m.answers, answer)
	if followUp != nil {
		m.followUps = append(m.followUps, *followUp)
	}
	return nil
}

func (m *memStore) SeedCatalog(_ context.Context, questions []store.Question, intros []store.PhaseIntro) error {
	m.questions = questions
	m.intros = make(map[int]string)
	for _, i := range intros {
		m.intros[i.Phase] = i.Text
	}
	return nil
}

func (m *memStore) ResetAnswers(context.Context) error {
	m.answers = nil
	m.followUps = nil
	return nil
}

func (m *memStore) Close() error { return nil }

type stubJudge struct {
	mu       sync.Mutex
	verdicts []*ai.Verdict
	err      error
	calls    int
	lastReq  ai.JudgeRequest
}

func (j *stubJudge) Judge(_ context.Context, req ai.JudgeRequest) (*ai.Verdict, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls++
	j.lastReq = req
	if j.err != nil {
		return nil, j.err
	}
	v := j.verdicts[0]
	if len(j.verdicts) > 1 {
		j.verdicts = j.verdicts[1:]
	}
	return v, nil
}

type stubFollowUps struct {
	mu     sync.Mutex
	prompt string
	err    error
	calls  int
}

func (f *stubFollowUps) FollowUp(_ context.Context, _, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.prompt, nil
}

type stubReactions struct {
	reaction string
	err      error
}

func (r *stubReactions) React(_ context.Context, _, _, _ string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.reaction, nil
}

func twoPhaseCatalog() []store.Question {
	now := time.Now().UTC()
	return []store.Question{
		{ID: 1, Text: "What feedback changed you?", Criterion: "names a concrete situation", Phase: 1, MaxDepth: 2, CreatedAt: now},
		{ID: 2, Text: "What is your main goal?", Criterion: "names a goal", Phase: 2, MaxDepth: 1, CreatedAt: now},
	}
}

func newTestEngine(st store.Store, judge ai.Judge, followUps ai.FollowUpGenerator, reactions ai.ReactionGenerator) *Engine {
	return New(st, judge, followUps, reactions, Options{Logger: zap.NewNop()})
}

func TestAcceptedAnswerAdvances(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{1: "Phase one.", 2: "Phase two."}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: true}}}
	e := newTestEngine(st, judge, &stubFollowUps{prompt: "unused"}, &stubReactions{reaction: "Thanks!"})

	out, err := e.SubmitAnswer(context.Background(), "user-1", 1, 0, "My manager told me I interrupt people.")
	require.NoError(t, err)
	require.True(t, out.Accepted)
	require.Equal(t, "Thanks!", out.Reaction)
	require.NotNil(t, out.Next)
	require.Equal(t, int64(2), out.Next.QuestionID)
	require.Equal(t, 0, out.Next.Depth)
	require.Equal(t, "Phase two.", out.Next.Intro)

	require.Len(t, st.answers, 1)
	require.True(t, st.answers[0].Accepted)
	require.Equal(t, int64(1), st.answers[0].QuestionID)
	require.Empty(t, st.followUps)
}

func TestRejectedAnswerGetsFollowUp(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: false, Reason: "no situation named"}}}
	followUps := &stubFollowUps{prompt: "Can you recall one specific conversation?"}
	e := newTestEngine(st, judge, followUps, &stubReactions{reaction: "I see."})

	out, err := e.SubmitAnswer(context.Background(), "user-1", 1, 0, "I get feedback all the time.")
	require.NoError(t, err)
	require.False(t, out.Accepted)
	require.Equal(t, "no situation named", out.Reason)
	require.NotNil(t, out.Next)
	require.Equal(t, int64(1), out.Next.QuestionID)
	require.Equal(t, 1, out.Next.Depth)
	require.Equal(t, "Can you recall one specific conversation?", out.Next.Text)

	require.Len(t, st.followUps, 1)
	require.Equal(t, 1, st.followUps[0].Depth)
}

func TestDepthExhaustionAdvances(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: false, Reason: "still vague"}}}
	followUps := &stubFollowUps{prompt: "Try again, one concrete moment?"}
	e := newTestEngine(st, judge, followUps, &stubReactions{reaction: "Hm."})
	ctx := context.Background()

	out, err := e.SubmitAnswer(ctx, "user-1", 1, 0, "vague")
	require.NoError(t, err)
	require.Equal(t, 1, out.Next.Depth)

	out, err = e.SubmitAnswer(ctx, "user-1", 1, 1, "still vague")
	require.NoError(t, err)
	require.Equal(t, 2, out.Next.Depth)

	// Third rejection hits the depth cap, the interview moves on anyway.
	out, err = e.SubmitAnswer(ctx, "user-1", 1, 2, "vague again")
	require.NoError(t, err)
	require.False(t, out.Accepted)
	require.NotNil(t, out.Next)
	require.Equal(t, int64(2), out.Next.QuestionID)
	require.Equal(t, 0, out.Next.Depth)

	require.Len(t, st.answers, 3)
	require.Len(t, st.followUps, 2)
	require.Equal(t, 2, followUps.calls)
}

func TestJudgeSeesFollowUpPromptAndBaseCriterion(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: false, Reason: "vague"}, {Accepted: true}}}
	followUps := &stubFollowUps{prompt: "Which meeting was it?"}
	e := newTestEngine(st, judge, followUps, &stubReactions{reaction: "Ok."})
	ctx := context.Background()

	_, err := e.SubmitAnswer(ctx, "user-1", 1, 0, "some feedback")
	require.NoError(t, err)

	_, err = e.SubmitAnswer(ctx, "user-1", 1, 1, "the sprint review in March")
	require.NoError(t, err)

	require.Equal(t, "Which meeting was it?", judge.lastReq.Question)
	require.Equal(t, "names a concrete situation", judge.lastReq.Criterion)
	require.Contains(t, judge.lastReq.History, "What feedback changed you?")
	require.Contains(t, judge.lastReq.History, "some feedback")
}

func TestEmptyCriterionAutoAccepts(t *testing.T) {
	st := &memStore{
		questions: []store.Question{{ID: 1, Text: "Anything to add?", Phase: 1, MaxDepth: 1}},
		intros:    map[int]string{},
	}
	judge := &stubJudge{err: errors.New("must not be called")}
	e := newTestEngine(st, judge, &stubFollowUps{}, &stubReactions{reaction: "Noted."})

	out, err := e.SubmitAnswer(context.Background(), "user-1", 1, 0, "no")
	require.NoError(t, err)
	require.True(t, out.Accepted)
	require.Nil(t, out.Next)
	require.Equal(t, 0, judge.calls)
	require.Len(t, st.answers, 1)
}

func TestOutOfSequenceSubmission(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: true}}}
	e := newTestEngine(st, judge, &stubFollowUps{}, &stubReactions{reaction: "Ok."})
	ctx := context.Background()

	_, err := e.SubmitAnswer(ctx, "user-1", 2, 0, "wrong question")
	require.ErrorIs(t, err, ErrOutOfSequence)

	_, err = e.SubmitAnswer(ctx, "user-1", 1, 1, "wrong depth")
	require.ErrorIs(t, err, ErrOutOfSequence)
	require.Empty(t, st.answers)

	_, err = e.SubmitAnswer(ctx, "user-1", 1, 0, "right position")
	require.NoError(t, err)

	// Replaying the now-resolved position is rejected.
	_, err = e.SubmitAnswer(ctx, "user-1", 1, 0, "again")
	require.ErrorIs(t, err, ErrOutOfSequence)
	require.Len(t, st.answers, 1)
}

func TestJudgeFailureLeavesTrailUntouched(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{err: errors.New("upstream timeout")}
	e := newTestEngine(st, judge, &stubFollowUps{}, &stubReactions{reaction: "Ok."})

	_, err := e.SubmitAnswer(context.Background(), "user-1", 1, 0, "answer")
	require.ErrorIs(t, err, ErrJudgeUnavailable)
	require.Empty(t, st.answers)
	require.Empty(t, st.followUps)
}

func TestGenerationFailureLeavesTrailUntouched(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: false, Reason: "vague"}}}
	followUps := &stubFollowUps{err: errors.New("model overloaded")}
	e := newTestEngine(st, judge, followUps, &stubReactions{reaction: "Ok."})

	_, err := e.SubmitAnswer(context.Background(), "user-1", 1, 0, "answer")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Empty(t, st.answers)
	require.Empty(t, st.followUps)
}

func TestReactionFailureLeavesTrailUntouched(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: true}}}
	e := newTestEngine(st, judge, &stubFollowUps{}, &stubReactions{err: errors.New("model overloaded")})

	_, err := e.SubmitAnswer(context.Background(), "user-1", 1, 0, "answer")
	require.ErrorIs(t, err, ErrGenerationFailed)
	require.Empty(t, st.answers)
}

func TestResumeFromPersistedTrail(t *testing.T) {
	now := time.Now().UTC()
	st := &memStore{
		questions: twoPhaseCatalog(),
		intros:    map[int]string{1: "Phase one."},
		answers: []store.Answer{
			{ID: "a1", Text: "vague", QuestionID: 1, UserID: "user-1", Phase: 1, Depth: 0, Accepted: false, CreatedAt: now},
		},
		followUps: []store.FollowUp{
			{ID: "f1", UserID: "user-1", QuestionID: 1, Depth: 1, Prompt: "Which conversation exactly?", CreatedAt: now},
		},
	}
	e := newTestEngine(st, &stubJudge{}, &stubFollowUps{}, &stubReactions{})

	prompt, err := e.CurrentPrompt(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, prompt)
	require.Equal(t, int64(1), prompt.QuestionID)
	require.Equal(t, 1, prompt.Depth)
	require.Equal(t, "Which conversation exactly?", prompt.Text)
	require.Empty(t, prompt.Intro)
}

func TestCurrentPromptIncludesPhaseIntroOnce(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{1: "Phase one.", 2: "Phase two."}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: true}}}
	e := newTestEngine(st, judge, &stubFollowUps{}, &stubReactions{reaction: "Ok."})
	ctx := context.Background()

	prompt, err := e.CurrentPrompt(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, "Phase one.", prompt.Intro)

	out, err := e.SubmitAnswer(ctx, "user-1", 1, 0, "a detailed answer")
	require.NoError(t, err)
	require.Equal(t, "Phase two.", out.Next.Intro)
}

func TestCurrentPromptNilWhenComplete(t *testing.T) {
	now := time.Now().UTC()
	st := &memStore{
		questions: twoPhaseCatalog(),
		intros:    map[int]string{},
		answers: []store.Answer{
			{ID: "a1", QuestionID: 1, UserID: "user-1", Phase: 1, Accepted: true, CreatedAt: now},
			{ID: "a2", QuestionID: 2, UserID: "user-1", Phase: 2, Accepted: true, CreatedAt: now},
		},
	}
	e := newTestEngine(st, &stubJudge{}, &stubFollowUps{}, &stubReactions{})

	prompt, err := e.CurrentPrompt(context.Background(), "user-1")
	require.NoError(t, err)
	require.Nil(t, prompt)
}

func TestConcurrentSubmissionsSerialize(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: true}}}
	e := newTestEngine(st, judge, &stubFollowUps{}, &stubReactions{reaction: "Ok."})

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := e.SubmitAnswer(context.Background(), "user-1", 1, 0, "same position")
			errs <- err
		}()
	}
	first, second := <-errs, <-errs

	var accepted, rejected int
	for _, err := range []error{first, second} {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrOutOfSequence):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, 1, rejected)
	require.Len(t, st.answers, 1)
}

func TestHistoryFiltersByPhase(t *testing.T) {
	st := &memStore{questions: twoPhaseCatalog(), intros: map[int]string{}}
	judge := &stubJudge{verdicts: []*ai.Verdict{{Accepted: true}}}
	e := newTestEngine(st, judge, &stubFollowUps{}, &stubReactions{reaction: "Ok."})
	ctx := context.Background()

	_, err := e.SubmitAnswer(ctx, "user-1", 1, 0, "first answer")
	require.NoError(t, err)
	_, err = e.SubmitAnswer(ctx, "user-1", 2, 0, "second answer")
	require.NoError(t, err)

	all, err := e.History(ctx, "user-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "What feedback changed you?", all[0].Prompt)

	phase2, err := e.History(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, phase2, 1)
	require.Equal(t, int64(2), phase2[0].QuestionID)
}
