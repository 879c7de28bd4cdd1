package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/ai"
	"github.com/xsurvey/xsurvey/internal/util"
)

// contentGenerator is the shared slice of Generator the capabilities consume.
type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

//go:embed judge_prompt.md
var judgePromptTemplate string

const defaultMaxLogLength = 200

// Judge evaluates answers against free-text acceptance criteria using the
// Gemini model. The model is asked for strict JSON and the response is parsed
// tolerantly; anything unparseable is an error, never a verdict.
type Judge struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

// NewJudge creates a Judge backed by the provided content generator.
func NewJudge(generator contentGenerator, maxLogLength int, logger *zap.Logger) *Judge {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Judge{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// Judge implements ai.Judge.
func (j *Judge) Judge(ctx context.Context, req ai.JudgeRequest) (*ai.Verdict, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}
	answer := strings.TrimSpace(req.Answer)
	if answer == "" {
		return nil, fmt.Errorf("answer is required")
	}

	prompt := buildJudgePrompt(question, req.Criterion, answer, req.History)

	j.logger.Debug("judge request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", util.TruncateForLog(prompt, j.maxLogLen)),
	)

	raw, err := j.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	j.logger.Debug("judge response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", util.TruncateForLog(raw, j.maxLogLen)),
	)

	verdict, err := parseVerdict(raw)
	if err != nil {
		return nil, err
	}

	verdict.Raw = raw
	return verdict, nil
}

func buildJudgePrompt(question, criterion, answer, history string) string {
	history = strings.TrimSpace(history)
	if history == "" {
		history = "none"
	}

	prompt := strings.ReplaceAll(judgePromptTemplate, "{{QUESTION}}", question)
	prompt = strings.ReplaceAll(prompt, "{{CRITERION}}", strings.TrimSpace(criterion))
	prompt = strings.ReplaceAll(prompt, "{{ANSWER}}", answer)
	prompt = strings.ReplaceAll(prompt, "{{HISTORY}}", history)
	return prompt
}

func parseVerdict(raw string) (*ai.Verdict, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse judge response: %w", err)
	}

	var payload struct {
		Result string `mapstructure:"result"`
		Reason string `mapstructure:"reason"`
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &payload,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(data); err != nil {
		return nil, fmt.Errorf("parse judge response: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(payload.Result)) {
	case "passed":
		return &ai.Verdict{Accepted: true}, nil
	case "failed":
		return &ai.Verdict{Accepted: false, Reason: strings.TrimSpace(payload.Reason)}, nil
	default:
		return nil, fmt.Errorf("judge returned unexpected result %q", payload.Result)
	}
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}
