package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/util"
)

//go:embed followup_prompt.md
var followUpPromptTemplate string

// FollowUpWriter generates one concise sub-question for a rejected answer.
type FollowUpWriter struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

// NewFollowUpWriter creates a FollowUpWriter backed by the provided generator.
func NewFollowUpWriter(generator contentGenerator, maxLogLength int, logger *zap.Logger) *FollowUpWriter {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FollowUpWriter{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// FollowUp implements ai.FollowUpGenerator. Empty model output is an error;
// the engine must never show a blank prompt.
func (w *FollowUpWriter) FollowUp(ctx context.Context, question, answer, reason string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}

	prompt := strings.ReplaceAll(followUpPromptTemplate, "{{QUESTION}}", question)
	prompt = strings.ReplaceAll(prompt, "{{ANSWER}}", strings.TrimSpace(answer))
	prompt = strings.ReplaceAll(prompt, "{{REASON}}", strings.TrimSpace(reason))

	raw, err := w.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return "", err
	}

	w.logger.Debug("follow-up generated",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", util.TruncateForLog(raw, w.maxLogLen)),
	)

	subQuestion := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "`\""))
	if subQuestion == "" {
		return "", errors.New("model returned an empty follow-up question")
	}

	return subQuestion, nil
}
