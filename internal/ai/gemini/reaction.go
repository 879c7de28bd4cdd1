package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	_ "embed"

	"go.uber.org/zap"

	"github.com/xsurvey/xsurvey/internal/util"
)

//go:embed reaction_prompt.md
var reactionPromptTemplate string

// Reactor generates short acknowledgements of answers, optionally grounded in
// the prior conversation so reactions do not repeat themselves.
type Reactor struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

// NewReactor creates a Reactor backed by the provided generator.
func NewReactor(generator contentGenerator, maxLogLength int, logger *zap.Logger) *Reactor {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reactor{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// React implements ai.ReactionGenerator.
func (r *Reactor) React(ctx context.Context, question, answer, history string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("question is required")
	}

	historyBlock := strings.TrimSpace(history)
	if historyBlock != "" {
		historyBlock += "\n\n"
	}

	prompt := strings.ReplaceAll(reactionPromptTemplate, "{{HISTORY}}", historyBlock)
	prompt = strings.ReplaceAll(prompt, "{{QUESTION}}", question)
	prompt = strings.ReplaceAll(prompt, "{{ANSWER}}", strings.TrimSpace(answer))

	raw, err := r.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return "", err
	}

	r.logger.Debug("reaction generated",
		zap.String("response_preview", util.TruncateForLog(raw, r.maxLogLen)),
	)

	reaction := strings.TrimSpace(raw)
	if reaction == "" {
		return "", errors.New("model returned an empty reaction")
	}

	return reaction, nil
}
