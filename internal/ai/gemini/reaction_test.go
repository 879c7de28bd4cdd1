package gemini

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestReactIncludesHistoryBeforeQuestion(t *testing.T) {
	stub := &stubGenerator{response: "That sounds like a difficult week."}
	reactor := NewReactor(stub, 0, zap.NewNop())

	reaction, err := reactor.React(context.Background(), "How did that make you feel?", "Pretty stressed", "Question: Warmup\nAnswer: Hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reaction != "That sounds like a difficult week." {
		t.Fatalf("unexpected reaction: %q", reaction)
	}

	historyIdx := strings.Index(stub.lastPrompt, "Question: Warmup")
	questionIdx := strings.Index(stub.lastPrompt, "Question: How did that make you feel?")
	if historyIdx == -1 || questionIdx == -1 || historyIdx > questionIdx {
		t.Fatalf("expected history before current question in prompt: %s", stub.lastPrompt)
	}
}

func TestReactWithoutHistory(t *testing.T) {
	stub := &stubGenerator{response: "Thanks for sharing."}
	reactor := NewReactor(stub, 0, zap.NewNop())

	if _, err := reactor.React(context.Background(), "Q", "A", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.Contains(stub.lastPrompt, "{{HISTORY}}") {
		t.Fatalf("history placeholder left in prompt: %s", stub.lastPrompt)
	}
}

func TestReactRejectsEmptyOutput(t *testing.T) {
	stub := &stubGenerator{response: ""}
	reactor := NewReactor(stub, 0, zap.NewNop())

	if _, err := reactor.React(context.Background(), "Q", "A", ""); err == nil {
		t.Fatalf("expected error for empty reaction")
	}
}
