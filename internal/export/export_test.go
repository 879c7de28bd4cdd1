package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xsurvey/xsurvey/internal/store"
	"github.com/xsurvey/xsurvey/internal/store/sqlite"
)

func seededStore(t *testing.T) store.Store {
	t.Helper()

	s, err := sqlite.Open(filepath.Join(t.TempDir(), "export.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, s.SeedCatalog(ctx, []store.Question{
		{ID: 1, Text: "What feedback changed you?", Criterion: "concrete", Phase: 1, MaxDepth: 2, CreatedAt: now},
		{ID: 2, Text: "What is your main goal?", Criterion: "goal", Phase: 2, MaxDepth: 1, CreatedAt: now},
	}, nil))

	// user-b answered first so ordering by user is exercised.
	require.NoError(t, s.AppendExchange(ctx, store.Answer{
		ID: uuid.NewString(), Text: "ship the thesis", QuestionID: 2, UserID: "user-b",
		Phase: 2, Depth: 0, Accepted: true, CreatedAt: now,
	}, nil))
	require.NoError(t, s.AppendExchange(ctx, store.Answer{
		ID: uuid.NewString(), Text: "vague stuff", QuestionID: 1, UserID: "user-a",
		Phase: 1, Depth: 0, Accepted: false, CreatedAt: now.Add(time.Second),
	}, &store.FollowUp{
		ID: uuid.NewString(), UserID: "user-a", QuestionID: 1, Depth: 1,
		Prompt: "Which conversation exactly?", CreatedAt: now.Add(time.Second),
	}))
	require.NoError(t, s.AppendExchange(ctx, store.Answer{
		ID: uuid.NewString(), Text: "the March sprint review", QuestionID: 1, UserID: "user-a",
		Phase: 1, Depth: 1, Accepted: true, CreatedAt: now.Add(2 * time.Second),
	}, nil))

	return s
}

func TestCollectRecordsResolvesPrompts(t *testing.T) {
	st := seededStore(t)

	records, err := CollectRecords(context.Background(), st)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Ordered by user, then submission time.
	require.Equal(t, "user-a", records[0].UserID)
	require.Equal(t, "What feedback changed you?", records[0].Question)
	require.Equal(t, "Which conversation exactly?", records[1].Question)
	require.Equal(t, 1, records[1].Depth)
	require.Equal(t, "user-b", records[2].UserID)
}

func TestWriteCSV(t *testing.T) {
	st := seededStore(t)
	records, err := CollectRecords(context.Background(), st)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, records))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	require.Equal(t, []string{"answer_id", "user_id", "question_id", "question", "full_answer", "phase", "depth", "accepted", "created_at"}, rows[0])
	require.Equal(t, "user-a", rows[1][1])
	require.Equal(t, "Which conversation exactly?", rows[2][3])
	require.Equal(t, "true", rows[3][7])
}

func TestWriteMergedJSONL(t *testing.T) {
	st := seededStore(t)
	records, err := CollectRecords(context.Background(), st)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMergedJSONL(&buf, records))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first struct {
		UserID string `json:"user_id"`
		Text   string `json:"text"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "user-a", first.UserID)
	require.Contains(t, first.Text, "Question 1: What feedback changed you?, Answer 1: vague stuff")
	require.Contains(t, first.Text, "Question 2: Which conversation exactly?, Answer 2: the March sprint review")

	var second struct {
		UserID string `json:"user_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, "user-b", second.UserID)
}

func TestWriteMergedJSONLEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMergedJSONL(&buf, nil))
	require.Empty(t, buf.String())
}
