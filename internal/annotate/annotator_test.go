package annotate

import (
	"bulletin/internal/core"
	"bulletin/internal/llm"
	"bulletin/internal/persistence"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockJudge records requests and answers through JudgeFunc.
type mockJudge struct {
	mu        sync.Mutex
	requests  []llm.Request
	JudgeFunc func(req llm.Request, call int) (core.Judgment, error)
}

func (m *mockJudge) Judge(ctx context.Context, req llm.Request) (core.Judgment, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	call := len(m.requests)
	m.mu.Unlock()
	if m.JudgeFunc != nil {
		return m.JudgeFunc(req, call)
	}
	return core.Judgment{Summary: "summary of " + req.Title, Include: core.BoolPtr(true)}, nil
}

func (m *mockJudge) titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.requests {
		out = append(out, r.Title)
	}
	return out
}

func seedItems(t *testing.T, db persistence.Database, source string, n int) []core.Item {
	t.Helper()
	items := make([]core.Item, n)
	for i := range items {
		items[i] = core.Item{
			Source:     source,
			Link:       fmt.Sprintf("https://example.org/%s/%d", source, i+1),
			Title:      fmt.Sprintf("item-%d", i+1),
			RawContent: core.StringPtr(fmt.Sprintf("content %d", i+1)),
		}
	}
	_, err := db.Items().InsertIfAbsent(context.Background(), items)
	require.NoError(t, err)
	return items
}

func TestSelectItemsSkipsJudgedAndEmpty(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	items := seedItems(t, db, core.SourceLessWrong, 10)

	for _, i := range []int{1, 4, 7} {
		_, err := db.Items().UpdateJudgment(ctx, items[i].Link, core.Judgment{Summary: "done", Include: core.BoolPtr(false)})
		require.NoError(t, err)
	}
	_, err := db.Items().InsertIfAbsent(ctx, []core.Item{{Source: core.SourceLessWrong, Link: "https://example.org/empty", Title: "empty"}})
	require.NoError(t, err)

	selected, err := NewSelector(db).SelectItems(ctx, core.SourceLessWrong)
	require.NoError(t, err)

	var titles []string
	for _, it := range selected {
		titles = append(titles, it.Title)
	}
	assert.Equal(t, []string{"item-1", "item-3", "item-4", "item-6", "item-7", "item-9", "item-10"}, titles)
}

func TestAnnotateItemsPartialFailure(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	items := seedItems(t, db, core.SourceHFPapers, 7)

	judge := &mockJudge{JudgeFunc: func(req llm.Request, call int) (core.Judgment, error) {
		if req.Title == "item-4" {
			return core.Judgment{}, llm.ErrMalformedJudgment
		}
		return core.Judgment{Summary: "ok " + req.Title, Include: core.BoolPtr(call%2 == 0)}, nil
	}}

	report, err := NewAnnotator(db, judge, Options{}).AnnotateItems(ctx, core.SourceHFPapers)
	require.NoError(t, err)
	assert.Equal(t, Report{Source: core.SourceHFPapers, Kind: core.KindItem, Selected: 7, Judged: 6, Failed: 1}, report)
	assert.Equal(t, []string{"item-1", "item-2", "item-3", "item-4", "item-5", "item-6", "item-7"}, judge.titles())

	for i, it := range items {
		got, err := db.Items().GetByLink(ctx, it.Link)
		require.NoError(t, err)
		if i == 3 {
			assert.False(t, got.Judged(), "failed record stays unjudged")
			continue
		}
		assert.True(t, got.Judged(), it.Link)
	}

	// The failed record is the only one offered on the next run.
	judge2 := &mockJudge{}
	report, err = NewAnnotator(db, judge2, Options{}).AnnotateItems(ctx, core.SourceHFPapers)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Judged)
	assert.Equal(t, []string{"item-4"}, judge2.titles())
}

func TestAnnotateItemsTreatsMissingIncludeAsFailure(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	seedItems(t, db, core.SourceLessWrong, 1)

	judge := &mockJudge{JudgeFunc: func(req llm.Request, call int) (core.Judgment, error) {
		return core.Judgment{Summary: "no decision"}, nil
	}}
	report, err := NewAnnotator(db, judge, Options{}).AnnotateItems(ctx, core.SourceLessWrong)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Judged)
}

func TestAnnotateItemsBatchSize(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	seedItems(t, db, core.SourceLessWrong, 5)

	judge := &mockJudge{}
	a := NewAnnotator(db, judge, Options{BatchSize: 2})

	report, err := a.AnnotateItems(ctx, core.SourceLessWrong)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Selected)
	assert.Equal(t, []string{"item-1", "item-2"}, judge.titles())

	_, err = a.AnnotateItems(ctx, core.SourceLessWrong)
	require.NoError(t, err)
	assert.Equal(t, []string{"item-1", "item-2", "item-3", "item-4"}, judge.titles())
}

func TestAnnotateItemsUsesSourcePrompt(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	seedItems(t, db, core.SourceLessWrong, 1)

	judge := &mockJudge{}
	_, err := NewAnnotator(db, judge, Options{}).AnnotateItems(ctx, core.SourceLessWrong)
	require.NoError(t, err)

	require.Len(t, judge.requests, 1)
	req := judge.requests[0]
	assert.True(t, req.Structured)
	assert.Contains(t, req.Instructions, "LessWrong")
	assert.Equal(t, "content 1", req.Content)
}

func TestAnnotateRankings(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	require.NoError(t, db.Rankings().Upsert(ctx, []core.Ranking{
		{Source: core.SourceCivitai, ModelName: "A", Downloads: 9, Description: core.StringPtr("desc a"), FetchedDate: "2024-01-01"},
		{Source: core.SourceCivitai, ModelName: "B", Downloads: 8, FetchedDate: "2024-01-01"},
		{Source: core.SourceCivitai, ModelName: "C", Downloads: 7, Description: core.StringPtr("desc c"), FetchedDate: "2024-01-01"},
	}))

	judge := &mockJudge{JudgeFunc: func(req llm.Request, call int) (core.Judgment, error) {
		if req.Structured {
			t.Error("ranking prompts are free text")
		}
		if req.Title == "C" {
			return core.Judgment{}, errors.New("timeout")
		}
		return core.Judgment{Summary: "about " + req.Title}, nil
	}}

	report, err := NewAnnotator(db, judge, Options{}).AnnotateRankings(ctx, core.SourceCivitai)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Selected)
	assert.Equal(t, 1, report.Judged)
	assert.Equal(t, 1, report.Failed)

	summarized, err := db.Rankings().List(ctx, core.SourceCivitai, persistence.RankingFilter{Summarized: true})
	require.NoError(t, err)
	require.Len(t, summarized, 1)
	assert.Equal(t, "about A", core.Deref(summarized[0].Summary))
}

func TestAnnotateSerializesSameSource(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	seedItems(t, db, core.SourceLessWrong, 4)

	var inflight, peak atomic.Int32
	judge := &mockJudge{JudgeFunc: func(req llm.Request, call int) (core.Judgment, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		return core.Judgment{Summary: "s", Include: core.BoolPtr(true)}, nil
	}}
	a := NewAnnotator(db, judge, Options{})

	reports := a.AnnotateAll(ctx, []Target{
		{Source: core.SourceLessWrong, Kind: core.KindItem},
		{Source: core.SourceLessWrong, Kind: core.KindItem},
	})
	require.Len(t, reports, 2)

	assert.Equal(t, int32(1), peak.Load(), "one source is annotated by one goroutine at a time")
	assert.Equal(t, 4, reports[0].Judged+reports[1].Judged, "each record judged exactly once")
	assert.Len(t, judge.requests, 4)
}

func TestAnnotateStopsOnCancellation(t *testing.T) {
	db := persistence.NewMemoryDB()
	seedItems(t, db, core.SourceLessWrong, 3)

	ctx, cancel := context.WithCancel(context.Background())
	judge := &mockJudge{JudgeFunc: func(req llm.Request, call int) (core.Judgment, error) {
		cancel()
		return core.Judgment{}, context.Canceled
	}}

	report, err := NewAnnotator(db, judge, Options{}).AnnotateItems(ctx, core.SourceLessWrong)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, judge.requests, 1)
}

func TestAnnotateRateLimited(t *testing.T) {
	db := persistence.NewMemoryDB()
	seedItems(t, db, core.SourceLessWrong, 3)

	judge := &mockJudge{}
	a := NewAnnotator(db, judge, Options{RequestsPerMinute: 60})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	report, err := a.AnnotateItems(ctx, core.SourceLessWrong)

	// One call per second: the first goes through immediately, the second
	// cannot be scheduled before the deadline.
	require.Error(t, err)
	assert.Equal(t, 1, report.Judged)
	assert.True(t, strings.Contains(err.Error(), "rate") || errors.Is(err, context.DeadlineExceeded))
}
