package pipeline

import (
	"bulletin/internal/annotate"
	"bulletin/internal/config"
	"bulletin/internal/core"
	"bulletin/internal/digest"
	"bulletin/internal/llm"
	"bulletin/internal/persistence"
	"bulletin/internal/sources"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	results []sources.FetchResult
	block   chan struct{}
	entered chan struct{}
}

func (f *stubFetcher) FetchAll(ctx context.Context) []sources.FetchResult {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	return f.results
}

type scriptedModel struct {
	mu          sync.Mutex
	judged      []string
	synthInputs []string
	synthErr    error
}

func (m *scriptedModel) Judge(ctx context.Context, req llm.Request) (core.Judgment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.judged = append(m.judged, req.Title)
	if req.Structured {
		return core.Judgment{Summary: "summary of " + req.Title, Include: core.BoolPtr(true)}, nil
	}
	return core.Judgment{Summary: "summary of " + req.Title}, nil
}

func (m *scriptedModel) Synthesize(ctx context.Context, instructions, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synthInputs = append(m.synthInputs, text)
	if m.synthErr != nil {
		return "", m.synthErr
	}
	return "Today in AI: " + text, nil
}

func itemResult(source string, items ...core.Item) sources.FetchResult {
	return sources.FetchResult{Source: source, Kind: core.KindItem, Batch: sources.Batch{Items: items}}
}

func newTestPipeline(db persistence.Database, fetcher SourceFetcher, model *scriptedModel, withDigest bool) *Pipeline {
	annotator := annotate.NewAnnotator(db, model, annotate.Options{})
	var gen DigestGenerator
	if withDigest {
		gen = digest.NewGenerator(db, model, time.UTC)
	}
	return NewPipeline(db, fetcher, annotator, gen)
}

func TestRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	model := &scriptedModel{}

	fetcher := &stubFetcher{results: []sources.FetchResult{
		itemResult(core.SourceLessWrong,
			core.Item{Source: core.SourceLessWrong, Link: "https://example.com/a", Title: "A", RawContent: core.StringPtr("body of A")},
			core.Item{Source: core.SourceLessWrong, Link: "https://example.com/b", Title: "Draft without body"},
		),
	}}

	p := newTestPipeline(db, fetcher, model, true)
	m, err := p.Run(ctx)
	require.NoError(t, err)

	require.Len(t, m.Sources, 1)
	assert.Equal(t, 2, m.Sources[0].Fetched)
	assert.Equal(t, 2, m.Sources[0].Stored)
	assert.Empty(t, m.Sources[0].Error)

	require.Len(t, m.Annotation, 1)
	assert.Equal(t, 1, m.Annotation[0].Selected)
	assert.Equal(t, 1, m.Annotation[0].Judged)
	assert.Equal(t, []string{"A"}, model.judged)

	b, err := db.Items().GetByLink(ctx, "https://example.com/b")
	require.NoError(t, err)
	assert.False(t, b.Judged())

	assert.Equal(t, digest.StatusGenerated, m.Digest.Status)
	assert.Equal(t, 1, m.Digest.Items)
	require.Len(t, model.synthInputs, 1)
	assert.Contains(t, model.synthInputs[0], "summary of A")
	assert.NotContains(t, model.synthInputs[0], "Draft without body")
	assert.False(t, m.Failed())
	assert.NotEmpty(t, m.RunID)

	// A second run re-fetches the same links: nothing new is stored or judged
	// and the day's digest is left alone.
	m2, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, m2.Sources[0].Stored)
	assert.Equal(t, 0, m2.Annotation[0].Selected)
	assert.Equal(t, digest.StatusExists, m2.Digest.Status)
	assert.Len(t, model.judged, 1)
	assert.Len(t, model.synthInputs, 1)
}

func TestRunIsolatesFailingSource(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	model := &scriptedModel{}

	fetcher := &stubFetcher{results: []sources.FetchResult{
		{Source: core.SourceHFPapers, Kind: core.KindItem, Err: errors.New("upstream returned 503")},
		itemResult(core.SourceLessWrong,
			core.Item{Source: core.SourceLessWrong, Link: "https://example.com/c", Title: "C", RawContent: core.StringPtr("body")},
		),
		{
			Source: core.SourceHuggingFace,
			Kind:   core.KindRanking,
			Batch: sources.Batch{Rankings: []core.Ranking{
				{Source: core.SourceHuggingFace, ModelName: "org/model", Downloads: 10, Description: core.StringPtr("card"), FetchedDate: "2024-01-01"},
			}},
		},
	}}

	m, err := newTestPipeline(db, fetcher, model, true).Run(ctx)
	require.NoError(t, err)

	require.Len(t, m.Sources, 3)
	assert.Contains(t, m.Sources[0].Error, "503")
	assert.Equal(t, 0, m.Sources[0].Stored)
	assert.Equal(t, 1, m.Sources[1].Stored)
	assert.Equal(t, 1, m.Sources[2].Stored)
	assert.True(t, m.Failed())

	require.Len(t, m.Annotation, 3)
	assert.Equal(t, core.KindRanking, m.Annotation[2].Kind)
	assert.Equal(t, 1, m.Annotation[2].Judged)

	rankings, err := db.Rankings().List(ctx, core.SourceHuggingFace, persistence.RankingFilter{Summarized: true})
	require.NoError(t, err)
	require.Len(t, rankings, 1)
	assert.Equal(t, "summary of org/model", core.Deref(rankings[0].Summary))

	assert.Equal(t, digest.StatusGenerated, m.Digest.Status)
	assert.Equal(t, 1, m.Digest.Rankings)
}

func TestRunDigestFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	db := persistence.NewMemoryDB()
	model := &scriptedModel{synthErr: errors.New("quota exceeded")}

	fetcher := &stubFetcher{results: []sources.FetchResult{
		itemResult(core.SourceLessWrong,
			core.Item{Source: core.SourceLessWrong, Link: "https://example.com/d", Title: "D", RawContent: core.StringPtr("body")},
		),
	}}

	m, err := newTestPipeline(db, fetcher, model, true).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, digest.StatusFailed, m.Digest.Status)
	assert.Contains(t, m.Digest.Error, "quota exceeded")
	assert.Equal(t, 1, m.Annotation[0].Judged)
	assert.True(t, m.Failed())
}

func TestRunDigestDisabled(t *testing.T) {
	db := persistence.NewMemoryDB()
	model := &scriptedModel{}

	m, err := newTestPipeline(db, &stubFetcher{}, model, false).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, digest.StatusDisabled, m.Digest.Status)
	assert.Empty(t, model.synthInputs)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	db := persistence.NewMemoryDB()
	fetcher := &stubFetcher{block: make(chan struct{}), entered: make(chan struct{})}
	p := newTestPipeline(db, fetcher, &scriptedModel{}, false)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		done <- err
	}()
	<-fetcher.entered

	_, err := p.Run(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(fetcher.block)
	require.NoError(t, <-done)

	fetcher.entered = nil
	_, err = p.Run(context.Background())
	assert.NoError(t, err)
}

func TestBuilder(t *testing.T) {
	cfg := &config.Config{}
	cfg.Digest.Enabled = true

	_, err := NewBuilder(cfg).Build()
	assert.Error(t, err)

	_, err = NewBuilder(cfg).WithDatabase(persistence.NewMemoryDB()).Build()
	assert.Error(t, err)

	p, err := NewBuilder(cfg).
		WithDatabase(persistence.NewMemoryDB()).
		WithModel(&scriptedModel{}).
		WithFetcher(&stubFetcher{}).
		Build()
	require.NoError(t, err)

	m, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, digest.StatusEmpty, m.Digest.Status)
}
