package sources

import (
	"bulletin/internal/core"
	"bulletin/internal/feeds"
	"bulletin/internal/fetch"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter returns a canned batch or error.
type fakeAdapter struct {
	name   string
	kind   core.Kind
	batch  Batch
	err    error
	delay  time.Duration
	panics bool
	limits []int
}

func (f *fakeAdapter) Name() string    { return f.name }
func (f *fakeAdapter) Kind() core.Kind { return f.kind }

func (f *fakeAdapter) Fetch(ctx context.Context, limit int) (Batch, error) {
	f.limits = append(f.limits, limit)
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		}
	}
	return f.batch, f.err
}

func TestFetchAllIsolatesFailures(t *testing.T) {
	ok := &fakeAdapter{
		name:  "ok",
		kind:  core.KindItem,
		delay: 20 * time.Millisecond,
		batch: Batch{Items: []core.Item{{Source: "ok", Link: "https://x", Title: "x"}}},
	}
	failing := &fakeAdapter{name: "failing", kind: core.KindRanking, err: errors.New("upstream 500")}
	panicking := &fakeAdapter{name: "panicking", kind: core.KindItem, panics: true}

	reg := NewRegistry()
	reg.Register(ok, 5)
	reg.Register(failing, 0)
	reg.Register(panicking, 0)

	results := reg.FetchAll(context.Background())
	require.Len(t, results, 3)

	assert.Equal(t, "ok", results[0].Source)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, 1, results[0].Batch.Len())
	assert.Equal(t, []int{5}, ok.limits)

	assert.Equal(t, "failing", results[1].Source)
	assert.EqualError(t, results[1].Err, "upstream 500")
	assert.Equal(t, core.KindRanking, results[1].Kind)

	assert.Equal(t, "panicking", results[2].Source)
	assert.Error(t, results[2].Err)

	assert.Equal(t, []string{"ok", "panicking"}, reg.Sources(core.KindItem))
	assert.Equal(t, []string{"failing"}, reg.Sources(core.KindRanking))
}

const lessWrongFeed = `<?xml version="1.0"?>
<rss version="2.0" xmlns:dc="http://purl.org/dc/elements/1.1/"><channel><title>LW</title>
<item><title>Post one</title><link>https://www.lesswrong.com/posts/1</link><dc:creator>A</dc:creator>
<description><![CDATA[<p>Body <em>one</em></p>]]></description><pubDate>Mon, 01 Jan 2024 10:00:00 +0000</pubDate></item>
<item><title>No link</title><description>skip</description></item>
<item><title>Bad link</title><link>javascript:alert(1)</link></item>
<item><title>Post two</title><link>https://www.lesswrong.com/posts/2</link><description>two</description></item>
<item><title>Post three</title><link>https://www.lesswrong.com/posts/3</link><description>three</description></item>
</channel></rss>`

func TestLessWrongAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(lessWrongFeed))
	}))
	defer srv.Close()

	a := NewLessWrongAdapter(srv.URL, feeds.NewFeedManager(srv.Client(), ""))
	batch, err := a.Fetch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch.Items, 2)

	first := batch.Items[0]
	assert.Equal(t, core.SourceLessWrong, first.Source)
	assert.Equal(t, "https://www.lesswrong.com/posts/1", first.Link)
	assert.Equal(t, "A", core.Deref(first.Author))
	assert.Equal(t, "Body one", core.Deref(first.RawContent))
	require.NotNil(t, first.PublishedAt)
	assert.Equal(t, "https://www.lesswrong.com/posts/2", batch.Items[1].Link)
}

func TestHFPapersAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/daily_papers", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			{"paper":{"id":"2401.00001","title":"Scaling","summary":"We scale.","publishedAt":"2024-01-01T00:00:00.000Z","authors":[{"name":"X"},{"name":"Y"}]}},
			{"paper":{"id":"","title":"Missing id"}},
			{"paper":{"id":"2401.00002","summary":"Untitled inner"},"title":"Outer title"}
		]`))
	}))
	defer srv.Close()

	a := NewHFPapersAdapter(srv.URL, fetch.NewClient(time.Second, ""))
	batch, err := a.Fetch(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, batch.Items, 2)

	assert.Equal(t, srv.URL+"/papers/2401.00001", batch.Items[0].Link)
	assert.Equal(t, "X, Y", core.Deref(batch.Items[0].Author))
	assert.Equal(t, "We scale.", core.Deref(batch.Items[0].RawContent))
	assert.Equal(t, core.SourceHFPapers, batch.Items[0].Source)
	assert.Equal(t, "Outer title", batch.Items[1].Title)
}

func TestHFTrendingAdapterOrdersAndFetchesReadmes(t *testing.T) {
	var inflight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/trending":
			assert.Equal(t, "model", r.URL.Query().Get("type"))
			_, _ = w.Write([]byte(`{"recentlyTrending":[
				{"repoData":{"id":"org/small","downloads":10},"repoType":"model"},
				{"repoData":{"id":"org/big","downloads":1000},"repoType":"model"},
				{"repoData":{"id":"","downloads":5},"repoType":"model"},
				{"repoData":{"id":"org/broken","downloads":500},"repoType":"model"},
				{"repoData":{"id":"org/space","downloads":9000},"repoType":"space"}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/raw/main/README.md"):
			n := inflight.Add(1)
			defer inflight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			if strings.Contains(r.URL.Path, "broken") {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			model := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), "/raw/main/README.md")
			fmt.Fprintf(w, "---\nlicense: mit\n---\n# %s\nreadme body", model)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	day := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	a := NewHFTrendingAdapter(srv.URL, fetch.NewClient(time.Second, ""), 2, time.UTC)
	a.clock.now = func() time.Time { return day }

	batch, err := a.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, batch.Rankings, 3)

	var names []string
	for _, r := range batch.Rankings {
		names = append(names, r.ModelName)
		assert.Equal(t, core.Date("2024-03-01"), r.FetchedDate)
		assert.Equal(t, core.SourceHuggingFace, r.Source)
	}
	assert.Equal(t, []string{"org/big", "org/broken", "org/small"}, names)

	assert.Equal(t, "# org/big\nreadme body", core.Deref(batch.Rankings[0].Description))
	assert.Nil(t, batch.Rankings[1].Description, "failed README leaves description empty")
	assert.Equal(t, "# org/small\nreadme body", core.Deref(batch.Rankings[2].Description))
	assert.Equal(t, srv.URL+"/org/big", core.Deref(batch.Rankings[0].Link))
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestHFTrendingAdapterUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHFTrendingAdapter(srv.URL, fetch.NewClient(time.Second, ""), 4, nil)
	_, err := a.Fetch(context.Background(), 5)
	var statusErr *fetch.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestCivitaiAdapter(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		q := r.URL.Query()
		assert.Equal(t, "/api/v1/models", r.URL.Path)
		assert.Equal(t, "Most Downloaded", q.Get("sort"))
		assert.Equal(t, "Week", q.Get("period"))
		assert.Equal(t, "Checkpoint", q.Get("types"))
		_, _ = w.Write([]byte(`{"items":[
			{"id":1,"name":"Low","description":"<p>low model</p>","stats":{"downloadCount":5}},
			{"id":2,"name":"High","description":"<p>high <b>model</b></p>","stats":{"downloadCount":50}},
			{"id":3,"name":"  ","stats":{"downloadCount":500}}
		]}`))
	}))
	defer srv.Close()

	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	a := NewCivitaiAdapter(CivitaiOptions{BaseURL: srv.URL, APIKey: "secret", Period: "Week", Types: "Checkpoint"}, fetch.NewClient(time.Second, ""), loc)
	a.clock.now = func() time.Time { return time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC) }

	batch, err := a.Fetch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch.Rankings, 2)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "High", batch.Rankings[0].ModelName)
	assert.Equal(t, int64(50), batch.Rankings[0].Downloads)
	assert.Equal(t, "high model", core.Deref(batch.Rankings[0].Description))
	assert.Equal(t, srv.URL+"/models/2", core.Deref(batch.Rankings[0].Link))
	assert.Equal(t, core.Date("2024-03-01"), batch.Rankings[0].FetchedDate, "date follows the configured zone")
}

func TestStripFrontMatter(t *testing.T) {
	assert.Equal(t, "# Title", stripFrontMatter("---\ntags: [a]\n---\n# Title"))
	assert.Equal(t, "no front matter", stripFrontMatter("no front matter"))
	assert.Equal(t, "---\nunterminated", stripFrontMatter("---\nunterminated"))
}
