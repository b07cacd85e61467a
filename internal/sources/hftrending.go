package sources

import (
	"bulletin/internal/core"
	"bulletin/internal/logger"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// readmeMaxChars bounds the description stored for a model.
const readmeMaxChars = 8000

type trendingResponse struct {
	RecentlyTrending []struct {
		RepoData struct {
			ID        string `json:"id"`
			Downloads int64  `json:"downloads"`
		} `json:"repoData"`
		RepoType string `json:"repoType"`
	} `json:"recentlyTrending"`
}

// HFTrendingAdapter lists trending Hugging Face models as rankings and fetches
// each model's README as its description.
type HFTrendingAdapter struct {
	baseURL     string
	client      JSONGetter
	concurrency int
	clock       clock
	log         *slog.Logger
}

// NewHFTrendingAdapter creates the trending models adapter. concurrency bounds
// parallel README fetches; loc is the zone ranking dates are computed in.
func NewHFTrendingAdapter(baseURL string, client JSONGetter, concurrency int, loc *time.Location) *HFTrendingAdapter {
	if concurrency < 1 {
		concurrency = 1
	}
	return &HFTrendingAdapter{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      client,
		concurrency: concurrency,
		clock:       clock{loc: loc},
		log:         logger.Get(),
	}
}

func (a *HFTrendingAdapter) Name() string    { return core.SourceHuggingFace }
func (a *HFTrendingAdapter) Kind() core.Kind { return core.KindRanking }

// Fetch returns trending models sorted by descending downloads.
func (a *HFTrendingAdapter) Fetch(ctx context.Context, limit int) (Batch, error) {
	q := url.Values{}
	q.Set("type", "model")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp trendingResponse
	if err := a.client.GetJSON(ctx, a.baseURL+"/api/trending?"+q.Encode(), nil, &resp); err != nil {
		return Batch{}, fmt.Errorf("%s: %w", a.Name(), err)
	}

	today := a.clock.today()
	var rankings []core.Ranking
	dropped := 0
	for _, entry := range resp.RecentlyTrending {
		id := strings.TrimSpace(entry.RepoData.ID)
		if id == "" || (entry.RepoType != "" && entry.RepoType != "model") {
			dropped++
			continue
		}
		link := a.baseURL + "/" + id
		if !validURL(link) {
			dropped++
			continue
		}
		rankings = append(rankings, core.Ranking{
			Source:      a.Name(),
			ModelName:   id,
			Link:        core.StringPtr(link),
			Downloads:   entry.RepoData.Downloads,
			FetchedDate: today,
		})
	}
	if dropped > 0 {
		a.log.Warn("Dropped malformed trending entries", "source", a.Name(), "dropped", dropped)
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].Downloads > rankings[j].Downloads
	})
	if limit > 0 && len(rankings) > limit {
		rankings = rankings[:limit]
	}

	a.attachReadmes(ctx, rankings)
	return Batch{Rankings: rankings}, nil
}

// attachReadmes fills each ranking's description in place. Failures leave the
// description empty.
func (a *HFTrendingAdapter) attachReadmes(ctx context.Context, rankings []core.Ranking) {
	readmes := make([]string, len(rankings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i := range rankings {
		model := rankings[i].ModelName
		g.Go(func() error {
			body, err := a.client.Get(gctx, a.baseURL+"/"+model+"/raw/main/README.md", nil)
			if err != nil {
				a.log.Debug("README fetch failed", "model", model, "error", err)
				return nil
			}
			readmes[i] = truncateRunes(stripFrontMatter(string(body)), readmeMaxChars)
			return nil
		})
	}
	_ = g.Wait()

	for i := range rankings {
		rankings[i].Description = core.StringPtr(strings.TrimSpace(readmes[i]))
	}
}

// stripFrontMatter removes a leading YAML metadata block from a model card.
func stripFrontMatter(s string) string {
	trimmed := strings.TrimLeft(s, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return s
	}
	rest := trimmed[3:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return s
	}
	rest = rest[end+len("\n---"):]
	return strings.TrimLeft(rest, "-\r\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
