package sources

import (
	"bulletin/internal/core"
	"bulletin/internal/fetch"
	"bulletin/internal/logger"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

type civitaiResponse struct {
	Items []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Stats       struct {
			DownloadCount int64 `json:"downloadCount"`
		} `json:"stats"`
	} `json:"items"`
}

// CivitaiOptions configures the Civitai models query.
type CivitaiOptions struct {
	BaseURL string
	APIKey  string
	Period  string // Day, Week, Month, Year, AllTime
	Types   string // e.g. Checkpoint
}

// CivitaiAdapter lists the most downloaded Civitai models as rankings.
type CivitaiAdapter struct {
	opts   CivitaiOptions
	client JSONGetter
	clock  clock
	log    *slog.Logger
}

// NewCivitaiAdapter creates the Civitai adapter.
func NewCivitaiAdapter(opts CivitaiOptions, client JSONGetter, loc *time.Location) *CivitaiAdapter {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &CivitaiAdapter{
		opts:   opts,
		client: client,
		clock:  clock{loc: loc},
		log:    logger.Get(),
	}
}

func (a *CivitaiAdapter) Name() string    { return core.SourceCivitai }
func (a *CivitaiAdapter) Kind() core.Kind { return core.KindRanking }

// Fetch returns models sorted by descending download count.
func (a *CivitaiAdapter) Fetch(ctx context.Context, limit int) (Batch, error) {
	q := url.Values{}
	q.Set("sort", "Most Downloaded")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if a.opts.Period != "" {
		q.Set("period", a.opts.Period)
	}
	if a.opts.Types != "" {
		q.Set("types", a.opts.Types)
	}

	headers := map[string]string{}
	if a.opts.APIKey != "" {
		headers["Authorization"] = "Bearer " + a.opts.APIKey
	}

	var resp civitaiResponse
	if err := a.client.GetJSON(ctx, a.opts.BaseURL+"/api/v1/models?"+q.Encode(), headers, &resp); err != nil {
		return Batch{}, fmt.Errorf("%s: %w", a.Name(), err)
	}

	today := a.clock.today()
	var rankings []core.Ranking
	dropped := 0
	for _, m := range resp.Items {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			dropped++
			continue
		}
		r := core.Ranking{
			Source:      a.Name(),
			ModelName:   name,
			Downloads:   m.Stats.DownloadCount,
			Description: core.StringPtr(truncateRunes(fetch.HTMLToText(m.Description), readmeMaxChars)),
			FetchedDate: today,
		}
		if m.ID > 0 {
			r.Link = core.StringPtr(a.opts.BaseURL + "/models/" + strconv.FormatInt(m.ID, 10))
		}
		rankings = append(rankings, r)
	}
	if dropped > 0 {
		a.log.Warn("Dropped malformed models", "source", a.Name(), "dropped", dropped)
	}

	sort.SliceStable(rankings, func(i, j int) bool {
		return rankings[i].Downloads > rankings[j].Downloads
	})
	if limit > 0 && len(rankings) > limit {
		rankings = rankings[:limit]
	}
	return Batch{Rankings: rankings}, nil
}
