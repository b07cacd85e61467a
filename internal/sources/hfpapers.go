package sources

import (
	"bulletin/internal/core"
	"bulletin/internal/fetch"
	"bulletin/internal/logger"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// JSONGetter is the subset of fetch.Client used by the API adapters.
type JSONGetter interface {
	GetJSON(ctx context.Context, url string, headers map[string]string, v any) error
	Get(ctx context.Context, url string, headers map[string]string) ([]byte, error)
}

type dailyPaper struct {
	Paper struct {
		ID          string     `json:"id"`
		Title       string     `json:"title"`
		Summary     string     `json:"summary"`
		PublishedAt *time.Time `json:"publishedAt"`
		Authors     []struct {
			Name string `json:"name"`
		} `json:"authors"`
	} `json:"paper"`
	Title string `json:"title"`
}

// HFPapersAdapter lists the Hugging Face daily papers as articles.
type HFPapersAdapter struct {
	baseURL string
	client  JSONGetter
	log     *slog.Logger
}

// NewHFPapersAdapter creates the daily papers adapter.
func NewHFPapersAdapter(baseURL string, client JSONGetter) *HFPapersAdapter {
	return &HFPapersAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     logger.Get(),
	}
}

func (a *HFPapersAdapter) Name() string    { return core.SourceHFPapers }
func (a *HFPapersAdapter) Kind() core.Kind { return core.KindItem }

// Fetch returns papers in the order the API lists them.
func (a *HFPapersAdapter) Fetch(ctx context.Context, limit int) (Batch, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := a.baseURL + "/api/daily_papers"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var papers []dailyPaper
	if err := a.client.GetJSON(ctx, endpoint, nil, &papers); err != nil {
		return Batch{}, fmt.Errorf("%s: %w", a.Name(), err)
	}

	var items []core.Item
	dropped := 0
	for _, p := range papers {
		id := strings.TrimSpace(p.Paper.ID)
		title := strings.TrimSpace(p.Paper.Title)
		if title == "" {
			title = strings.TrimSpace(p.Title)
		}
		if id == "" || title == "" {
			dropped++
			continue
		}

		var authors []string
		for _, au := range p.Paper.Authors {
			if name := strings.TrimSpace(au.Name); name != "" {
				authors = append(authors, name)
			}
		}

		item := core.Item{
			Source:     a.Name(),
			Link:       a.baseURL + "/papers/" + url.PathEscape(id),
			Title:      title,
			Author:     core.StringPtr(strings.Join(authors, ", ")),
			RawContent: core.StringPtr(fetch.HTMLToText(p.Paper.Summary)),
		}
		if p.Paper.PublishedAt != nil {
			t := p.Paper.PublishedAt.UTC()
			item.PublishedAt = &t
		}
		items = append(items, item)
		if limit > 0 && len(items) == limit {
			break
		}
	}

	if dropped > 0 {
		a.log.Warn("Dropped malformed papers", "source", a.Name(), "dropped", dropped)
	}
	return Batch{Items: items}, nil
}
