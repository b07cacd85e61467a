package sources

import (
	"bulletin/internal/core"
	"bulletin/internal/feeds"
	"bulletin/internal/fetch"
	"bulletin/internal/logger"
	"context"
	"fmt"
	"log/slog"
)

// FeedFetcher is the subset of feeds.FeedManager used by FeedAdapter.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, feedURL string) (*feeds.ParsedFeed, error)
}

// FeedAdapter turns an RSS/Atom feed into articles.
type FeedAdapter struct {
	name    string
	feedURL string
	feeds   FeedFetcher
	log     *slog.Logger
}

// NewFeedAdapter creates an article adapter for feedURL tagged with name.
func NewFeedAdapter(name, feedURL string, fetcher FeedFetcher) *FeedAdapter {
	return &FeedAdapter{
		name:    name,
		feedURL: feedURL,
		feeds:   fetcher,
		log:     logger.Get(),
	}
}

// NewLessWrongAdapter creates the LessWrong frontpage adapter.
func NewLessWrongAdapter(feedURL string, fetcher FeedFetcher) *FeedAdapter {
	return NewFeedAdapter(core.SourceLessWrong, feedURL, fetcher)
}

func (a *FeedAdapter) Name() string    { return a.name }
func (a *FeedAdapter) Kind() core.Kind { return core.KindItem }

// Fetch returns feed entries in document order.
func (a *FeedAdapter) Fetch(ctx context.Context, limit int) (Batch, error) {
	parsed, err := a.feeds.FetchFeed(ctx, a.feedURL)
	if err != nil {
		return Batch{}, fmt.Errorf("%s: %w", a.name, err)
	}

	var items []core.Item
	dropped := 0
	for _, entry := range parsed.Items {
		if entry.Link == "" || !validURL(entry.Link) || entry.Title == "" {
			dropped++
			continue
		}
		items = append(items, core.Item{
			Source:      a.name,
			Link:        entry.Link,
			Title:       entry.Title,
			Author:      core.StringPtr(entry.Author),
			RawContent:  core.StringPtr(fetch.HTMLToText(entry.Content)),
			PublishedAt: entry.Published,
		})
		if limit > 0 && len(items) == limit {
			break
		}
	}

	if dropped > 0 {
		a.log.Warn("Dropped malformed feed entries", "source", a.name, "dropped", dropped)
	}
	return Batch{Items: items}, nil
}
