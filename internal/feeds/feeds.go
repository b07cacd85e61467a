// Package feeds fetches and normalizes RSS/Atom feeds.
package feeds

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// FeedItem is a single feed entry with the fields the pipeline cares about.
type FeedItem struct {
	GUID      string
	Title     string
	Link      string
	Author    string
	Content   string // full content when present, otherwise the description
	Published *time.Time
}

// ParsedFeed is a fetched feed and its entries in document order.
type ParsedFeed struct {
	Title string
	Link  string
	Items []FeedItem
}

// FeedManager manages RSS/Atom feed operations
type FeedManager struct {
	client    *http.Client
	userAgent string
}

// NewFeedManager creates a feed manager. A nil client gets a 30s timeout.
func NewFeedManager(client *http.Client, userAgent string) *FeedManager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &FeedManager{client: client, userAgent: userAgent}
}

// FetchFeed fetches and parses the feed at feedURL.
func (fm *FeedManager) FetchFeed(ctx context.Context, feedURL string) (*ParsedFeed, error) {
	fp := gofeed.NewParser()
	fp.Client = fm.client
	if fm.userAgent != "" {
		fp.UserAgent = fm.userAgent
	}

	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", feedURL, err)
	}
	return convert(feed), nil
}

// ParseString parses an in-memory feed document.
func ParseString(doc string) (*ParsedFeed, error) {
	feed, err := gofeed.NewParser().ParseString(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return convert(feed), nil
}

func convert(feed *gofeed.Feed) *ParsedFeed {
	parsed := &ParsedFeed{
		Title: feed.Title,
		Link:  feed.Link,
		Items: make([]FeedItem, 0, len(feed.Items)),
	}

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		fi := FeedItem{
			GUID:    item.GUID,
			Title:   strings.TrimSpace(item.Title),
			Link:    strings.TrimSpace(item.Link),
			Content: item.Content,
		}
		if fi.Content == "" {
			fi.Content = item.Description
		}
		if item.Author != nil {
			fi.Author = strings.TrimSpace(item.Author.Name)
		} else if len(item.Authors) > 0 && item.Authors[0] != nil {
			fi.Author = strings.TrimSpace(item.Authors[0].Name)
		}
		switch {
		case item.PublishedParsed != nil:
			t := item.PublishedParsed.UTC()
			fi.Published = &t
		case item.UpdatedParsed != nil:
			t := item.UpdatedParsed.UTC()
			fi.Published = &t
		}
		parsed.Items = append(parsed.Items, fi)
	}

	return parsed
}
