// Package persistence provides the dedup store for items, rankings and daily digests
package persistence

import (
	"bulletin/internal/core"
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup by identity matches no row.
var ErrNotFound = errors.New("not found")

// ItemRepository stores articles keyed by canonical link.
type ItemRepository interface {
	// InsertIfAbsent inserts items whose link is not yet stored. Existing rows
	// are left untouched. Returns the number of rows actually inserted.
	InsertIfAbsent(ctx context.Context, items []core.Item) (int, error)

	// UpdateJudgment sets summary and should_include on an unjudged item.
	// Returns false if the link is unknown or already judged.
	UpdateJudgment(ctx context.Context, link string, judgment core.Judgment) (bool, error)

	// GetByLink retrieves one item.
	GetByLink(ctx context.Context, link string) (*core.Item, error)

	// List returns items for source ("" for all sources) in insertion order
	// unless the filter asks for newest first.
	List(ctx context.Context, source string, filter ItemFilter) ([]core.Item, error)
}

// RankingRepository stores per-day model popularity snapshots.
type RankingRepository interface {
	// Upsert inserts rankings, overwriting only downloads on identity collision.
	Upsert(ctx context.Context, rankings []core.Ranking) error

	// UpdateSummary sets the summary of an unsummarized ranking.
	// Returns false if the id is unknown or already summarized.
	UpdateSummary(ctx context.Context, id int64, summary string) (bool, error)

	// List returns rankings for source ("" for all sources) in insertion order
	// unless the filter asks for newest first.
	List(ctx context.Context, source string, filter RankingFilter) ([]core.Ranking, error)
}

// DigestRepository stores one digest per calendar date.
type DigestRepository interface {
	// GetByDate returns ErrNotFound when no digest exists for date.
	GetByDate(ctx context.Context, date core.Date) (*core.DailyDigest, error)

	// CreateIfAbsent inserts the digest unless its date already exists.
	CreateIfAbsent(ctx context.Context, digest core.DailyDigest) (bool, error)

	// Latest returns the most recent digests, newest first.
	Latest(ctx context.Context, limit int) ([]core.DailyDigest, error)
}

// ItemFilter narrows List results. Zero value matches everything.
type ItemFilter struct {
	Unjudged     bool      // summary and should_include are both NULL
	HasContent   bool      // raw_content is non-empty
	Included     bool      // should_include is true and summary is set
	FetchedSince time.Time // fetched_at >= FetchedSince when non-zero
	Newest       bool      // newest first instead of insertion order
	Limit        int       // 0 for no limit
}

// RankingFilter narrows List results. Zero value matches everything.
type RankingFilter struct {
	Unsummarized   bool      // summary is NULL
	HasDescription bool      // description is non-empty
	Summarized     bool      // summary is set
	Date           core.Date // exact fetched_date when non-empty
	Since          core.Date // fetched_date >= Since when non-empty
	Newest         bool      // newest first instead of insertion order
	Limit          int
}

// Database aggregates the repositories behind one connection.
type Database interface {
	Items() ItemRepository
	Rankings() RankingRepository
	Digests() DigestRepository

	// Ping verifies the database connection
	Ping(ctx context.Context) error

	// Close closes the database connection
	Close() error
}

// Open constructs a Database for the configured driver.
func Open(driver, dsn string, maxOpenConns int) (Database, error) {
	if driver == "memory" {
		return NewMemoryDB(), nil
	}
	db, err := NewSQLDB(driver, dsn, maxOpenConns)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func matchesItem(it core.Item, source string, f ItemFilter) bool {
	if source != "" && it.Source != source {
		return false
	}
	if f.Unjudged && it.Judged() {
		return false
	}
	if f.HasContent && !it.HasContent() {
		return false
	}
	if f.Included && !it.Included() {
		return false
	}
	if !f.FetchedSince.IsZero() && it.FetchedAt.Before(f.FetchedSince) {
		return false
	}
	return true
}

func matchesRanking(r core.Ranking, source string, f RankingFilter) bool {
	if source != "" && r.Source != source {
		return false
	}
	if f.Unsummarized && r.Summary != nil {
		return false
	}
	if f.HasDescription && !r.HasDescription() {
		return false
	}
	if f.Summarized && r.Summary == nil {
		return false
	}
	if f.Date != "" && r.FetchedDate != f.Date {
		return false
	}
	if f.Since != "" && r.FetchedDate < f.Since {
		return false
	}
	return true
}

// dedupeItems keeps the first occurrence of each link.
func dedupeItems(items []core.Item) []core.Item {
	seen := make(map[string]bool, len(items))
	out := make([]core.Item, 0, len(items))
	for _, it := range items {
		if it.Link == "" || seen[it.Link] {
			continue
		}
		seen[it.Link] = true
		out = append(out, it)
	}
	return out
}

type rankingKey struct {
	source, model string
	date          core.Date
}

// dedupeRankings keeps the last occurrence of each identity, in first-seen order.
func dedupeRankings(rankings []core.Ranking) []core.Ranking {
	index := make(map[rankingKey]int, len(rankings))
	out := make([]core.Ranking, 0, len(rankings))
	for _, r := range rankings {
		if r.ModelName == "" || r.FetchedDate == "" {
			continue
		}
		k := rankingKey{r.Source, r.ModelName, r.FetchedDate}
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
