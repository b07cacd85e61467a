// Package digest synthesizes the once-per-day bulletin from judged records.
package digest

import (
	"bulletin/internal/core"
	"bulletin/internal/logger"
	"bulletin/internal/metrics"
	"bulletin/internal/persistence"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Status is the outcome of one Generate call.
type Status string

const (
	StatusGenerated Status = "generated"
	StatusExists    Status = "exists"
	StatusEmpty     Status = "empty"
	StatusFailed    Status = "failed"
	StatusDisabled  Status = "disabled"
)

// Instructions is the synthesis prompt for the daily digest.
const Instructions = `You write a short daily AI bulletin. Below are recently selected articles and
the most popular models, grouped by source, each with a one-line summary.
Write a cohesive digest of 3 to 6 short paragraphs in plain prose: lead with the
most significant research or arguments, then cover notable model activity.
Mention titles or model names where helpful. Do not invent facts that are not
in the input and do not add a title or sign-off.`

// Synthesizer turns the aggregated digest input into narrative text.
type Synthesizer interface {
	Synthesize(ctx context.Context, instructions, text string) (string, error)
}

// Result reports what Generate did for one date.
type Result struct {
	Date     core.Date `json:"date"`
	Status   Status    `json:"status"`
	Items    int       `json:"items"`
	Rankings int       `json:"rankings"`
	Error    string    `json:"error,omitempty"`
}

// Generator produces at most one digest per calendar date.
type Generator struct {
	db     persistence.Database
	synth  Synthesizer
	loc    *time.Location
	window time.Duration // 0 reads every stored record
	now    func() time.Time
	log    *slog.Logger
}

// NewGenerator creates a generator computing dates in loc (UTC when nil).
func NewGenerator(db persistence.Database, synth Synthesizer, loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		db:    db,
		synth: synth,
		loc:   loc,
		now:   time.Now,
		log:   logger.Get(),
	}
}

// WithWindow limits the digest to items fetched and rankings dated within
// window of now. Zero or negative reads every stored record.
func (g *Generator) WithWindow(window time.Duration) *Generator {
	g.window = max(window, 0)
	return g
}

// Today returns the current date in the generator's zone.
func (g *Generator) Today() core.Date {
	return core.DateOf(g.now(), g.loc)
}

// Generate builds today's digest unless one already exists.
func (g *Generator) Generate(ctx context.Context) (Result, error) {
	return g.GenerateFor(ctx, g.Today())
}

// GenerateFor builds the digest for date. An existing digest short-circuits
// before any record is read. A synthesis failure leaves the date absent so the
// next run retries.
func (g *Generator) GenerateFor(ctx context.Context, date core.Date) (Result, error) {
	res, err := g.generate(ctx, date)
	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
	}
	metrics.RecordDigest(string(res.Status))
	return res, err
}

func (g *Generator) generate(ctx context.Context, date core.Date) (Result, error) {
	res := Result{Date: date}

	_, err := g.db.Digests().GetByDate(ctx, date)
	switch {
	case err == nil:
		res.Status = StatusExists
		g.log.Info("Digest already exists", "date", date)
		return res, nil
	case !errors.Is(err, persistence.ErrNotFound):
		return res, fmt.Errorf("check digest for %s: %w", date, err)
	}

	itemFilter := persistence.ItemFilter{Included: true}
	rankingFilter := persistence.RankingFilter{Summarized: true}
	if g.window > 0 {
		since := g.now().Add(-g.window)
		itemFilter.FetchedSince = since
		rankingFilter.Since = core.DateOf(since, g.loc)
	}

	items, err := g.db.Items().List(ctx, "", itemFilter)
	if err != nil {
		return res, fmt.Errorf("load included items: %w", err)
	}
	rankings, err := g.db.Rankings().List(ctx, "", rankingFilter)
	if err != nil {
		return res, fmt.Errorf("load summarized rankings: %w", err)
	}
	rankings = latestPerModel(rankings)
	res.Items = len(items)
	res.Rankings = len(rankings)

	if len(items) == 0 && len(rankings) == 0 {
		res.Status = StatusEmpty
		g.log.Info("Nothing to digest", "date", date)
		return res, nil
	}

	text, err := g.synth.Synthesize(ctx, Instructions, Compose(items, rankings))
	if err != nil {
		return res, fmt.Errorf("synthesize digest for %s: %w", date, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return res, fmt.Errorf("synthesize digest for %s: empty output", date)
	}

	created, err := g.db.Digests().CreateIfAbsent(ctx, core.DailyDigest{
		Date:        date,
		Summary:     text,
		GeneratedAt: g.now().UTC(),
	})
	if err != nil {
		return res, fmt.Errorf("store digest for %s: %w", date, err)
	}
	if !created {
		res.Status = StatusExists
		g.log.Info("Digest written concurrently, keeping existing", "date", date)
		return res, nil
	}

	res.Status = StatusGenerated
	g.log.Info("Generated digest", "date", date, "items", res.Items, "rankings", res.Rankings)
	return res, nil
}

// latestPerModel keeps the most recent snapshot of each (source, model).
// Input is in insertion order, so later rows win.
func latestPerModel(rankings []core.Ranking) []core.Ranking {
	type key struct{ source, model string }
	index := make(map[key]int, len(rankings))
	var out []core.Ranking
	for _, r := range rankings {
		k := key{r.Source, r.ModelName}
		if i, ok := index[k]; ok {
			if r.FetchedDate >= out[i].FetchedDate {
				out[i] = r
			}
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}
