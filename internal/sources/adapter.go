// Package sources fetches items and rankings from external providers and
// normalizes them into core records.
package sources

import (
	"bulletin/internal/core"
	"bulletin/internal/logger"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

// Adapter fetches one provider and normalizes its payload.
type Adapter interface {
	Name() string
	Kind() core.Kind
	// Fetch returns at most limit records (0 = provider default) in a
	// deterministic order.
	Fetch(ctx context.Context, limit int) (Batch, error)
}

// Batch holds the normalized output of one adapter.
type Batch struct {
	Items    []core.Item
	Rankings []core.Ranking
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Items) + len(b.Rankings) }

// FetchResult is the outcome of one adapter within FetchAll.
type FetchResult struct {
	Source   string
	Kind     core.Kind
	Batch    Batch
	Err      error
	Duration time.Duration
}

type registration struct {
	adapter Adapter
	limit   int
}

// Registry runs a fixed set of adapters.
type Registry struct {
	entries []registration
	log     *slog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{log: logger.Get()}
}

// Register adds an adapter with its per-run record limit.
func (r *Registry) Register(a Adapter, limit int) {
	r.entries = append(r.entries, registration{adapter: a, limit: limit})
}

// Sources returns the registered source names for kind.
func (r *Registry) Sources(kind core.Kind) []string {
	var names []string
	for _, e := range r.entries {
		if e.adapter.Kind() == kind {
			names = append(names, e.adapter.Name())
		}
	}
	return names
}

// FetchAll runs every adapter concurrently. An adapter error is captured in
// its FetchResult and never cancels the others. Results follow registration
// order.
func (r *Registry) FetchAll(ctx context.Context) []FetchResult {
	results := make([]FetchResult, len(r.entries))

	var g errgroup.Group
	for i, e := range r.entries {
		g.Go(func() error {
			start := time.Now()
			batch, err := fetchSafely(ctx, e.adapter, e.limit)
			results[i] = FetchResult{
				Source:   e.adapter.Name(),
				Kind:     e.adapter.Kind(),
				Batch:    batch,
				Err:      err,
				Duration: time.Since(start),
			}
			if err != nil {
				r.log.Error("Source fetch failed", "source", e.adapter.Name(), "error", err)
				return nil
			}
			r.log.Info("Source fetched", "source", e.adapter.Name(), "records", batch.Len(), "duration", results[i].Duration)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// fetchSafely converts a panicking adapter into an error so siblings finish.
func fetchSafely(ctx context.Context, a Adapter, limit int) (batch Batch, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			batch = Batch{}
			err = fmt.Errorf("adapter %s panicked: %v", a.Name(), rec)
		}
	}()
	return a.Fetch(ctx, limit)
}

// validURL reports whether s is an absolute http(s) URL.
func validURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// clock supplies the current time and the zone ranking dates are computed in.
type clock struct {
	now func() time.Time
	loc *time.Location
}

func (c clock) today() core.Date {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	return core.DateOf(now(), c.loc)
}
