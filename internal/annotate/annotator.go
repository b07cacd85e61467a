// Package annotate selects unjudged records and attaches LLM judgments to them.
package annotate

import (
	"bulletin/internal/core"
	"bulletin/internal/llm"
	"bulletin/internal/logger"
	"bulletin/internal/metrics"
	"bulletin/internal/persistence"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Judge produces a judgment for one record.
type Judge interface {
	Judge(ctx context.Context, req llm.Request) (core.Judgment, error)
}

// Options tunes annotation throughput. Neither knob affects correctness.
type Options struct {
	// BatchSize caps records judged per source per run (0 = unlimited).
	BatchSize int
	// RequestsPerMinute paces judge calls (0 = unlimited).
	RequestsPerMinute int
	// Prompts overrides DefaultPrompts when non-nil.
	Prompts map[string]Prompt
}

// Report summarizes annotation of one source. Skipped counts records another
// writer judged first.
type Report struct {
	Source   string    `json:"source"`
	Kind     core.Kind `json:"kind"`
	Selected int       `json:"selected"`
	Judged   int       `json:"judged"`
	Failed   int       `json:"failed"`
	Skipped  int       `json:"skipped"`
	Error    string    `json:"error,omitempty"`
}

// Target names a source and the record family it produces.
type Target struct {
	Source string
	Kind   core.Kind
}

// Annotator judges selected records and writes results back.
type Annotator struct {
	db        persistence.Database
	selector  *Selector
	judge     Judge
	prompts   map[string]Prompt
	batchSize int
	limiter   *rate.Limiter
	log       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAnnotator creates an annotator writing to db.
func NewAnnotator(db persistence.Database, judge Judge, opts Options) *Annotator {
	prompts := opts.Prompts
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	var limiter *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Annotator{
		db:        db,
		selector:  NewSelector(db),
		judge:     judge,
		prompts:   prompts,
		batchSize: opts.BatchSize,
		limiter:   limiter,
		log:       logger.Get(),
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing annotation of source.
func (a *Annotator) lockFor(source string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[source]
	if !ok {
		l = &sync.Mutex{}
		a.locks[source] = l
	}
	return l
}

// AnnotateAll annotates every target concurrently, one goroutine per source.
// Reports follow target order.
func (a *Annotator) AnnotateAll(ctx context.Context, targets []Target) []Report {
	reports := make([]Report, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			var (
				r   Report
				err error
			)
			if t.Kind == core.KindRanking {
				r, err = a.AnnotateRankings(ctx, t.Source)
			} else {
				r, err = a.AnnotateItems(ctx, t.Source)
			}
			if err != nil {
				r.Error = err.Error()
			}
			reports[i] = r
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

// AnnotateItems judges unjudged items of source in queue order. Per-record
// failures leave the record unjudged and are counted, never returned.
func (a *Annotator) AnnotateItems(ctx context.Context, source string) (Report, error) {
	report := Report{Source: source, Kind: core.KindItem}

	lock := a.lockFor(source)
	lock.Lock()
	defer lock.Unlock()

	items, err := a.selector.SelectItems(ctx, source)
	if err != nil {
		return report, err
	}
	items = capBatch(items, a.batchSize)
	report.Selected = len(items)

	prompt := promptFor(a.prompts, source, core.KindItem)
	for _, it := range items {
		if err := a.wait(ctx); err != nil {
			return report, err
		}

		j, err := a.judge.Judge(ctx, llm.Request{
			Source:       source,
			Title:        it.Title,
			Content:      core.Deref(it.RawContent),
			Instructions: prompt.Instructions,
			Structured:   prompt.Structured,
		})
		if err == nil && prompt.Structured && j.Include == nil {
			err = fmt.Errorf("%w: missing include", llm.ErrMalformedJudgment)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failed++
			metrics.RecordJudgment(source, false)
			a.log.Warn("Judgment failed, will retry next run", "source", source, "link", it.Link, "error", err)
			continue
		}

		updated, err := a.db.Items().UpdateJudgment(ctx, it.Link, j)
		if err != nil {
			report.Failed++
			metrics.RecordJudgment(source, false)
			a.log.Error("Failed to store judgment", "source", source, "link", it.Link, "error", err)
			continue
		}
		if !updated {
			report.Skipped++
			a.log.Info("Item already judged, keeping first judgment", "source", source, "link", it.Link)
			continue
		}

		report.Judged++
		metrics.RecordJudgment(source, true)
		a.log.Info("Judged item", "source", source, "link", it.Link, "include", j.Include != nil && *j.Include)
	}

	return report, nil
}

// AnnotateRankings summarizes unsummarized rankings of source in queue order.
func (a *Annotator) AnnotateRankings(ctx context.Context, source string) (Report, error) {
	report := Report{Source: source, Kind: core.KindRanking}

	lock := a.lockFor(source)
	lock.Lock()
	defer lock.Unlock()

	rankings, err := a.selector.SelectRankings(ctx, source)
	if err != nil {
		return report, err
	}
	rankings = capBatch(rankings, a.batchSize)
	report.Selected = len(rankings)

	prompt := promptFor(a.prompts, source, core.KindRanking)
	for _, rk := range rankings {
		if err := a.wait(ctx); err != nil {
			return report, err
		}

		j, err := a.judge.Judge(ctx, llm.Request{
			Source:       source,
			Title:        rk.ModelName,
			Content:      core.Deref(rk.Description),
			Instructions: prompt.Instructions,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			report.Failed++
			metrics.RecordJudgment(source, false)
			a.log.Warn("Summary failed, will retry next run", "source", source, "model", rk.ModelName, "error", err)
			continue
		}

		updated, err := a.db.Rankings().UpdateSummary(ctx, rk.ID, j.Summary)
		if err != nil {
			report.Failed++
			metrics.RecordJudgment(source, false)
			a.log.Error("Failed to store summary", "source", source, "model", rk.ModelName, "error", err)
			continue
		}
		if !updated {
			report.Skipped++
			continue
		}

		report.Judged++
		metrics.RecordJudgment(source, true)
		a.log.Info("Summarized model", "source", source, "model", rk.ModelName, "date", rk.FetchedDate)
	}

	return report, nil
}

func (a *Annotator) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func capBatch[T any](records []T, n int) []T {
	if n > 0 && len(records) > n {
		return records[:n]
	}
	return records
}
