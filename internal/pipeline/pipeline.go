// Package pipeline sequences one refresh run: fetch every source, persist,
// annotate, then maybe generate the daily digest.
package pipeline

import (
	"bulletin/internal/annotate"
	"bulletin/internal/core"
	"bulletin/internal/digest"
	"bulletin/internal/logger"
	"bulletin/internal/metrics"
	"bulletin/internal/persistence"
	"bulletin/internal/sources"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// SourceReport describes the fetch and persist stages for one source.
type SourceReport struct {
	Name     string    `json:"name"`
	Kind     core.Kind `json:"kind"`
	Fetched  int       `json:"fetched"`
	Stored   int       `json:"stored"`
	Duration string    `json:"duration"`
	Error    string    `json:"error,omitempty"`
}

// Manifest is what a run did, returned to the trigger even when stages fail.
type Manifest struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Duration   string            `json:"duration"`
	Sources    []SourceReport    `json:"sources"`
	Annotation []annotate.Report `json:"annotation"`
	Digest     digest.Result     `json:"digest"`
}

// Failed reports whether any stage recorded an error.
func (m *Manifest) Failed() bool {
	for _, s := range m.Sources {
		if s.Error != "" {
			return true
		}
	}
	for _, a := range m.Annotation {
		if a.Error != "" || a.Failed > 0 {
			return true
		}
	}
	return m.Digest.Status == digest.StatusFailed
}

// Pipeline runs the refresh stages. At most one run is active at a time.
type Pipeline struct {
	db        persistence.Database
	fetcher   SourceFetcher
	annotator RecordAnnotator
	digest    DigestGenerator // nil disables digest generation
	running   atomic.Bool
	log       *slog.Logger
}

// NewPipeline creates a pipeline. A nil digest generator disables the digest stage.
func NewPipeline(db persistence.Database, fetcher SourceFetcher, annotator RecordAnnotator, gen DigestGenerator) *Pipeline {
	return &Pipeline{
		db:        db,
		fetcher:   fetcher,
		annotator: annotator,
		digest:    gen,
		log:       logger.Get(),
	}
}

// Run executes one refresh. Failures inside a stage are recorded in the
// manifest and never abort later stages; the only error is ErrRunInProgress.
func (p *Pipeline) Run(ctx context.Context) (*Manifest, error) {
	if !p.running.CompareAndSwap(false, true) {
		metrics.RecordRun("rejected", 0)
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	m := &Manifest{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := p.log.With("run_id", m.RunID)
	log.Info("Starting refresh run")

	results := p.fetcher.FetchAll(ctx)
	targets := make([]annotate.Target, 0, len(results))
	for _, res := range results {
		m.Sources = append(m.Sources, p.persist(ctx, log, res))
		targets = append(targets, annotate.Target{Source: res.Source, Kind: res.Kind})
	}

	m.Annotation = p.annotator.AnnotateAll(ctx, targets)

	if p.digest == nil {
		m.Digest = digest.Result{Status: digest.StatusDisabled}
	} else {
		res, err := p.digest.Generate(ctx)
		if err != nil {
			log.Error("Digest generation failed", "error", err)
		}
		m.Digest = res
	}

	m.FinishedAt = time.Now().UTC()
	elapsed := m.FinishedAt.Sub(m.StartedAt)
	m.Duration = elapsed.Round(time.Millisecond).String()

	status := "completed"
	if m.Failed() {
		status = "partial"
	}
	metrics.RecordRun(status, elapsed)
	log.Info("Refresh run finished", "status", status, "duration", m.Duration, "digest", m.Digest.Status)

	return m, nil
}

// persist writes one adapter's batch. A fetch error leaves Stored at zero.
func (p *Pipeline) persist(ctx context.Context, log *slog.Logger, res sources.FetchResult) SourceReport {
	report := SourceReport{
		Name:     res.Source,
		Kind:     res.Kind,
		Fetched:  res.Batch.Len(),
		Duration: res.Duration.Round(time.Millisecond).String(),
	}
	metrics.RecordFetch(res.Source, res.Err, report.Fetched, res.Duration)
	if res.Err != nil {
		report.Error = res.Err.Error()
		return report
	}

	var err error
	if len(res.Batch.Items) > 0 {
		report.Stored, err = p.db.Items().InsertIfAbsent(ctx, res.Batch.Items)
	}
	if err == nil && len(res.Batch.Rankings) > 0 {
		if err = p.db.Rankings().Upsert(ctx, res.Batch.Rankings); err == nil {
			report.Stored += len(res.Batch.Rankings)
		}
	}
	if err != nil {
		report.Error = fmt.Sprintf("store: %v", err)
		log.Error("Failed to persist source batch", "source", res.Source, "error", err)
		return report
	}

	metrics.RecordStored(res.Source, report.Stored)
	log.Info("Persisted source batch", "source", res.Source, "fetched", report.Fetched, "stored", report.Stored)
	return report
}
