package pipeline

import (
	"bulletin/internal/annotate"
	"bulletin/internal/digest"
	"bulletin/internal/sources"
	"context"
)

// SourceFetcher runs every configured adapter
type SourceFetcher interface {
	// FetchAll returns one result per adapter; adapter errors are carried in
	// the results, never returned.
	FetchAll(ctx context.Context) []sources.FetchResult
}

// RecordAnnotator judges unjudged records per source
type RecordAnnotator interface {
	// AnnotateAll returns one report per target in target order
	AnnotateAll(ctx context.Context, targets []annotate.Target) []annotate.Report
}

// DigestGenerator writes at most one digest per date
type DigestGenerator interface {
	Generate(ctx context.Context) (digest.Result, error)
}
