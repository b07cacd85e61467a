package pipeline

import (
	"bulletin/internal/annotate"
	"bulletin/internal/config"
	"bulletin/internal/digest"
	"bulletin/internal/llm"
	"bulletin/internal/persistence"
	"bulletin/internal/sources"
	"fmt"
)

// Builder helps construct a fully configured Pipeline
type Builder struct {
	cfg     *config.Config
	db      persistence.Database
	model   llm.Model
	fetcher SourceFetcher
}

// NewBuilder creates a builder for cfg
func NewBuilder(cfg *config.Config) *Builder {
	return &Builder{cfg: cfg}
}

// WithDatabase sets the store
func (b *Builder) WithDatabase(db persistence.Database) *Builder {
	b.db = db
	return b
}

// WithModel sets the LLM used for judgments and synthesis
func (b *Builder) WithModel(model llm.Model) *Builder {
	b.model = model
	return b
}

// WithFetcher replaces the adapters registered from configuration
func (b *Builder) WithFetcher(fetcher SourceFetcher) *Builder {
	b.fetcher = fetcher
	return b
}

// Build constructs a fully configured Pipeline
func (b *Builder) Build() (*Pipeline, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if b.db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if b.model == nil {
		return nil, fmt.Errorf("LLM client is required")
	}

	loc := b.cfg.Digest.Location()

	fetcher := b.fetcher
	if fetcher == nil {
		fetcher = sources.NewDefaultRegistry(b.cfg.Sources, loc)
	}

	traced := llm.NewTracedClient(b.model)
	annotator := annotate.NewAnnotator(b.db, traced, annotate.Options{
		BatchSize:         b.cfg.Annotation.BatchSize,
		RequestsPerMinute: b.cfg.Annotation.RequestsPerMinute,
	})

	var gen DigestGenerator
	if b.cfg.Digest.Enabled {
		gen = digest.NewGenerator(b.db, traced, loc).
			WithWindow(config.Duration(b.cfg.Digest.Window, 0))
	}

	return NewPipeline(b.db, fetcher, annotator, gen), nil
}
