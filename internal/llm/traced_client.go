package llm

import (
	"bulletin/internal/core"
	"bulletin/internal/logger"
	"bulletin/internal/metrics"
	"context"
	"log/slog"
	"time"
)

// Model is the surface the pipeline depends on. *Client implements it.
type Model interface {
	Judge(ctx context.Context, req Request) (core.Judgment, error)
	Synthesize(ctx context.Context, instructions, text string) (string, error)
}

// TracedClient wraps a Model with request metrics and debug logging.
type TracedClient struct {
	model Model
	log   *slog.Logger
}

// NewTracedClient wraps model.
func NewTracedClient(model Model) *TracedClient {
	return &TracedClient{model: model, log: logger.Get()}
}

// Judge calls the underlying model and records the outcome.
func (tc *TracedClient) Judge(ctx context.Context, req Request) (core.Judgment, error) {
	start := time.Now()
	j, err := tc.model.Judge(ctx, req)
	elapsed := time.Since(start)
	metrics.RecordLLMRequest("judge", err, elapsed)

	if err != nil {
		tc.log.Debug("Judge request failed", "source", req.Source, "duration", elapsed, "error", err)
		return j, err
	}
	tc.log.Debug("Judge request completed", "source", req.Source, "duration", elapsed)
	return j, nil
}

// Synthesize calls the underlying model and records the outcome.
func (tc *TracedClient) Synthesize(ctx context.Context, instructions, text string) (string, error) {
	start := time.Now()
	out, err := tc.model.Synthesize(ctx, instructions, text)
	elapsed := time.Since(start)
	metrics.RecordLLMRequest("synthesize", err, elapsed)

	if err != nil {
		tc.log.Debug("Synthesize request failed", "duration", elapsed, "input_chars", len(text), "error", err)
		return "", err
	}
	tc.log.Debug("Synthesize request completed", "duration", elapsed, "output_chars", len(out))
	return out, nil
}
