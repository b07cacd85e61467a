// Package llm wraps the Gemini API behind the two calls the pipeline makes:
// judging one record and synthesizing the daily digest.
package llm

import (
	"bulletin/internal/core"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model.
	DefaultModel = "gemini-flash-lite-latest"

	// maxInputChars bounds the record text sent with a judge request.
	maxInputChars = 30000

	// maxSynthesisChars bounds the aggregated text sent with a synthesis request.
	maxSynthesisChars = 120000
)

var (
	// ErrMalformedJudgment is returned when a structured judgment cannot be parsed
	// or lacks a required field.
	ErrMalformedJudgment = errors.New("malformed judgment")

	// ErrEmptyOutput is returned when the model produced no usable text.
	ErrEmptyOutput = errors.New("empty model output")

	// ErrMissingAPIKey is returned by NewClient without credentials.
	ErrMissingAPIKey = errors.New("gemini API key is required")
)

// Options configures the Gemini client.
type Options struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int32
	Temperature float32
}

// Request is one record submitted for judgment.
type Request struct {
	Source       string
	Title        string
	Content      string
	Instructions string
	// Structured asks for {"include": bool, "summary": string}; otherwise the
	// reply is taken verbatim as a summary.
	Structured bool
}

// generateFunc issues one completion and returns the model text.
type generateFunc func(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)

// Client represents a client for interacting with Gemini.
type Client struct {
	modelName string
	opts      Options
	generate  generateFunc
}

// NewClient creates a Gemini-backed client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY or ai.gemini.api_key", ErrMissingAPIKey)
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	c := &Client{modelName: opts.Model, opts: opts}
	c.generate = func(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
		contents := []*genai.Content{{
			Parts: []*genai.Part{{Text: prompt}},
			Role:  "user",
		}}
		resp, err := gClient.Models.GenerateContent(ctx, c.modelName, contents, config)
		if err != nil {
			return "", fmt.Errorf("failed to generate content: %w", err)
		}
		return resp.Text(), nil
	}
	return c, nil
}

// GetModelName returns the model used for every call.
func (c *Client) GetModelName() string {
	return c.modelName
}

// Judge asks the model for a judgment of one record.
func (c *Client) Judge(ctx context.Context, req Request) (core.Judgment, error) {
	if strings.TrimSpace(req.Content) == "" {
		return core.Judgment{}, fmt.Errorf("judge %s: %w", req.Source, ErrEmptyOutput)
	}

	config := c.baseConfig()
	if req.Structured {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = JudgmentSchema()
	}

	text, err := c.call(ctx, buildJudgePrompt(req), config)
	if err != nil {
		return core.Judgment{}, err
	}

	if req.Structured {
		return ParseJudgment(text)
	}
	summary, err := ParseSummary(text)
	if err != nil {
		return core.Judgment{}, err
	}
	return core.Judgment{Summary: summary}, nil
}

// Synthesize produces free text from instructions and the aggregated input.
func (c *Client) Synthesize(ctx context.Context, instructions, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyOutput
	}
	prompt := instructions + "\n\n---\n" + truncateLines(text, maxSynthesisChars) + "\n---"
	out, err := c.call(ctx, prompt, c.baseConfig())
	if err != nil {
		return "", err
	}
	return ParseSummary(out)
}

func (c *Client) call(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}
	text, err := c.generate(ctx, prompt, config)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

func (c *Client) baseConfig() *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if c.opts.MaxTokens > 0 {
		config.MaxOutputTokens = c.opts.MaxTokens
	}
	if c.opts.Temperature > 0 {
		temp := c.opts.Temperature
		config.Temperature = &temp
	}
	return config
}

func buildJudgePrompt(req Request) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(req.Instructions))
	b.WriteString("\n\n")
	if req.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", req.Title)
	}
	b.WriteString("Content:\n---\n")
	b.WriteString(truncate(req.Content, maxInputChars))
	b.WriteString("\n---")
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncateLines cuts s to at most n runes, dropping any partial trailing line.
func truncateLines(s string, n int) string {
	cut := truncate(s, n)
	if len(cut) == len(s) {
		return s
	}
	if i := strings.LastIndexByte(cut, '\n'); i > 0 {
		return cut[:i]
	}
	return cut
}
