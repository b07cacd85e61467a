package llm

import (
	"bulletin/internal/core"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// JudgmentSchema is the Gemini response_schema for structured judgments.
func JudgmentSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"include": {
				Type:        genai.TypeBoolean,
				Description: "Whether the item belongs in today's digest",
			},
			"summary": {
				Type:        genai.TypeString,
				Description: "Two or three sentence summary of the item",
			},
		},
		Required: []string{"include", "summary"},
	}
}

type rawJudgment struct {
	Include *bool   `json:"include"`
	Summary *string `json:"summary"`
}

// ParseJudgment decodes {"include": bool, "summary": string}, tolerating a
// surrounding markdown code fence or leading prose.
func ParseJudgment(text string) (core.Judgment, error) {
	body := stripFence(text)
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return core.Judgment{}, fmt.Errorf("%w: no JSON object in response", ErrMalformedJudgment)
	}

	var raw rawJudgment
	if err := json.Unmarshal([]byte(body[start:end+1]), &raw); err != nil {
		return core.Judgment{}, fmt.Errorf("%w: %v", ErrMalformedJudgment, err)
	}
	if raw.Include == nil {
		return core.Judgment{}, fmt.Errorf("%w: missing include", ErrMalformedJudgment)
	}
	if raw.Summary == nil {
		return core.Judgment{}, fmt.Errorf("%w: missing summary", ErrMalformedJudgment)
	}

	summary := strings.TrimSpace(*raw.Summary)
	if summary == "" {
		return core.Judgment{}, fmt.Errorf("%w: blank summary", ErrEmptyOutput)
	}
	return core.Judgment{Summary: summary, Include: core.BoolPtr(*raw.Include)}, nil
}

// ParseSummary returns trimmed free text, unwrapping a code fence if the whole
// reply is fenced.
func ParseSummary(text string) (string, error) {
	summary := strings.TrimSpace(stripFence(text))
	if summary == "" {
		return "", ErrEmptyOutput
	}
	return summary, nil
}

// stripFence removes a ```lang ... ``` wrapper around the whole reply.
func stripFence(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return t
	}
	t = strings.TrimSuffix(t[3:], "```")
	if nl := strings.IndexByte(t, '\n'); nl >= 0 && !strings.ContainsAny(t[:nl], " {") {
		t = t[nl+1:]
	}
	return strings.TrimSpace(t)
}
