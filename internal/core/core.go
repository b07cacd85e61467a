// Package core defines the records that flow through the bulletin pipeline.
package core

import (
	"fmt"
	"time"
)

// Kind distinguishes the two record families produced by sources.
type Kind string

const (
	KindItem    Kind = "item"
	KindRanking Kind = "ranking"
)

// Source tags used by the built-in adapters.
const (
	SourceLessWrong   = "lesswrong"
	SourceHFPapers    = "hf"
	SourceHuggingFace = "huggingface"
	SourceCivitai     = "civitai"
)

// DateLayout is the storage format of a calendar date.
const DateLayout = "2006-01-02"

// Date is a calendar day, e.g. "2024-01-01".
type Date string

// DateOf returns the calendar date of t in loc (UTC when loc is nil).
func DateOf(t time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return Date(t.In(loc).Format(DateLayout))
}

// ParseDate validates s as a calendar date.
func ParseDate(s string) (Date, error) {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date(s), nil
}

func (d Date) String() string { return string(d) }

// Item is an article or paper, identified by its canonical link.
type Item struct {
	ID            int64      `json:"id"`
	Source        string     `json:"source"`
	Link          string     `json:"link"`
	Title         string     `json:"title"`
	Author        *string    `json:"author,omitempty"`
	RawContent    *string    `json:"raw_content,omitempty"`
	Summary       *string    `json:"summary,omitempty"`
	ShouldInclude *bool      `json:"should_include,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// Judged reports whether the item already carries an LLM judgment.
func (i Item) Judged() bool {
	return i.Summary != nil || i.ShouldInclude != nil
}

// HasContent reports whether there is raw content to judge.
func (i Item) HasContent() bool {
	return i.RawContent != nil && *i.RawContent != ""
}

// Included reports whether the item was judged and flagged for inclusion.
func (i Item) Included() bool {
	return i.ShouldInclude != nil && *i.ShouldInclude && i.Summary != nil
}

// Ranking is one day's popularity snapshot of a model on a source.
type Ranking struct {
	ID          int64   `json:"id"`
	Source      string  `json:"source"`
	ModelName   string  `json:"model_name"`
	Link        *string `json:"link,omitempty"`
	Downloads   int64   `json:"downloads"`
	Description *string `json:"description,omitempty"`
	Summary     *string `json:"summary,omitempty"`
	FetchedDate Date    `json:"fetched_date"`
}

// HasDescription reports whether there is raw text to summarize.
func (r Ranking) HasDescription() bool {
	return r.Description != nil && *r.Description != ""
}

// DailyDigest is the synthesized narrative for one calendar date.
type DailyDigest struct {
	Date        Date      `json:"date"`
	Summary     string    `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Judgment is the LLM output attached to a record. Include is nil for
// summary-only judgments.
type Judgment struct {
	Summary string `json:"summary"`
	Include *bool  `json:"include,omitempty"`
}

// StringPtr returns nil for an empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
