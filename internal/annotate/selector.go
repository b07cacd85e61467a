package annotate

import (
	"bulletin/internal/core"
	"bulletin/internal/persistence"
	"context"
	"fmt"
)

// Selector yields the records of a source that still lack a judgment.
type Selector struct {
	db persistence.Database
}

// NewSelector creates a selector over db.
func NewSelector(db persistence.Database) *Selector {
	return &Selector{db: db}
}

// SelectItems returns unjudged items with raw content, oldest first.
// Items without content are skipped until content exists.
func (s *Selector) SelectItems(ctx context.Context, source string) ([]core.Item, error) {
	items, err := s.db.Items().List(ctx, source, persistence.ItemFilter{Unjudged: true, HasContent: true})
	if err != nil {
		return nil, fmt.Errorf("select unjudged %s items: %w", source, err)
	}
	return items, nil
}

// SelectRankings returns unsummarized rankings with a description, oldest first.
func (s *Selector) SelectRankings(ctx context.Context, source string) ([]core.Ranking, error) {
	rankings, err := s.db.Rankings().List(ctx, source, persistence.RankingFilter{Unsummarized: true, HasDescription: true})
	if err != nil {
		return nil, fmt.Errorf("select unsummarized %s rankings: %w", source, err)
	}
	return rankings, nil
}
