package persistence

import (
	"bulletin/internal/core"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryDB is a process-local Database used by tests and the "memory" driver.
// It honours the same identity and overwrite rules as the SQL store.
type MemoryDB struct {
	mu sync.Mutex

	items       []core.Item
	itemsByLink map[string]int
	nextItemID  int64

	rankings      []core.Ranking
	rankingsByKey map[rankingKey]int
	nextRankingID int64
	digestsByDate map[core.Date]core.DailyDigest
	now           func() time.Time
}

// NewMemoryDB returns an empty in-memory store.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		itemsByLink:   make(map[string]int),
		rankingsByKey: make(map[rankingKey]int),
		digestsByDate: make(map[core.Date]core.DailyDigest),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryDB) Items() ItemRepository       { return memoryItems{m} }
func (m *MemoryDB) Rankings() RankingRepository { return memoryRankings{m} }
func (m *MemoryDB) Digests() DigestRepository   { return memoryDigests{m} }

func (m *MemoryDB) Ping(ctx context.Context) error { return ctx.Err() }
func (m *MemoryDB) Close() error                   { return nil }

type memoryItems struct{ m *MemoryDB }

func (r memoryItems) InsertIfAbsent(ctx context.Context, items []core.Item) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := 0
	for _, it := range dedupeItems(items) {
		if _, ok := m.itemsByLink[it.Link]; ok {
			continue
		}
		m.nextItemID++
		it.ID = m.nextItemID
		if it.FetchedAt.IsZero() {
			it.FetchedAt = m.now()
		}
		m.itemsByLink[it.Link] = len(m.items)
		m.items = append(m.items, cloneItem(it))
		inserted++
	}
	return inserted, nil
}

func (r memoryItems) UpdateJudgment(ctx context.Context, link string, judgment core.Judgment) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.itemsByLink[link]
	if !ok || m.items[i].Judged() {
		return false, nil
	}
	summary := judgment.Summary
	m.items[i].Summary = &summary
	if judgment.Include != nil {
		m.items[i].ShouldInclude = core.BoolPtr(*judgment.Include)
	}
	return true, nil
}

func (r memoryItems) GetByLink(ctx context.Context, link string) (*core.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.itemsByLink[link]
	if !ok {
		return nil, fmt.Errorf("article %s: %w", link, ErrNotFound)
	}
	it := cloneItem(m.items[i])
	return &it, nil
}

func (r memoryItems) List(ctx context.Context, source string, f ItemFilter) ([]core.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.Item
	for _, it := range ordered(m.items, f.Newest) {
		if !matchesItem(it, source, f) {
			continue
		}
		out = append(out, cloneItem(it))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

type memoryRankings struct{ m *MemoryDB }

func (r memoryRankings) Upsert(ctx context.Context, rankings []core.Ranking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rk := range dedupeRankings(rankings) {
		k := rankingKey{rk.Source, rk.ModelName, rk.FetchedDate}
		if i, ok := m.rankingsByKey[k]; ok {
			m.rankings[i].Downloads = rk.Downloads
			if !m.rankings[i].HasDescription() {
				m.rankings[i].Description = cloneString(rk.Description)
			}
			continue
		}
		m.nextRankingID++
		rk.ID = m.nextRankingID
		m.rankingsByKey[k] = len(m.rankings)
		m.rankings = append(m.rankings, cloneRanking(rk))
	}
	return nil
}

func (r memoryRankings) UpdateSummary(ctx context.Context, id int64, summary string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.rankings {
		if m.rankings[i].ID != id {
			continue
		}
		if m.rankings[i].Summary != nil {
			return false, nil
		}
		m.rankings[i].Summary = &summary
		return true, nil
	}
	return false, nil
}

func (r memoryRankings) List(ctx context.Context, source string, f RankingFilter) ([]core.Ranking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.Ranking
	for _, rk := range ordered(m.rankings, f.Newest) {
		if !matchesRanking(rk, source, f) {
			continue
		}
		out = append(out, cloneRanking(rk))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

type memoryDigests struct{ m *MemoryDB }

func (r memoryDigests) GetByDate(ctx context.Context, date core.Date) (*core.DailyDigest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.digestsByDate[date]
	if !ok {
		return nil, fmt.Errorf("digest for %s: %w", date, ErrNotFound)
	}
	return &d, nil
}

func (r memoryDigests) CreateIfAbsent(ctx context.Context, digest core.DailyDigest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.digestsByDate[digest.Date]; ok {
		return false, nil
	}
	if digest.GeneratedAt.IsZero() {
		digest.GeneratedAt = m.now()
	}
	m.digestsByDate[digest.Date] = digest
	return true, nil
}

func (r memoryDigests) Latest(ctx context.Context, limit int) ([]core.DailyDigest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := r.m
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	out := make([]core.DailyDigest, 0, len(m.digestsByDate))
	for _, d := range m.digestsByDate {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date > out[j].Date })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneItem(it core.Item) core.Item {
	it.Author = cloneString(it.Author)
	it.RawContent = cloneString(it.RawContent)
	it.Summary = cloneString(it.Summary)
	if it.ShouldInclude != nil {
		it.ShouldInclude = core.BoolPtr(*it.ShouldInclude)
	}
	if it.PublishedAt != nil {
		t := *it.PublishedAt
		it.PublishedAt = &t
	}
	return it
}

func cloneRanking(r core.Ranking) core.Ranking {
	r.Link = cloneString(r.Link)
	r.Description = cloneString(r.Description)
	r.Summary = cloneString(r.Summary)
	return r
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// ordered returns rows in insertion order, or reversed when newest is set.
func ordered[T any](rows []T, newest bool) []T {
	if !newest {
		return rows
	}
	out := make([]T, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	return out
}
