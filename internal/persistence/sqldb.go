package persistence

import (
	"bulletin/internal/core"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// batchSize bounds rows per INSERT statement to stay under parameter limits.
const batchSize = 500

// SQLDB implements Database on database/sql for Postgres and SQLite.
type SQLDB struct {
	db       *sql.DB
	driver   string
	builder  sq.StatementBuilderType
	items    *sqlItemRepo
	rankings *sqlRankingRepo
	digests  *sqlDigestRepo
}

// NewSQLDB opens and pings a connection for driver "postgres" or "sqlite3".
func NewSQLDB(driver, dsn string, maxOpenConns int) (*SQLDB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database connection string is required for driver %s", driver)
	}

	var placeholder sq.PlaceholderFormat
	switch driver {
	case "postgres":
		placeholder = sq.Dollar
	case "sqlite3":
		placeholder = sq.Question
		// A single writer avoids SQLITE_BUSY between the pipeline stages.
		maxOpenConns = 1
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 10
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxOpenConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLDB{
		db:      db,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
	s.items = &sqlItemRepo{db: db, sb: s.builder}
	s.rankings = &sqlRankingRepo{db: db, sb: s.builder}
	s.digests = &sqlDigestRepo{db: db, sb: s.builder}
	return s, nil
}

func (s *SQLDB) Items() ItemRepository       { return s.items }
func (s *SQLDB) Rankings() RankingRepository { return s.rankings }
func (s *SQLDB) Digests() DigestRepository   { return s.digests }

func (s *SQLDB) Close() error {
	return s.db.Close()
}

func (s *SQLDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn inside a transaction, rolling back on error.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// sqlItemRepo implements ItemRepository
type sqlItemRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var itemColumns = []string{
	"id", "source", "link", "title", "author", "raw_content",
	"summary", "should_include", "published_at", "fetched_at",
}

func (r *sqlItemRepo) InsertIfAbsent(ctx context.Context, items []core.Item) (int, error) {
	items = dedupeItems(items)
	if len(items) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	inserted := 0
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		for start := 0; start < len(items); start += batchSize {
			end := min(start+batchSize, len(items))

			q := r.sb.Insert("articles").Columns(
				"source", "link", "title", "author", "raw_content",
				"summary", "should_include", "published_at", "fetched_at",
			)
			for _, it := range items[start:end] {
				fetchedAt := it.FetchedAt.UTC()
				if fetchedAt.IsZero() {
					fetchedAt = now
				}
				q = q.Values(
					it.Source, it.Link, it.Title, it.Author, it.RawContent,
					it.Summary, it.ShouldInclude, nullTime(it.PublishedAt), fetchedAt,
				)
			}
			// The no-op conflict clause is what protects previously stored judgments.
			q = q.Suffix("ON CONFLICT (link) DO NOTHING")

			res, err := q.RunWith(tx).ExecContext(ctx)
			if err != nil {
				return fmt.Errorf("failed to insert articles: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to count inserted articles: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func (r *sqlItemRepo) UpdateJudgment(ctx context.Context, link string, judgment core.Judgment) (bool, error) {
	q := r.sb.Update("articles").
		Set("summary", judgment.Summary).
		Set("should_include", judgment.Include).
		Where(sq.Eq{"link": link, "summary": nil, "should_include": nil})

	res, err := q.RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update judgment for %s: %w", link, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *sqlItemRepo) GetByLink(ctx context.Context, link string) (*core.Item, error) {
	q := r.sb.Select(itemColumns...).From("articles").Where(sq.Eq{"link": link})
	row := q.RunWith(r.db).QueryRowContext(ctx)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %s: %w", link, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *sqlItemRepo) List(ctx context.Context, source string, f ItemFilter) ([]core.Item, error) {
	q := r.sb.Select(itemColumns...).From("articles").OrderBy(idOrder(f.Newest))
	if source != "" {
		q = q.Where(sq.Eq{"source": source})
	}
	if f.Unjudged {
		q = q.Where(sq.Eq{"summary": nil, "should_include": nil})
	}
	if f.HasContent {
		q = q.Where(sq.And{sq.NotEq{"raw_content": nil}, sq.NotEq{"raw_content": ""}})
	}
	if f.Included {
		q = q.Where(sq.Eq{"should_include": true}).Where(sq.NotEq{"summary": nil})
	}
	if !f.FetchedSince.IsZero() {
		q = q.Where(sq.GtOrEq{"fetched_at": f.FetchedSince.UTC()})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	rows, err := q.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles: %w", err)
	}
	defer rows.Close()

	var items []core.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func idOrder(newest bool) string {
	if newest {
		return "id DESC"
	}
	return "id ASC"
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (core.Item, error) {
	var (
		it          core.Item
		author      sql.NullString
		rawContent  sql.NullString
		summary     sql.NullString
		include     sql.NullBool
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&it.ID, &it.Source, &it.Link, &it.Title, &author, &rawContent,
		&summary, &include, &publishedAt, &it.FetchedAt,
	)
	if err != nil {
		return core.Item{}, err
	}
	it.Author = nullStringPtr(author)
	it.RawContent = nullStringPtr(rawContent)
	it.Summary = nullStringPtr(summary)
	if include.Valid {
		it.ShouldInclude = core.BoolPtr(include.Bool)
	}
	if publishedAt.Valid {
		t := publishedAt.Time.UTC()
		it.PublishedAt = &t
	}
	it.FetchedAt = it.FetchedAt.UTC()
	return it, nil
}

// sqlRankingRepo implements RankingRepository
type sqlRankingRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var rankingColumns = []string{
	"id", "source", "model_name", "link", "downloads", "description", "summary", "fetched_date",
}

func (r *sqlRankingRepo) Upsert(ctx context.Context, rankings []core.Ranking) error {
	rankings = dedupeRankings(rankings)
	if len(rankings) == 0 {
		return nil
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		for start := 0; start < len(rankings); start += batchSize {
			end := min(start+batchSize, len(rankings))

			q := r.sb.Insert("model_rankings").Columns(
				"source", "model_name", "link", "downloads", "description", "summary", "fetched_date",
			)
			for _, rk := range rankings[start:end] {
				q = q.Values(
					rk.Source, rk.ModelName, rk.Link, rk.Downloads,
					rk.Description, rk.Summary, string(rk.FetchedDate),
				)
			}
			// The count is refreshed and a missing description may be filled in; summary survives.
			q = q.Suffix("ON CONFLICT (source, model_name, fetched_date) DO UPDATE SET " +
				"downloads = excluded.downloads, " +
				"description = COALESCE(NULLIF(model_rankings.description, ''), excluded.description)")

			if _, err := q.RunWith(tx).ExecContext(ctx); err != nil {
				return fmt.Errorf("failed to upsert model rankings: %w", err)
			}
		}
		return nil
	})
}

func (r *sqlRankingRepo) UpdateSummary(ctx context.Context, id int64, summary string) (bool, error) {
	q := r.sb.Update("model_rankings").
		Set("summary", summary).
		Where(sq.Eq{"id": id, "summary": nil})

	res, err := q.RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to update summary for ranking %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *sqlRankingRepo) List(ctx context.Context, source string, f RankingFilter) ([]core.Ranking, error) {
	q := r.sb.Select(rankingColumns...).From("model_rankings").OrderBy(idOrder(f.Newest))
	if source != "" {
		q = q.Where(sq.Eq{"source": source})
	}
	if f.Unsummarized {
		q = q.Where(sq.Eq{"summary": nil})
	}
	if f.HasDescription {
		q = q.Where(sq.And{sq.NotEq{"description": nil}, sq.NotEq{"description": ""}})
	}
	if f.Summarized {
		q = q.Where(sq.NotEq{"summary": nil})
	}
	if f.Date != "" {
		q = q.Where(sq.Eq{"fetched_date": string(f.Date)})
	}
	if f.Since != "" {
		q = q.Where(sq.GtOrEq{"fetched_date": string(f.Since)})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	rows, err := q.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query model rankings: %w", err)
	}
	defer rows.Close()

	var rankings []core.Ranking
	for rows.Next() {
		var (
			rk          core.Ranking
			link        sql.NullString
			description sql.NullString
			summary     sql.NullString
			downloads   sql.NullInt64
			fetchedDate time.Time
		)
		if err := rows.Scan(&rk.ID, &rk.Source, &rk.ModelName, &link, &downloads, &description, &summary, &fetchedDate); err != nil {
			return nil, err
		}
		rk.Link = nullStringPtr(link)
		rk.Description = nullStringPtr(description)
		rk.Summary = nullStringPtr(summary)
		rk.Downloads = downloads.Int64
		rk.FetchedDate = core.Date(fetchedDate.Format(core.DateLayout))
		rankings = append(rankings, rk)
	}
	return rankings, rows.Err()
}

// sqlDigestRepo implements DigestRepository
type sqlDigestRepo struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func (r *sqlDigestRepo) GetByDate(ctx context.Context, date core.Date) (*core.DailyDigest, error) {
	q := r.sb.Select("date", "summary", "generated_at").
		From("daily_summaries").
		Where(sq.Eq{"date": string(date)})

	d, err := scanDigest(q.RunWith(r.db).QueryRowContext(ctx))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("digest for %s: %w", date, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load digest for %s: %w", date, err)
	}
	return &d, nil
}

func (r *sqlDigestRepo) CreateIfAbsent(ctx context.Context, digest core.DailyDigest) (bool, error) {
	generatedAt := digest.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now().UTC()
	}

	q := r.sb.Insert("daily_summaries").
		Columns("date", "summary", "generated_at").
		Values(string(digest.Date), digest.Summary, generatedAt).
		Suffix("ON CONFLICT (date) DO NOTHING")

	res, err := q.RunWith(r.db).ExecContext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to insert digest for %s: %w", digest.Date, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *sqlDigestRepo) Latest(ctx context.Context, limit int) ([]core.DailyDigest, error) {
	if limit <= 0 {
		limit = 10
	}
	q := r.sb.Select("date", "summary", "generated_at").
		From("daily_summaries").
		OrderBy("date DESC").
		Limit(uint64(limit))

	rows, err := q.RunWith(r.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query digests: %w", err)
	}
	defer rows.Close()

	var digests []core.DailyDigest
	for rows.Next() {
		d, err := scanDigest(rows)
		if err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

func scanDigest(row scanner) (core.DailyDigest, error) {
	var (
		d    core.DailyDigest
		date time.Time
	)
	if err := row.Scan(&date, &d.Summary, &d.GeneratedAt); err != nil {
		return core.DailyDigest{}, err
	}
	d.Date = core.Date(date.Format(core.DateLayout))
	d.GeneratedAt = d.GeneratedAt.UTC()
	return d, nil
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
