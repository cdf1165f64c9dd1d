package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/maquinanerd/IAMN/internal/database"
	"github.com/maquinanerd/IAMN/internal/models"
)

var (
	// ErrDuplicateURL is returned when an article with the same source URL already exists.
	ErrDuplicateURL = errors.New("article source URL already stored")
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
)

// ListFilter selects a page of articles, newest first.
type ListFilter struct {
	Limit           int
	Status          string
	Since           *time.Time
	CursorTimestamp *time.Time
	CursorID        *int64
}

// Repository persists articles with their processing logs and media.
type Repository struct {
	db *database.DB
}

// NewRepository creates a new repository instance.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// KnownURLs loads every stored source URL in one query.
func (r *Repository) KnownURLs(ctx context.Context) (map[string]struct{}, error) {
	var urls []string
	if err := r.db.SelectContext(ctx, &urls, `SELECT source_url FROM articles`); err != nil {
		return nil, fmt.Errorf("failed to load known urls: %w", err)
	}

	known := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		known[u] = struct{}{}
	}
	return known, nil
}

const insertArticle = `
	INSERT INTO articles (
		source_url, feed_key, category, status,
		original_title, original_content,
		rewritten_title, rewritten_body, meta_description, focus_keyword, slug,
		ai_category, primary_subject, tags,
		schema_json_ld, attribution, featured_image_url, canonical_url,
		credential_id, processing_seconds, error_message,
		created_at, extracted_at, processed_at
	) VALUES (
		:source_url, :feed_key, :category, :status,
		:original_title, :original_content,
		:rewritten_title, :rewritten_body, :meta_description, :focus_keyword, :slug,
		:ai_category, :primary_subject, :tags,
		:schema_json_ld, :attribution, :featured_image_url, :canonical_url,
		:credential_id, :processing_seconds, :error_message,
		:created_at, :extracted_at, :processed_at
	)`

// SaveArticle inserts the article together with its logs and media in one
// transaction and sets article.ID. Nothing is written on error.
func (r *Repository) SaveArticle(ctx context.Context, article *models.Article, logs []models.ProcessingLog, media []models.ExtractedMedia) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	article.CreatedAt = article.CreatedAt.UTC()
	res, err := tx.NamedExecContext(ctx, insertArticle, article)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateURL, article.SourceURL)
		}
		return fmt.Errorf("failed to insert article: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read article id: %w", err)
	}

	for i := range logs {
		logs[i].ArticleID = id
		if err := insertLog(ctx, tx, &logs[i]); err != nil {
			return err
		}
	}

	for i := range media {
		media[i].ArticleID = id
		m := &media[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO extracted_media (article_id, media_type, url, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			m.ArticleID, m.MediaType, m.URL, m.Status, m.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert media: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit article: %w", err)
	}

	article.ID = id
	return nil
}

func insertLog(ctx context.Context, tx *sqlx.Tx, l *models.ProcessingLog) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO processing_logs (article_id, action, message, credential_id, success, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ArticleID, l.Action, l.Message, l.CredentialID, l.Success, l.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert processing log: %w", err)
	}
	return nil
}

// AppendLog adds one processing log entry to an existing article.
func (r *Repository) AppendLog(ctx context.Context, articleID int64, entry models.ProcessingLog) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	entry.ArticleID = articleID
	if err := insertLog(ctx, tx, &entry); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkPublished records the publishing result on the article.
func (r *Repository) MarkPublished(ctx context.Context, articleID, wordpressID int64, wordpressURL string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE articles SET wordpress_id = ?, wordpress_url = ?, published_at = ? WHERE id = ?`,
		wordpressID, wordpressURL, at.UTC(), articleID)
	if err != nil {
		return fmt.Errorf("failed to mark article published: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %d: %w", articleID, ErrNotFound)
	}
	return nil
}

// DeleteOlderThan removes articles created before cutoff. Logs and media cascade.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM articles WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old articles: %w", err)
	}
	return res.RowsAffected()
}

// GetArticle loads one article by id.
func (r *Repository) GetArticle(ctx context.Context, id int64) (*models.Article, error) {
	var a models.Article
	err := r.db.GetContext(ctx, &a, `SELECT * FROM articles WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("article %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load article: %w", err)
	}
	return &a, nil
}

// ListArticles returns a page of articles ordered by created_at, id descending.
func (r *Repository) ListArticles(ctx context.Context, f ListFilter) ([]models.Article, error) {
	q := sq.Select("*").From("articles").OrderBy("created_at DESC", "id DESC")

	if f.Status != "" {
		q = q.Where(sq.Eq{"status": f.Status})
	}
	if f.Since != nil {
		q = q.Where(sq.Gt{"created_at": f.Since.UTC()})
	}
	if f.CursorTimestamp != nil && f.CursorID != nil {
		ts := f.CursorTimestamp.UTC()
		q = q.Where(sq.Or{
			sq.Lt{"created_at": ts},
			sq.And{sq.Eq{"created_at": ts}, sq.Lt{"id": *f.CursorID}},
		})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	articles := []models.Article{}
	if err := r.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return articles, nil
}

// ListLogs returns the processing log of one article in insertion order.
func (r *Repository) ListLogs(ctx context.Context, articleID int64) ([]models.ProcessingLog, error) {
	logs := []models.ProcessingLog{}
	err := r.db.SelectContext(ctx, &logs,
		`SELECT * FROM processing_logs WHERE article_id = ? ORDER BY created_at ASC, id ASC`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load processing logs: %w", err)
	}
	return logs, nil
}

// ListMedia returns the media extracted for one article.
func (r *Repository) ListMedia(ctx context.Context, articleID int64) ([]models.ExtractedMedia, error) {
	media := []models.ExtractedMedia{}
	err := r.db.SelectContext(ctx, &media,
		`SELECT * FROM extracted_media WHERE article_id = ? ORDER BY id ASC`, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load media: %w", err)
	}
	return media, nil
}

// CountByStatus returns the number of stored articles per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := r.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM articles GROUP BY status`); err != nil {
		return nil, fmt.Errorf("failed to count articles: %w", err)
	}

	counts := make(map[string]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
