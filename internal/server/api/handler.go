package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/feeds"
	"github.com/rs/zerolog/hlog"

	"github.com/maquinanerd/IAMN/internal/models"
	"github.com/maquinanerd/IAMN/internal/server/pagination"
	"github.com/maquinanerd/IAMN/internal/storage"
)

const defaultLimit = 50
const maxLimit = 500
const feedSize = 30
const iso8601Format = time.RFC3339

// ArticleReader is the read side of the article store.
type ArticleReader interface {
	GetArticle(ctx context.Context, id int64) (*models.Article, error)
	ListArticles(ctx context.Context, f storage.ListFilter) ([]models.Article, error)
	ListLogs(ctx context.Context, articleID int64) ([]models.ProcessingLog, error)
	ListMedia(ctx context.Context, articleID int64) ([]models.ExtractedMedia, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Article is the API view of a stored article.
type Article struct {
	ID              int64      `json:"id"`
	SourceURL       string     `json:"source_url"`
	FeedKey         string     `json:"feed_key"`
	Category        string     `json:"category"`
	Status          string     `json:"status"`
	OriginalTitle   string     `json:"original_title,omitempty"`
	Title           string     `json:"title,omitempty"`
	Slug            string     `json:"slug,omitempty"`
	MetaDescription string     `json:"meta_description,omitempty"`
	FocusKeyword    string     `json:"focus_keyword,omitempty"`
	AICategory      string     `json:"ai_category,omitempty"`
	PrimarySubject  string     `json:"primary_subject,omitempty"`
	Tags            []string   `json:"tags"`
	WordPressID     *int64     `json:"wordpress_id,omitempty"`
	WordPressURL    string     `json:"wordpress_url,omitempty"`
	CredentialID    string     `json:"credential_id,omitempty"`
	Seconds         *float64   `json:"processing_seconds,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

func newArticle(a models.Article) Article {
	v := Article{
		ID:              a.ID,
		SourceURL:       a.SourceURL,
		FeedKey:         a.FeedKey,
		Category:        a.Category,
		Status:          a.Status,
		OriginalTitle:   a.OriginalTitle.String,
		Title:           a.RewrittenTitle.String,
		Slug:            a.Slug.String,
		MetaDescription: a.MetaDescription.String,
		FocusKeyword:    a.FocusKeyword.String,
		AICategory:      a.AICategory.String,
		PrimarySubject:  a.PrimarySubject.String,
		Tags:            a.Tags,
		WordPressURL:    a.WordPressURL.String,
		CredentialID:    a.CredentialID.String,
		Error:           a.ErrorMessage.String,
		CreatedAt:       a.CreatedAt.UTC(),
	}
	if v.Tags == nil {
		v.Tags = []string{}
	}
	if a.WordPressID.Valid {
		v.WordPressID = &a.WordPressID.Int64
	}
	if a.ProcessingSeconds.Valid {
		v.Seconds = &a.ProcessingSeconds.Float64
	}
	if a.ProcessedAt.Valid {
		t := a.ProcessedAt.Time.UTC()
		v.ProcessedAt = &t
	}
	if a.PublishedAt.Valid {
		t := a.PublishedAt.Time.UTC()
		v.PublishedAt = &t
	}
	return v
}

// Response structure for the articles endpoint
type Response struct {
	Items      []Article `json:"items"`
	NextCursor *string   `json:"next_cursor,omitempty"`
}

// ArticlesHandler serves the read-only article endpoints.
type ArticlesHandler struct {
	repo      ArticleReader
	feedTitle string
	feedLink  string
}

// NewArticlesHandler creates a new handler instance. feedTitle and feedLink
// describe the RSS channel.
func NewArticlesHandler(repo ArticleReader, feedTitle, feedLink string) *ArticlesHandler {
	return &ArticlesHandler{
		repo:      repo,
		feedTitle: feedTitle,
		feedLink:  feedLink,
	}
}

// GetArticles lists articles newest first. Optional parameters: limit,
// status, since (RFC3339) and cursor.
func (h *ArticlesHandler) GetArticles(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing articles request")

	query := r.URL.Query()
	limitStr := query.Get("limit")
	sinceStr := query.Get("since")
	cursorStr := query.Get("cursor")
	status := query.Get("status")

	limit := defaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	switch status {
	case "", models.StatusPending, models.StatusProcessing, models.StatusProcessed, models.StatusFailed:
	default:
		log.Warn().Str("status", status).Msg("Invalid 'status' parameter")
		http.Error(w, "Invalid 'status' parameter", http.StatusBadRequest)
		return
	}

	filter := storage.ListFilter{Limit: limit + 1, Status: status} // Fetch one extra

	if cursorStr != "" {
		after, err := pagination.ParseArticleCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		filter.CursorTimestamp = &after.CreatedAt
		filter.CursorID = &after.ID
	}
	if sinceStr != "" {
		parsedSince, err := time.Parse(iso8601Format, sinceStr)
		if err != nil {
			log.Warn().Err(err).Str("since", sinceStr).Msg("Invalid 'since' parameter format")
			http.Error(w, "Invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)", http.StatusBadRequest)
			return
		}
		utcSince := parsedSince.UTC()
		filter.Since = &utcSince
	}

	articles, err := h.repo.ListArticles(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("cursor", cursorStr).Msg("Error fetching articles from repository")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var nextCursorStr *string
	if len(articles) > limit {
		articles = articles[:limit]
		last := articles[len(articles)-1]
		cursor := pagination.AfterArticle(last.CreatedAt, last.ID).String()
		nextCursorStr = &cursor
	}

	items := make([]Article, 0, len(articles))
	for _, a := range articles {
		items = append(items, newArticle(a))
	}

	writeJSON(w, r, Response{Items: items, NextCursor: nextCursorStr})
}

// ArticleDetail is an article with its processing history and extracted media.
type ArticleDetail struct {
	Article Article                 `json:"article"`
	Logs    []models.ProcessingLog  `json:"logs"`
	Media   []models.ExtractedMedia `json:"media"`
}

// GetArticleLogs returns the processing log of the article named by the {id} path value.
func (h *ArticlesHandler) GetArticleLogs(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid article id", http.StatusBadRequest)
		return
	}

	article, err := h.repo.GetArticle(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Article not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("article_id", id).Msg("Error loading article")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	logs, err := h.repo.ListLogs(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("article_id", id).Msg("Error loading processing logs")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	media, err := h.repo.ListMedia(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("article_id", id).Msg("Error loading extracted media")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, ArticleDetail{Article: newArticle(*article), Logs: logs, Media: media})
}

// GetStats returns article counts per status.
func (h *ArticlesHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.CountByStatus(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error counting articles")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, counts)
}

// GetFeed serves the latest processed articles as RSS 2.0.
func (h *ArticlesHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	articles, err := h.repo.ListArticles(r.Context(), storage.ListFilter{Limit: feedSize, Status: models.StatusProcessed})
	if err != nil {
		log.Error().Err(err).Msg("Error fetching articles for feed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	feed := &feeds.Feed{
		Title:       h.feedTitle,
		Link:        &feeds.Link{Href: h.feedLink},
		Description: "Latest rewritten articles",
		Created:     time.Now().UTC(),
	}
	for _, a := range articles {
		link := a.WordPressURL.String
		if link == "" {
			link = a.SourceURL
		}
		item := &feeds.Item{
			Id:          strconv.FormatInt(a.ID, 10),
			Title:       a.RewrittenTitle.String,
			Link:        &feeds.Link{Href: link},
			Description: a.MetaDescription.String,
			Content:     a.RewrittenBody.String,
			Created:     a.CreatedAt.UTC(),
		}
		if a.ProcessedAt.Valid {
			item.Updated = a.ProcessedAt.Time.UTC()
		}
		feed.Items = append(feed.Items, item)
	}

	rss, err := feed.ToRss()
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate RSS")
		http.Error(w, "Failed to generate RSS", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	if _, err := w.Write([]byte(rss)); err != nil {
		log.Error().Err(err).Msg("Failed to write RSS response")
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
