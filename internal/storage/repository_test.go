package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maquinanerd/IAMN/internal/database"
	"github.com/maquinanerd/IAMN/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "repo.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepository(db)
}

func saveArticle(t *testing.T, repo *Repository, url string, created time.Time) *models.Article {
	t.Helper()
	a := models.NewArticle(url, "movieweb", "movies")
	a.CreatedAt = created
	a.Status = models.StatusProcessed
	a.RewrittenTitle = models.NullString("Title for " + url)
	a.Tags = models.StringList{"marvel", "mcu"}
	require.NoError(t, repo.SaveArticle(context.Background(), a, nil, nil))
	return a
}

func TestSaveArticleWithLogsAndMedia(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	a := models.NewArticle("https://example.com/news/1", "games", "games")
	a.Status = models.StatusProcessed
	logs := []models.ProcessingLog{
		models.NewProcessingLog(models.ActionExtraction, "ok", true),
		models.NewProcessingLog(models.ActionAIProcessing, "ok", true),
	}
	media := []models.ExtractedMedia{models.NewExtractedMedia(models.MediaYouTube, "https://www.youtube.com/embed/abc")}

	require.NoError(t, repo.SaveArticle(ctx, a, logs, media))
	require.NotZero(t, a.ID)

	got, err := repo.GetArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/news/1", got.SourceURL)
	assert.Equal(t, models.StatusProcessed, got.Status)
	assert.Equal(t, models.StringList{}, got.Tags)

	gotLogs, err := repo.ListLogs(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, gotLogs, 2)
	assert.Equal(t, models.ActionExtraction, gotLogs[0].Action)
	assert.True(t, gotLogs[1].Success)

	gotMedia, err := repo.ListMedia(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, gotMedia, 1)
	assert.Equal(t, models.MediaYouTube, gotMedia[0].MediaType)
}

func TestSaveArticleDuplicateRollsBack(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	saveArticle(t, repo, "https://example.com/dup", time.Now())

	dup := models.NewArticle("https://example.com/dup", "movieweb", "movies")
	err := repo.SaveArticle(ctx, dup, []models.ProcessingLog{models.NewProcessingLog(models.ActionPersistence, "x", true)}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateURL))
	assert.Zero(t, dup.ID)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusProcessed])
}

func TestKnownURLs(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	saveArticle(t, repo, "https://example.com/a", time.Now())
	saveArticle(t, repo, "https://example.com/b", time.Now())

	known, err := repo.KnownURLs(ctx)
	require.NoError(t, err)
	assert.Len(t, known, 2)
	assert.Contains(t, known, "https://example.com/a")
	assert.Contains(t, known, "https://example.com/b")
	assert.NotContains(t, known, "https://example.com/c")
}

func TestDeleteOlderThanCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := models.NewArticle("https://example.com/old", "games", "games")
	old.CreatedAt = now.Add(-13 * time.Hour)
	require.NoError(t, repo.SaveArticle(ctx, old, []models.ProcessingLog{models.NewProcessingLog(models.ActionExtraction, "", true)}, nil))
	fresh := saveArticle(t, repo, "https://example.com/fresh", now.Add(-time.Hour))

	n, err := repo.DeleteOlderThan(ctx, now.Add(-12*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = repo.GetArticle(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	logs, err := repo.ListLogs(ctx, old.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = repo.GetArticle(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestMarkPublished(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := saveArticle(t, repo, "https://example.com/pub", time.Now())

	require.NoError(t, repo.MarkPublished(ctx, a.ID, 991, "https://site.example/post", time.Now()))
	got, err := repo.GetArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 991, got.WordPressID.Int64)
	assert.True(t, got.PublishedAt.Valid)

	assert.ErrorIs(t, repo.MarkPublished(ctx, 4242, 1, "", time.Now()), ErrNotFound)
}

func TestAppendLog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := saveArticle(t, repo, "https://example.com/log", time.Now())

	require.NoError(t, repo.AppendLog(ctx, a.ID, models.NewProcessingLog(models.ActionPublishing, "boom", false)))
	logs, err := repo.ListLogs(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Equal(t, "boom", logs[0].Message)
}

func TestListArticlesPagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, u := range []string{"https://e.x/1", "https://e.x/2", "https://e.x/3", "https://e.x/4", "https://e.x/5"} {
		saveArticle(t, repo, u, base.Add(time.Duration(i)*time.Minute))
	}

	page, err := repo.ListArticles(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "https://e.x/5", page[0].SourceURL)
	assert.Equal(t, "https://e.x/4", page[1].SourceURL)

	last := page[1]
	next, err := repo.ListArticles(ctx, ListFilter{Limit: 10, CursorTimestamp: &last.CreatedAt, CursorID: &last.ID})
	require.NoError(t, err)
	require.Len(t, next, 3)
	assert.Equal(t, "https://e.x/3", next[0].SourceURL)
	assert.Equal(t, "https://e.x/1", next[2].SourceURL)

	none, err := repo.ListArticles(ctx, ListFilter{Limit: 10, Status: models.StatusFailed})
	require.NoError(t, err)
	assert.Empty(t, none)
}
