package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/maquinanerd/IAMN/internal/config"
	"github.com/maquinanerd/IAMN/internal/extract"
	"github.com/maquinanerd/IAMN/internal/feeds"
	"github.com/maquinanerd/IAMN/internal/generation"
	"github.com/maquinanerd/IAMN/internal/models"
	"github.com/maquinanerd/IAMN/internal/publish"
	"github.com/maquinanerd/IAMN/internal/rewrite"
	"github.com/maquinanerd/IAMN/internal/schema"
	"github.com/maquinanerd/IAMN/internal/storage"
)

// ErrCycleRunning is returned when a cycle is requested while another is in flight.
var ErrCycleRunning = errors.New("pipeline cycle already running")

// Store is the persistence the pipeline needs.
type Store interface {
	KnownURLs(ctx context.Context) (map[string]struct{}, error)
	SaveArticle(ctx context.Context, article *models.Article, logs []models.ProcessingLog, media []models.ExtractedMedia) error
	MarkPublished(ctx context.Context, articleID, wordpressID int64, wordpressURL string, at time.Time) error
	AppendLog(ctx context.Context, articleID int64, entry models.ProcessingLog) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Fetcher returns unseen feed entries of a source.
type Fetcher interface {
	FetchNew(ctx context.Context, source config.Source, limit int, known map[string]struct{}) []feeds.Entry
}

// Extractor turns a page URL into cleaned content.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (*extract.Result, error)
}

// Generator rewrites a prompt with the credential pool of a category.
type Generator interface {
	Send(ctx context.Context, prompt, category string) (generation.Result, error)
}

// Publisher hands a finished post to the CMS.
type Publisher interface {
	Publish(ctx context.Context, post publish.Post) (publish.Published, error)
}

// Options tune a pipeline.
type Options struct {
	Sources    []config.Source // in priority order
	MaxPerFeed int
	Delay      time.Duration // pause after each article before the next one starts
	SiteDomain string        // {domain} in prompts
	Site       config.SiteConfig
	Prompt     *rewrite.Template
}

// Deps are the collaborators of a pipeline.
type Deps struct {
	Store     Store
	Fetcher   Fetcher
	Extractor Extractor
	Generator Generator
	Publisher Publisher
}

// CycleStats summarizes one cycle.
type CycleStats struct {
	RunID     string
	Fetched   int
	Processed int
	Failed    int
	Published int
	Duration  time.Duration
}

// Pipeline drives fetch, extract, rewrite, persist and publish over the
// configured feed sources, one article at a time.
type Pipeline struct {
	deps    Deps
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time

	running atomic.Bool

	// Totals across cycles
	processed atomic.Int64
	failed    atomic.Int64
	published atomic.Int64
}

// New creates a pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Store == nil || deps.Fetcher == nil || deps.Extractor == nil || deps.Generator == nil {
		return nil, fmt.Errorf("pipeline requires store, fetcher, extractor and generator")
	}
	if deps.Publisher == nil {
		deps.Publisher = publish.LogOnly{}
	}
	if opts.Prompt == nil {
		opts.Prompt = rewrite.DefaultTemplate()
	}

	return &Pipeline{
		deps:    deps,
		opts:    opts,
		sleep:   sleepContext,
		now:     time.Now,
	}, nil
}

// RunCycle processes every source once. Per-article failures are logged and
// counted; only a failure to load the known URLs or cancellation ends the cycle early.
func (p *Pipeline) RunCycle(ctx context.Context) (stats CycleStats, err error) {
	if !p.running.CompareAndSwap(false, true) {
		return stats, ErrCycleRunning
	}
	defer p.running.Store(false)

	stats.RunID = uuid.NewString()
	logger := log.With().Str("run_id", stats.RunID).Logger()
	start := p.now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline cycle panicked: %v", r)
			logger.Error().Err(err).Msg("Cycle aborted")
			sentry.CurrentHub().Recover(r)
		}
		stats.Duration = p.now().Sub(start)
	}()

	logger.Info().Int("sources", len(p.opts.Sources)).Int("max_per_feed", p.opts.MaxPerFeed).Msg("Starting pipeline cycle")

	known, err := p.deps.Store.KnownURLs(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load known URLs, ending cycle")
		return stats, err
	}

	first := true
	for _, source := range p.opts.Sources {
		if ctx.Err() != nil {
			break
		}

		entries := p.deps.Fetcher.FetchNew(ctx, source, p.opts.MaxPerFeed, known)
		stats.Fetched += len(entries)

		for _, entry := range entries {
			if !first && p.opts.Delay > 0 {
				if err := p.sleep(ctx, p.opts.Delay); err != nil {
					logger.Info().Msg("Cycle cancelled while waiting between articles")
					return stats, ctx.Err()
				}
			}
			first = false

			o := p.processEntry(ctx, logger, entry)
			switch {
			case o.err != nil && ctx.Err() != nil:
				return stats, ctx.Err()
			case o.err != nil:
				stats.Failed++
				p.failed.Add(1)
			default:
				stats.Processed++
				p.processed.Add(1)
				if o.published {
					stats.Published++
					p.published.Add(1)
				}
			}
		}
	}

	logger.Info().
		Int("fetched", stats.Fetched).
		Int("processed", stats.Processed).
		Int("failed", stats.Failed).
		Int("published", stats.Published).
		Dur("duration", p.now().Sub(start)).
		Msg("Pipeline cycle completed")

	return stats, ctx.Err()
}

type outcome struct {
	err       error
	published bool
}

// processEntry runs one article. It never panics and never returns an error
// that should stop the cycle, except for context cancellation.
func (p *Pipeline) processEntry(ctx context.Context, cycleLogger zerolog.Logger, entry feeds.Entry) (o outcome) {
	logger := cycleLogger.With().Str("source", entry.FeedKey).Str("url", entry.URL).Logger()

	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("panic while processing article: %v", r)
			logger.Error().Err(o.err).Msg("Article processing panicked")
			report(o.err, entry)
		}
	}()

	start := p.now()
	logger.Info().Msg("Processing article")

	res, err := p.deps.Extractor.Extract(ctx, entry.URL)
	if err != nil {
		logger.Error().Err(err).Msg("Extraction failed, skipping")
		return outcome{err: err}
	}

	article := models.NewArticle(entry.URL, entry.FeedKey, entry.Category)
	article.CreatedAt = start.UTC()
	article.ExtractedAt = models.NullTime(p.now())
	article.OriginalTitle = models.NullString(first(res.Metadata.Title, entry.Title))
	article.OriginalContent = models.NullString(res.Markdown)
	article.CanonicalURL = models.NullString(res.Metadata.CanonicalURL)
	article.FeaturedImageURL = models.NullString(res.Metadata.FeaturedImage)
	article.Attribution = models.NullString(publish.Attribution(p.opts.Site.Attribution, entry.URL))
	if err := article.Advance(models.StatusProcessing); err != nil {
		return outcome{err: err}
	}

	logs := []models.ProcessingLog{
		models.NewProcessingLog(models.ActionExtraction, fmt.Sprintf("extracted %d bytes of content", len(res.BodyHTML)), true),
	}

	prompt := p.opts.Prompt.Render(rewrite.Vars{
		Title:   first(res.Metadata.Title, entry.Title),
		Excerpt: first(res.Metadata.Summary, entry.Summary),
		Domain:  p.opts.SiteDomain,
		Content: res.BodyHTML,
	})

	gen, err := p.deps.Generator.Send(ctx, prompt, entry.Category)
	if err != nil {
		if ctx.Err() != nil {
			return outcome{err: err}
		}
		logger.Error().Err(err).Msg("Generation failed")
		report(err, entry)
		if generation.IsConfigError(err) {
			return outcome{err: err}
		}
		p.saveFailed(ctx, logger, article, logs, models.ActionAIProcessing, "", err, start)
		return outcome{err: err}
	}

	out, err := rewrite.Parse(gen.Text)
	if err != nil {
		logger.Error().Err(err).Str("credential", gen.CredentialID).Msg("Generation reply is malformed")
		report(err, entry)
		p.saveFailed(ctx, logger, article, logs, models.ActionAIProcessing, gen.CredentialID, err, start)
		return outcome{err: err}
	}

	ld, err := schema.BuildNewsArticle(schema.Input{
		Headline:         out.Title,
		Description:      out.MetaDescription,
		ImageURL:         res.Metadata.FeaturedImage,
		CanonicalURL:     res.Metadata.CanonicalURL,
		DatePublished:    first(res.Metadata.PublishedTime, formatTime(entry.Published)),
		AuthorName:       res.Metadata.Author,
		PublisherName:    p.opts.Site.PublisherName,
		PublisherLogoURL: p.opts.Site.PublisherLogoURL,
		Now:              p.now(),
	}).JSON()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to serialize structured data")
		return outcome{err: err}
	}

	aiLog := models.NewProcessingLog(models.ActionAIProcessing, "rewritten as "+out.Title, true)
	aiLog.CredentialID = models.NullString(gen.CredentialID)
	logs = append(logs, aiLog)

	article.RewrittenTitle = models.NullString(out.Title)
	article.RewrittenBody = models.NullString(out.Body)
	article.MetaDescription = models.NullString(out.MetaDescription)
	article.FocusKeyword = models.NullString(out.FocusKeyword)
	article.Slug = models.NullString(publish.Slugify(out.Title))
	article.AICategory = models.NullString(out.Category)
	article.PrimarySubject = models.NullString(out.PrimarySubject)
	article.Tags = models.StringList(out.Tags)
	article.SchemaJSONLD = models.NullString(ld)
	article.CredentialID = models.NullString(gen.CredentialID)
	article.ProcessedAt = models.NullTime(p.now())
	article.ProcessingSeconds.Float64 = p.now().Sub(start).Seconds()
	article.ProcessingSeconds.Valid = true
	if err := article.Advance(models.StatusProcessed); err != nil {
		return outcome{err: err}
	}

	logs = append(logs, models.NewProcessingLog(models.ActionPersistence, "article stored", true))
	media := collectMedia(out, res.VideoIDs)

	if err := p.deps.Store.SaveArticle(ctx, article, logs, media); err != nil {
		if errors.Is(err, storage.ErrDuplicateURL) {
			logger.Warn().Msg("Article was stored concurrently, skipping publish")
		} else {
			logger.Error().Err(err).Msg("Failed to persist article")
			report(err, entry)
		}
		return outcome{err: err}
	}

	logger.Info().Int64("article_id", article.ID).Str("title", out.Title).Msg("Article processed")

	return outcome{published: p.publish(ctx, logger, article, entry)}
}

// publish is fire-and-forget: a failure is logged on the article and never retried.
func (p *Pipeline) publish(ctx context.Context, logger zerolog.Logger, article *models.Article, entry feeds.Entry) bool {
	post := publish.Post{
		SourceURL:        article.SourceURL,
		CanonicalURL:     article.CanonicalURL.String,
		Title:            article.RewrittenTitle.String,
		Slug:             article.Slug.String,
		Summary:          article.MetaDescription.String,
		BodyHTML:         article.RewrittenBody.String,
		FeaturedImageURL: article.FeaturedImageURL.String,
		Category:         article.AICategory.String,
		Tags:             article.Tags,
		SchemaJSONLD:     article.SchemaJSONLD.String,
		Attribution:      article.Attribution.String,
	}

	pub, err := p.deps.Publisher.Publish(ctx, post)
	if err != nil {
		logger.Error().Err(err).Int64("article_id", article.ID).Msg("Publishing failed")
		report(err, entry)
		if logErr := p.deps.Store.AppendLog(ctx, article.ID, models.NewProcessingLog(models.ActionPublishing, err.Error(), false)); logErr != nil {
			logger.Error().Err(logErr).Msg("Failed to record publishing failure")
		}
		return false
	}
	if pub.ID == 0 {
		return false
	}

	if err := p.deps.Store.MarkPublished(ctx, article.ID, pub.ID, pub.URL, p.now()); err != nil {
		logger.Error().Err(err).Msg("Failed to record published post")
	}
	if err := p.deps.Store.AppendLog(ctx, article.ID, models.NewProcessingLog(models.ActionPublishing, "published as "+pub.URL, true)); err != nil {
		logger.Error().Err(err).Msg("Failed to record publishing")
	}
	logger.Info().Int64("wordpress_id", pub.ID).Str("wordpress_url", pub.URL).Msg("Article published")
	return true
}

// saveFailed stores the article as failed so the URL is not retried before retention removes it.
func (p *Pipeline) saveFailed(ctx context.Context, logger zerolog.Logger, article *models.Article, logs []models.ProcessingLog, action, credentialID string, cause error, start time.Time) {
	article.Fail(cause)
	article.CredentialID = models.NullString(credentialID)
	article.ProcessingSeconds.Float64 = p.now().Sub(start).Seconds()
	article.ProcessingSeconds.Valid = true

	failure := models.NewProcessingLog(action, cause.Error(), false)
	failure.CredentialID = models.NullString(credentialID)
	logs = append(logs, failure)

	if err := p.deps.Store.SaveArticle(ctx, article, logs, nil); err != nil {
		logger.Error().Err(err).Msg("Failed to record failed article")
	}
}

// PurgeOldArticles removes articles created more than retention ago, whatever their status.
func (p *Pipeline) PurgeOldArticles(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive")
	}

	cutoff := p.now().UTC().Add(-retention)
	log.Info().
		Time("cutoff", cutoff).
		Dur("retention", retention).
		Msg("Purging old articles")

	n, err := p.deps.Store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge articles: %w", err)
	}

	log.Info().
		Int64("rows_affected", n).
		Msg("Purged old articles")
	return n, nil
}

// Stats returns totals across all cycles run by this pipeline.
func (p *Pipeline) Stats() (processed, failed, published int64) {
	return p.processed.Load(), p.failed.Load(), p.published.Load()
}

func collectMedia(out *rewrite.Output, videoIDs []string) []models.ExtractedMedia {
	var media []models.ExtractedMedia
	seen := make(map[string]bool)
	add := func(kind, url string) {
		if url == "" || seen[url] {
			return
		}
		seen[url] = true
		media = append(media, models.NewExtractedMedia(kind, url))
	}

	for _, id := range videoIDs {
		add(models.MediaYouTube, "https://www.youtube.com/embed/"+id)
	}
	for _, v := range out.YouTubeVideos {
		if id := extract.YouTubeID(v); id != "" {
			add(models.MediaYouTube, "https://www.youtube.com/embed/"+id)
		}
	}
	for _, l := range out.TwitterLinks {
		add(models.MediaTwitter, l)
	}
	for _, img := range out.Images {
		add(models.MediaImage, img)
	}
	return media
}

func report(err error, entry feeds.Entry) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("source", entry.FeedKey)
		scope.SetTag("category", entry.Category)
		scope.SetExtra("url", entry.URL)
		sentry.CaptureException(err)
	})
}

func first(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
