package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/maquinanerd/IAMN/internal/config"
	"github.com/maquinanerd/IAMN/internal/database"
	"github.com/maquinanerd/IAMN/internal/extract"
	"github.com/maquinanerd/IAMN/internal/feeds"
	"github.com/maquinanerd/IAMN/internal/generation"
	"github.com/maquinanerd/IAMN/internal/process"
	"github.com/maquinanerd/IAMN/internal/publish"
	"github.com/maquinanerd/IAMN/internal/rewrite"
	"github.com/maquinanerd/IAMN/internal/storage"
)

func loadSources(cfg *config.Config) (*config.Sources, error) {
	if cfg.FeedsPath == "" {
		return config.DefaultSources(), nil
	}
	sources, err := config.LoadSources(cfg.FeedsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load feed sources: %w", err)
	}
	return sources, nil
}

func newGenerationClient(ctx context.Context, cfg *config.Config, sources *config.Sources) (*generation.Client, error) {
	keys := config.LoadCredentials(sources.Categories(), os.LookupEnv)
	client, err := generation.NewGeminiClient(ctx, keys, cfg.Gemini.BaseURL, cfg.Gemini.Model, cfg.GenerationTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation client: %w", err)
	}
	return client, nil
}

// buildPipeline wires every stage from cfg.
func buildPipeline(ctx context.Context, cfg *config.Config, db *database.DB) (*process.Pipeline, error) {
	sources, err := loadSources(cfg)
	if err != nil {
		return nil, err
	}

	prompt := rewrite.DefaultTemplate()
	if cfg.PromptPath != "" {
		prompt, err = rewrite.LoadTemplate(cfg.PromptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompt template: %w", err)
		}
	}

	gen, err := newGenerationClient(ctx, cfg, sources)
	if err != nil {
		return nil, err
	}

	var pub process.Publisher = publish.LogOnly{}
	if cfg.WordPress.Enabled() {
		pub = publish.NewWordPress(cfg.WordPress, cfg.Site.ImagesMode, &http.Client{Timeout: 30 * time.Second})
		log.Info().Str("url", cfg.WordPress.URL).Msg("Publishing to WordPress")
	} else {
		log.Warn().Msg("WordPress is not configured, processed articles will only be logged")
	}

	ordered := sources.Ordered()
	p, err := process.New(process.Deps{
		Store:     storage.NewRepository(db),
		Fetcher:   feeds.NewFetcher(nil, cfg.UserAgent),
		Extractor: extract.NewExtractor(nil, cfg.UserAgent, cfg.ExtractTimeout),
		Generator: gen,
		Publisher: pub,
	}, process.Options{
		Sources:    ordered,
		MaxPerFeed: cfg.MaxArticlesPerFeed,
		Delay:      cfg.APICallDelay,
		SiteDomain: cfg.WordPress.SiteDomain(),
		Site:       cfg.Site,
		Prompt:     prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	log.Info().Int("sources", len(ordered)).Int("max_per_feed", cfg.MaxArticlesPerFeed).Dur("delay", cfg.APICallDelay).Msg("Pipeline ready")
	return p, nil
}
