package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	// File paths
	DBPath     string
	FeedsPath  string // optional YAML feed sources, built-in defaults when empty
	PromptPath string // optional prompt template, embedded default when empty

	// Server settings
	ServerHost string
	ServerPort int
	APIKey     string

	// Pipeline settings
	Interval           time.Duration
	CleanupInterval    time.Duration
	Retention          time.Duration
	MaxArticlesPerFeed int
	APICallDelay       time.Duration
	ExtractTimeout     time.Duration
	GenerationTimeout  time.Duration
	UserAgent          string

	Gemini    GeminiConfig
	WordPress WordPressConfig
	Site      SiteConfig

	SentryDSN string

	// Log settings
	LogLevel zerolog.Level
}

// GeminiConfig points the generation client at the REST endpoint.
type GeminiConfig struct {
	BaseURL string
	Model   string
}

// WordPressConfig holds the publishing target. Publishing is disabled when URL is empty.
type WordPressConfig struct {
	URL      string
	User     string
	Password string

	// NewsCategoryID is attached to every post; Categories maps the AI category to an extra id.
	NewsCategoryID int
	Categories     map[string]int
}

// Enabled reports whether enough is configured to publish.
func (w WordPressConfig) Enabled() bool {
	return w.URL != "" && w.User != "" && w.Password != ""
}

// SiteDomain returns scheme://host of the publishing site, used for internal links in rewritten copy.
func (w WordPressConfig) SiteDomain() string {
	u, err := url.Parse(w.URL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// SiteConfig describes the publishing site for structured data and attribution.
type SiteConfig struct {
	PublisherName    string
	PublisherLogoURL string
	ImagesMode       string
	Attribution      string
}

// DefaultConfig returns an initial configuration with hardcoded defaults.
func DefaultConfig() *Config {
	logLevel, _ := zerolog.ParseLevel(DefaultLogLevel)

	return &Config{
		DBPath:             DefaultDBPath,
		ServerHost:         DefaultServerHost,
		ServerPort:         DefaultServerPort,
		APIKey:             GetEnvString("IAMN_API_KEY", ""),
		Interval:           time.Duration(DefaultInterval) * time.Minute,
		CleanupInterval:    time.Duration(DefaultCleanupInterval) * time.Hour,
		Retention:          time.Duration(DefaultRetentionHours) * time.Hour,
		MaxArticlesPerFeed: DefaultMaxArticlesPerFeed,
		APICallDelay:       time.Duration(DefaultAPICallDelay) * time.Second,
		ExtractTimeout:     time.Duration(DefaultExtractTimeoutSeconds) * time.Second,
		GenerationTimeout:  time.Duration(DefaultGenerationTimeoutSeconds) * time.Second,
		UserAgent:          DefaultUserAgent,
		Gemini: GeminiConfig{
			BaseURL: DefaultGeminiBaseURL,
			Model:   DefaultGeminiModel,
		},
		WordPress: WordPressConfig{
			URL:            GetEnvString("WORDPRESS_URL", ""),
			User:           GetEnvString("WORDPRESS_USER", ""),
			Password:       GetEnvString("WORDPRESS_PASSWORD", ""),
			NewsCategoryID: 20,
			Categories: map[string]int{
				"Filmes": 24,
				"Séries": 21,
				"Games":  73,
			},
		},
		Site: SiteConfig{
			PublisherName:    DefaultPublisherName,
			PublisherLogoURL: DefaultPublisherLogoURL,
			ImagesMode:       DefaultImagesMode,
			Attribution:      DefaultAttribution,
		},
		SentryDSN: GetEnvString("SENTRY_DSN", ""),
		LogLevel:  logLevel,
	}
}

// ListenAddr returns the formatted listen address for the HTTP server.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// Validate checks the pipeline settings. It returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.DBPath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", c.Interval))
	}
	if c.Retention <= 0 {
		errs = append(errs, fmt.Errorf("retention must be positive, got %s", c.Retention))
	}
	if c.MaxArticlesPerFeed < 0 {
		errs = append(errs, fmt.Errorf("max articles per feed cannot be negative, got %d", c.MaxArticlesPerFeed))
	}
	if c.APICallDelay < 0 {
		errs = append(errs, fmt.Errorf("api call delay cannot be negative, got %s", c.APICallDelay))
	}
	switch c.Site.ImagesMode {
	case ImagesHotlink, ImagesNone:
	default:
		errs = append(errs, fmt.Errorf("unknown images mode %q", c.Site.ImagesMode))
	}
	if c.WordPress.URL != "" {
		if u, err := url.Parse(c.WordPress.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid WordPress URL %q", c.WordPress.URL))
		}
	}

	return errors.Join(errs...)
}
