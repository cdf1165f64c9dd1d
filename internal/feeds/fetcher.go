package feeds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"

	"github.com/maquinanerd/IAMN/internal/config"
)

const maxFeedBytes = 10 << 20

// Entry is a feed item accepted for processing.
type Entry struct {
	URL       string
	FeedKey   string
	Category  string
	Title     string
	Summary   string
	Published time.Time
}

// Fetcher pulls and parses RSS/Atom feeds.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher creates a fetcher that identifies itself with userAgent.
func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// FetchNew returns up to limit entries of source whose permalink is not in
// known, walking endpoints in declaration order and items in document order.
// Accepted permalinks are added to known. A limit <= 0 means no cap.
// Endpoints that fail to download or parse are logged and skipped.
func (f *Fetcher) FetchNew(ctx context.Context, source config.Source, limit int, known map[string]struct{}) []Entry {
	logger := log.With().Str("source", source.Key).Logger()
	var entries []Entry

	for _, feedURL := range source.URLs {
		if limit > 0 && len(entries) >= limit {
			break
		}
		if ctx.Err() != nil {
			break
		}

		base, err := url.Parse(feedURL)
		if err != nil {
			logger.Error().Err(err).Str("feed_url", feedURL).Msg("Invalid feed URL, skipping")
			continue
		}

		feed, err := f.fetch(ctx, feedURL)
		if err != nil {
			logger.Error().Err(err).Str("feed_url", feedURL).Msg("Failed to fetch feed, skipping")
			continue
		}

		logger.Debug().Str("feed_url", feedURL).Int("items", len(feed.Items)).Msg("Parsed feed")

		for _, item := range feed.Items {
			if limit > 0 && len(entries) >= limit {
				break
			}

			link := permalink(base, item)
			if link == "" {
				logger.Warn().Str("feed_url", feedURL).Str("title", item.Title).Msg("Feed item has no permalink, skipping")
				continue
			}
			if _, seen := known[link]; seen {
				continue
			}

			known[link] = struct{}{}
			entries = append(entries, newEntry(source, link, item))
		}
	}

	logger.Info().Int("new", len(entries)).Int("limit", limit).Msg("Feed source checked")
	return entries
}

func (f *Fetcher) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	return feed, nil
}

// permalink returns the first link of item resolved against the feed URL
// that yields an http(s) URL with a host, or "".
func permalink(base *url.URL, item *gofeed.Item) string {
	candidates := append([]string{item.Link}, item.Links...)
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		u, err := url.Parse(c)
		if err != nil {
			continue
		}
		u = base.ResolveReference(u)
		if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}
		return u.String()
	}
	return ""
}

func newEntry(source config.Source, link string, item *gofeed.Item) Entry {
	e := Entry{
		URL:      link,
		FeedKey:  source.Key,
		Category: source.Category,
		Title:    strings.TrimSpace(item.Title),
		Summary:  strings.TrimSpace(item.Description),
	}
	if item.PublishedParsed != nil {
		e.Published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		e.Published = item.UpdatedParsed.UTC()
	}
	return e
}
