package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rs/zerolog/log"
)

const maxPageBytes = 8 << 20

// HTTPError is returned when the page responds with a non-2xx status.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
}

// Metadata is the normalized page metadata.
type Metadata struct {
	Title         string
	Summary       string
	FeaturedImage string
	CanonicalURL  string
	PublishedTime string
	Author        string
}

// Result is an extracted article.
type Result struct {
	Metadata Metadata
	// BodyHTML is sanitized article HTML with normalized video embeds.
	BodyHTML string
	// Markdown is BodyHTML rendered as markdown.
	Markdown string
	// VideoIDs lists the YouTube ids embedded in the body, in document order.
	VideoIDs []string
}

// Extractor downloads a page and isolates its article content.
type Extractor struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
}

// NewExtractor creates an extractor. Each Extract call is bounded by timeout.
func NewExtractor(client *http.Client, userAgent string, timeout time.Duration) *Extractor {
	if client == nil {
		client = &http.Client{}
	}
	return &Extractor{client: client, userAgent: userAgent, timeout: timeout}
}

// Extract fetches pageURL and returns its metadata and cleaned body. There are no retries.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (*Result, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", pageURL, err)
	}

	raw, err := e.download(ctx, pageURL)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	body := mainContent(raw, base, doc)
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("no content found at %s", pageURL)
	}

	bodyDoc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse extracted body: %w", err)
	}

	sanitize(bodyDoc.Selection)
	absolutizeImages(bodyDoc.Selection, base)
	videos := normalizeEmbeds(bodyDoc.Selection)

	cleaned, err := bodyDoc.Find("body").Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}
	cleaned = strings.TrimSpace(cleaned)

	meta := readMetadata(doc, base)
	if meta.FeaturedImage == "" {
		if src, ok := bodyDoc.Find("img[src]").First().Attr("src"); ok {
			meta.FeaturedImage = src
		}
	}

	markdown, err := md.NewConverter(base.Host, true, nil).ConvertString(cleaned)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("Failed to convert body to markdown")
	}

	return &Result{
		Metadata: meta,
		BodyHTML: cleaned,
		Markdown: markdown,
		VideoIDs: videos,
	}, nil
}

func (e *Extractor) download(ctx context.Context, pageURL string) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: pageURL, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", pageURL, err)
	}
	return raw, nil
}

// mainContent runs readability and falls back to the whole <body>.
func mainContent(raw []byte, base *url.URL, doc *goquery.Document) string {
	article, err := readability.FromReader(bytes.NewReader(raw), base)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return article.Content
	}
	if err != nil {
		log.Debug().Err(err).Str("url", base.String()).Msg("Readability failed, using page body")
	}

	body, _ := doc.Find("body").Html()
	return body
}
