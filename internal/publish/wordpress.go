package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/maquinanerd/IAMN/internal/config"
)

// Post is a fully assembled article ready for the CMS.
type Post struct {
	SourceURL        string
	CanonicalURL     string
	Title            string
	Slug             string
	Summary          string
	BodyHTML         string
	FeaturedImageURL string
	Category         string
	Tags             []string
	SchemaJSONLD     string
	Attribution      string
}

// Published identifies the created post.
type Published struct {
	ID  int64
	URL string
}

// WordPressError is a non-2xx reply of the WordPress REST API.
type WordPressError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *WordPressError) Error() string {
	return fmt.Sprintf("wordpress api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Tag lookups and creation fan out into several REST calls per post.
const (
	requestsPerSecond = 5
	requestBurst      = 10
)

// WordPress publishes posts through the WP REST API using an application password.
type WordPress struct {
	baseURL    string
	user       string
	password   string
	newsID     int
	categories map[string]int
	imagesMode string
	client     *http.Client
	limiter    *rate.Limiter
}

// NewWordPress creates a publisher for cfg.
func NewWordPress(cfg config.WordPressConfig, imagesMode string, client *http.Client) *WordPress {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &WordPress{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		user:       cfg.User,
		password:   cfg.Password,
		newsID:     cfg.NewsCategoryID,
		categories: cfg.Categories,
		imagesMode: imagesMode,
		client:     client,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}
}

type wpPost struct {
	Title      string  `json:"title"`
	Slug       string  `json:"slug"`
	Status     string  `json:"status"`
	Content    string  `json:"content"`
	Excerpt    string  `json:"excerpt"`
	Categories []int   `json:"categories,omitempty"`
	Tags       []int64 `json:"tags,omitempty"`
}

type wpTerm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Publish creates the post and returns its id and link.
func (w *WordPress) Publish(ctx context.Context, post Post) (Published, error) {
	tagIDs := make([]int64, 0, len(post.Tags))
	for _, tag := range post.Tags {
		id, err := w.tagID(ctx, tag)
		if err != nil {
			log.Warn().Err(err).Str("tag", tag).Msg("Failed to resolve tag, publishing without it")
			continue
		}
		tagIDs = append(tagIDs, id)
	}

	payload := wpPost{
		Title:      post.Title,
		Slug:       post.Slug,
		Status:     "publish",
		Content:    RenderContent(post, w.imagesMode),
		Excerpt:    post.Summary,
		Categories: w.categoryIDs(post.Category),
		Tags:       tagIDs,
	}

	var created struct {
		ID   int64  `json:"id"`
		Link string `json:"link"`
	}
	if err := w.do(ctx, http.MethodPost, "/wp-json/wp/v2/posts", payload, &created); err != nil {
		return Published{}, fmt.Errorf("failed to create post: %w", err)
	}

	return Published{ID: created.ID, URL: created.Link}, nil
}

func (w *WordPress) categoryIDs(aiCategory string) []int {
	var ids []int
	if w.newsID > 0 {
		ids = append(ids, w.newsID)
	}
	for name, id := range w.categories {
		if strings.EqualFold(name, strings.TrimSpace(aiCategory)) && id != w.newsID {
			ids = append(ids, id)
			break
		}
	}
	return ids
}

// tagID finds a tag by exact name or creates it.
func (w *WordPress) tagID(ctx context.Context, name string) (int64, error) {
	var found []wpTerm
	path := "/wp-json/wp/v2/tags?per_page=100&search=" + url.QueryEscape(name)
	if err := w.do(ctx, http.MethodGet, path, nil, &found); err != nil {
		return 0, err
	}
	for _, t := range found {
		if strings.EqualFold(html.UnescapeString(t.Name), name) {
			return t.ID, nil
		}
	}

	var created wpTerm
	err := w.do(ctx, http.MethodPost, "/wp-json/wp/v2/tags", map[string]string{"name": name}, &created)
	if err != nil {
		var wpErr *WordPressError
		if errors.As(err, &wpErr) && wpErr.Code == "term_exists" {
			if id, ok := w.existingTermID(ctx, name); ok {
				return id, nil
			}
		}
		return 0, err
	}
	return created.ID, nil
}

func (w *WordPress) existingTermID(ctx context.Context, name string) (int64, bool) {
	var found []wpTerm
	if err := w.do(ctx, http.MethodGet, "/wp-json/wp/v2/tags?per_page=100&search="+url.QueryEscape(name), nil, &found); err != nil || len(found) == 0 {
		return 0, false
	}
	return found[0].ID, true
}

func (w *WordPress) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth(w.user, w.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("wordpress request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		wpErr := &WordPressError{StatusCode: resp.StatusCode}
		var eb struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &eb) == nil {
			wpErr.Code, wpErr.Message = eb.Code, eb.Message
		} else {
			wpErr.Message = strings.TrimSpace(string(respBody))
		}
		return wpErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// RenderContent builds the post body: hotlinked featured image, rewritten
// body, attribution and the JSON-LD script.
func RenderContent(post Post, imagesMode string) string {
	var b strings.Builder

	if imagesMode == config.ImagesHotlink && post.FeaturedImageURL != "" {
		fmt.Fprintf(&b, `<figure class="wp-block-image"><img src="%s" alt="%s"/></figure>`+"\n",
			html.EscapeString(post.FeaturedImageURL), html.EscapeString(post.Title))
	}

	b.WriteString(post.BodyHTML)

	if post.Attribution != "" {
		source := post.CanonicalURL
		if source == "" {
			source = post.SourceURL
		}
		fmt.Fprintf(&b, "\n"+`<p class="iamn-attribution"><a href="%s" rel="nofollow noopener" target="_blank">%s</a></p>`,
			html.EscapeString(source), html.EscapeString(post.Attribution))
	}

	if post.SchemaJSONLD != "" {
		b.WriteString("\n<script type=\"application/ld+json\">")
		b.WriteString(strings.ReplaceAll(post.SchemaJSONLD, "</", `<\/`))
		b.WriteString("</script>")
	}

	return b.String()
}

// LogOnly stands in for a CMS when none is configured. It only logs.
type LogOnly struct{}

// Publish logs the post as ready and reports nothing created.
func (LogOnly) Publish(_ context.Context, post Post) (Published, error) {
	log.Info().Str("title", post.Title).Str("slug", post.Slug).Str("source_url", post.SourceURL).Msg("Article is ready for publishing")
	return Published{}, nil
}

// Attribution renders template with the host of sourceURL as {domain}.
func Attribution(template, sourceURL string) string {
	if template == "" {
		return ""
	}
	host := sourceURL
	if u, err := url.Parse(sourceURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return strings.ReplaceAll(template, "{domain}", host)
}
