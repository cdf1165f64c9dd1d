package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articlePage = `<!DOCTYPE html>
<html><head>
<title>Fallback Title</title>
<meta property="og:title" content="Marvel Announces New Film">
<meta name="description" content="Meta description text">
<meta property="og:image" content="/images/cover.jpg">
<link rel="canonical" href="/news/marvel-new-film">
<meta property="article:published_time" content="2025-06-02T10:00:00Z">
<meta name="author" content="Jane Doe">
<script>window.tracking = true;</script>
</head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Marvel Announces New Film</h1>
<p onclick="steal()">Marvel Studios confirmed today that a new film is in development, with production expected to start next year in London. The studio did not reveal the cast.</p>
<p>The announcement came during a press event where executives discussed the future of the franchise, including several series and animated projects planned for streaming.</p>
<p>Fans have speculated for months about the project, which reportedly ties into storylines introduced in earlier releases and will feature returning characters.</p>
<img src="/images/inline.jpg" alt="inline">
<script>alert("x")</script>
</article>
<footer>Copyright</footer>
</body></html>`

func TestExtractMetadataAndSanitizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "iamn-test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, articlePage)
	}))
	defer srv.Close()

	res, err := NewExtractor(srv.Client(), "iamn-test", 5*time.Second).Extract(context.Background(), srv.URL+"/news/123")
	require.NoError(t, err)

	assert.Equal(t, "Marvel Announces New Film", res.Metadata.Title)
	assert.Equal(t, "Meta description text", res.Metadata.Summary)
	assert.Equal(t, srv.URL+"/images/cover.jpg", res.Metadata.FeaturedImage)
	assert.Equal(t, srv.URL+"/news/marvel-new-film", res.Metadata.CanonicalURL)
	assert.Equal(t, "2025-06-02T10:00:00Z", res.Metadata.PublishedTime)
	assert.Equal(t, "Jane Doe", res.Metadata.Author)

	assert.Contains(t, res.BodyHTML, "Marvel Studios confirmed today")
	assert.NotContains(t, res.BodyHTML, "<script")
	assert.NotContains(t, res.BodyHTML, "onclick")
	assert.Contains(t, res.Markdown, "Marvel Studios confirmed today")
}

func TestExtractNon2xxIsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	_, err := NewExtractor(srv.Client(), "iamn-test", time.Second).Extract(context.Background(), srv.URL)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusGone, httpErr.StatusCode)
}

func TestExtractTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := NewExtractor(srv.Client(), "iamn-test", 50*time.Millisecond).Extract(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestMetadataFallbacks(t *testing.T) {
	base, _ := url.Parse("https://site.example/a/b")
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<html><head>
<title> Plain Title </title>
<meta name="twitter:image" content="img/t.png">
<meta property="article:author" content="https://site.example/author/x">
<meta name="twitter:creator" content="@writer">
</head><body><time datetime="2025-01-01">Jan 1</time></body></html>`))
	require.NoError(t, err)

	meta := readMetadata(doc, base)
	assert.Equal(t, "Plain Title", meta.Title)
	assert.Equal(t, "https://site.example/a/img/t.png", meta.FeaturedImage)
	assert.Equal(t, "https://site.example/a/b", meta.CanonicalURL)
	assert.Equal(t, "@writer", meta.Author)
	assert.Equal(t, "2025-01-01", meta.PublishedTime)
	assert.Empty(t, meta.Summary)
}

func TestNormalizeEmbeds(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<div>
<iframe src="https://www.youtube-nocookie.com/embed/dQw4w9WgXcQ?autoplay=1" width="560" class="x" onload="y()"></iframe>
<iframe data-src="https://youtu.be/abcdef12345"></iframe>
<iframe src="https://player.vimeo.com/video/1"></iframe>
</div>`))
	require.NoError(t, err)

	ids := normalizeEmbeds(doc.Selection)
	assert.Equal(t, []string{"dQw4w9WgXcQ", "abcdef12345"}, ids)

	frames := doc.Find("iframe")
	first := frames.Eq(0)
	src, _ := first.Attr("src")
	assert.Equal(t, "https://www.youtube.com/embed/dQw4w9WgXcQ", src)
	assert.Len(t, first.Get(0).Attr, 3)
	_, hasWidth := first.Attr("width")
	assert.False(t, hasWidth)

	vimeo, _ := frames.Eq(2).Attr("src")
	assert.Equal(t, "https://player.vimeo.com/video/1", vimeo)
}

func TestYouTubeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=10", "dQw4w9WgXcQ"},
		{"//www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://example.com/embed/dQw4w9WgXcQ", ""},
		{"https://www.youtube.com/watch", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, YouTubeID(tt.in), tt.in)
	}
}

func TestSanitizeDropsJavascriptLinks(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<p><a href="javascript:void(0)" title="t">x</a><form><input></form><style>p{}</style></p>`))
	require.NoError(t, err)

	sanitize(doc.Selection)
	html, _ := doc.Find("body").Html()
	assert.NotContains(t, html, "javascript:")
	assert.NotContains(t, html, "<form")
	assert.NotContains(t, html, "<style")
	assert.Contains(t, html, `title="t"`)
}
