package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var youtubeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,}$`)

// readMetadata applies the per-field fallback chains. The first non-empty value wins.
func readMetadata(doc *goquery.Document, base *url.URL) Metadata {
	meta := Metadata{
		Title: first(
			metaContent(doc, `meta[property="og:title"]`),
			metaContent(doc, `meta[name="twitter:title"]`),
			strings.TrimSpace(doc.Find("title").First().Text()),
		),
		Summary: first(
			metaContent(doc, `meta[property="og:description"]`),
			metaContent(doc, `meta[name="twitter:description"]`),
			metaContent(doc, `meta[name="description"]`),
		),
		FeaturedImage: resolve(base, first(
			metaContent(doc, `meta[property="og:image"]`),
			metaContent(doc, `meta[name="twitter:image"]`),
			metaContent(doc, `meta[property="twitter:image"]`),
		)),
		CanonicalURL: resolve(base, first(
			metaContent(doc, `meta[property="og:url"]`),
			attr(doc, `link[rel="canonical"]`, "href"),
		)),
		PublishedTime: first(
			metaContent(doc, `meta[property="article:published_time"]`),
			metaContent(doc, `meta[name="pubdate"]`),
			metaContent(doc, `meta[name="date"]`),
			attr(doc, "time[datetime]", "datetime"),
		),
		Author: first(
			nonURL(metaContent(doc, `meta[property="article:author"]`)),
			metaContent(doc, `meta[name="twitter:creator"]`),
			metaContent(doc, `meta[name="author"]`),
		),
	}

	if meta.CanonicalURL == "" {
		meta.CanonicalURL = base.String()
	}
	return meta
}

func metaContent(doc *goquery.Document, selector string) string {
	return attr(doc, selector, "content")
}

func attr(doc *goquery.Document, selector, name string) string {
	v, _ := doc.Find(selector).First().Attr(name)
	return strings.TrimSpace(v)
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonURL(v string) string {
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return ""
	}
	return v
}

// resolve makes ref absolute against base. Empty stays empty.
func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// sanitize strips active content and inline event handlers.
func sanitize(sel *goquery.Selection) {
	sel.Find("script, style, noscript, form, button, svg, input, textarea, select").Remove()

	sel.Find("*").Each(func(_ int, s *goquery.Selection) {
		node := s.Get(0)
		kept := node.Attr[:0]
		for _, a := range node.Attr {
			key := strings.ToLower(a.Key)
			if strings.HasPrefix(key, "on") {
				continue
			}
			if (key == "href" || key == "src") && strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
				continue
			}
			kept = append(kept, a)
		}
		node.Attr = kept
	})
}

func absolutizeImages(sel *goquery.Selection, base *url.URL) {
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			// lazy loaders keep the real source elsewhere
			src, ok = img.Attr("data-src")
			if !ok {
				return
			}
		}
		img.SetAttr("src", resolve(base, strings.TrimSpace(src)))
		img.RemoveAttr("data-src")
	})
}

// normalizeEmbeds rewrites YouTube iframes to a canonical embed and returns the video ids.
func normalizeEmbeds(sel *goquery.Selection) []string {
	var ids []string
	sel.Find("iframe").Each(func(_ int, frame *goquery.Selection) {
		src, _ := frame.Attr("src")
		if src == "" {
			src, _ = frame.Attr("data-src")
		}
		id := YouTubeID(src)
		if id == "" {
			return
		}

		node := frame.Get(0)
		node.Attr = node.Attr[:0]
		frame.SetAttr("src", "https://www.youtube.com/embed/"+id)
		frame.SetAttr("frameborder", "0")
		frame.SetAttr("allowfullscreen", "")
		ids = append(ids, id)
	})
	return ids
}

// YouTubeID returns the video id of a YouTube watch, short or embed URL, or "".
func YouTubeID(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "youtube-nocookie.com":
		switch {
		case strings.HasPrefix(u.Path, "/embed/"):
			id = strings.TrimPrefix(u.Path, "/embed/")
		case strings.HasPrefix(u.Path, "/shorts/"):
			id = strings.TrimPrefix(u.Path, "/shorts/")
		case u.Path == "/watch":
			id = u.Query().Get("v")
		}
	default:
		return ""
	}

	id = strings.SplitN(id, "/", 2)[0]
	if !youtubeIDPattern.MatchString(id) {
		return ""
	}
	return id
}
