package schema

import (
	"encoding/json"
	"strings"
	"time"
)

// Input carries the values of a NewsArticle.
type Input struct {
	Headline         string
	Description      string
	ImageURL         string
	CanonicalURL     string
	DatePublished    string // as found on the page; defaults to Now
	AuthorName       string // defaults to PublisherName
	PublisherName    string
	PublisherLogoURL string
	Now              time.Time
}

// Thing is a typed, named Schema.org node.
type Thing struct {
	Type string `json:"@type"`
	Name string `json:"name"`
}

// ImageObject is a Schema.org image reference.
type ImageObject struct {
	Type string `json:"@type"`
	URL  string `json:"url"`
}

// Organization is the publisher node.
type Organization struct {
	Type string      `json:"@type"`
	Name string      `json:"name"`
	Logo ImageObject `json:"logo"`
}

// WebPage identifies the canonical page.
type WebPage struct {
	Type string `json:"@type"`
	ID   string `json:"@id"`
}

// NewsArticle is a Schema.org NewsArticle. Field order is the serialized order.
type NewsArticle struct {
	Context          string       `json:"@context"`
	Type             string       `json:"@type"`
	Headline         string       `json:"headline"`
	Description      string       `json:"description"`
	Image            []string     `json:"image,omitempty"`
	DatePublished    string       `json:"datePublished"`
	DateModified     string       `json:"dateModified"`
	Author           Thing        `json:"author"`
	Publisher        Organization `json:"publisher"`
	MainEntityOfPage WebPage      `json:"mainEntityOfPage"`
}

// BuildNewsArticle assembles the structured data object. It has no side effects;
// equal inputs give equal output.
func BuildNewsArticle(in Input) NewsArticle {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	stamp := now.UTC().Format(time.RFC3339)

	published := strings.TrimSpace(in.DatePublished)
	if published == "" {
		published = stamp
	}
	author := strings.TrimSpace(in.AuthorName)
	if author == "" {
		author = in.PublisherName
	}

	var images []string
	if in.ImageURL != "" {
		images = []string{in.ImageURL}
	}

	return NewsArticle{
		Context:       "https://schema.org",
		Type:          "NewsArticle",
		Headline:      in.Headline,
		Description:   in.Description,
		Image:         images,
		DatePublished: published,
		DateModified:  stamp,
		Author:        Thing{Type: "Person", Name: author},
		Publisher: Organization{
			Type: "Organization",
			Name: in.PublisherName,
			Logo: ImageObject{Type: "ImageObject", URL: in.PublisherLogoURL},
		},
		MainEntityOfPage: WebPage{Type: "WebPage", ID: in.CanonicalURL},
	}
}

// JSON serializes the article for a ld+json script tag.
func (a NewsArticle) JSON() (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
