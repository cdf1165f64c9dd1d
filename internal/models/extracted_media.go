package models

import "time"

// Media types recorded for an article.
const (
	MediaImage   = "image"
	MediaYouTube = "youtube"
	MediaTwitter = "twitter"
)

// ExtractedMedia represents a row in the extracted_media table
type ExtractedMedia struct {
	ID        int64     `db:"id" json:"id"`
	ArticleID int64     `db:"article_id" json:"article_id"`
	MediaType string    `db:"media_type" json:"media_type"`
	URL       string    `db:"url" json:"url"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewExtractedMedia creates a pending media entry.
func NewExtractedMedia(mediaType, url string) ExtractedMedia {
	return ExtractedMedia{
		MediaType: mediaType,
		URL:       url,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}
