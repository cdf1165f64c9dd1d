package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Article status values. Status only moves forward; StatusFailed is reachable from any stage.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Article represents a row in the articles table
type Article struct {
	ID        int64  `db:"id"`
	SourceURL string `db:"source_url"`
	FeedKey   string `db:"feed_key"`
	Category  string `db:"category"`
	Status    string `db:"status"`

	OriginalTitle   sql.NullString `db:"original_title"`
	OriginalContent sql.NullString `db:"original_content"` // markdown

	RewrittenTitle  sql.NullString `db:"rewritten_title"`
	RewrittenBody   sql.NullString `db:"rewritten_body"`
	MetaDescription sql.NullString `db:"meta_description"`
	FocusKeyword    sql.NullString `db:"focus_keyword"`
	Slug            sql.NullString `db:"slug"`
	AICategory      sql.NullString `db:"ai_category"`
	PrimarySubject  sql.NullString `db:"primary_subject"`
	Tags            StringList     `db:"tags"`

	SchemaJSONLD     sql.NullString `db:"schema_json_ld"`
	Attribution      sql.NullString `db:"attribution"`
	FeaturedImageURL sql.NullString `db:"featured_image_url"`
	CanonicalURL     sql.NullString `db:"canonical_url"`

	WordPressID  sql.NullInt64  `db:"wordpress_id"`
	WordPressURL sql.NullString `db:"wordpress_url"`

	CredentialID      sql.NullString  `db:"credential_id"`
	ProcessingSeconds sql.NullFloat64 `db:"processing_seconds"`
	ErrorMessage      sql.NullString  `db:"error_message"`

	CreatedAt   time.Time    `db:"created_at"`
	ExtractedAt sql.NullTime `db:"extracted_at"`
	ProcessedAt sql.NullTime `db:"processed_at"`
	PublishedAt sql.NullTime `db:"published_at"`
}

// NewArticle creates an Article in the pending state.
func NewArticle(sourceURL, feedKey, category string) *Article {
	return &Article{
		SourceURL: sourceURL,
		FeedKey:   feedKey,
		Category:  category,
		Status:    StatusPending,
		Tags:      StringList{},
		CreatedAt: time.Now().UTC(),
	}
}

// Advance moves the article to status. Moving backwards is rejected.
func (a *Article) Advance(status string) error {
	if status == StatusFailed {
		a.Status = status
		return nil
	}
	if a.Status == StatusFailed {
		return fmt.Errorf("article %q already failed", a.SourceURL)
	}
	if statusRank(status) < 0 {
		return fmt.Errorf("unknown article status %q", status)
	}
	if statusRank(status) < statusRank(a.Status) {
		return fmt.Errorf("article %q cannot move from %s to %s", a.SourceURL, a.Status, status)
	}
	a.Status = status
	return nil
}

// Fail marks the article failed with the error message.
func (a *Article) Fail(err error) {
	a.Status = StatusFailed
	a.ErrorMessage = NullString(err.Error())
}

func statusRank(s string) int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusProcessed:
		return 2
	}
	return -1
}

// StringList is stored as a JSON array.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
	if len(data) == 0 {
		*l = StringList{}
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

// NullString returns a valid sql.NullString for non-empty s.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullTime returns a valid sql.NullTime for non-zero t, normalized to UTC.
func NullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
