package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for any cursor this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// ArticleCursor marks the last article of a page in (created_at DESC, id DESC) order.
type ArticleCursor struct {
	CreatedAt time.Time
	ID        int64
}

// AfterArticle returns the cursor that continues listing after the article.
func AfterArticle(createdAt time.Time, id int64) ArticleCursor {
	return ArticleCursor{CreatedAt: createdAt.UTC(), ID: id}
}

// String encodes the cursor as an opaque URL-safe token.
func (c ArticleCursor) String() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(c.ID, 10)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseArticleCursor decodes a token produced by ArticleCursor.String.
func ParseArticleCursor(token string) (ArticleCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(token, "="))
	if err != nil {
		return ArticleCursor{}, fmt.Errorf("%w: bad encoding", ErrInvalidCursor)
	}

	created, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return ArticleCursor{}, fmt.Errorf("%w: missing article id", ErrInvalidCursor)
	}

	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return ArticleCursor{}, fmt.Errorf("%w: bad created_at", ErrInvalidCursor)
	}
	articleID, err := strconv.ParseInt(id, 10, 64)
	if err != nil || articleID <= 0 {
		return ArticleCursor{}, fmt.Errorf("%w: bad article id", ErrInvalidCursor)
	}

	return AfterArticle(ts, articleID), nil
}
