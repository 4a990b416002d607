package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor is the position encoded into an opaque page token. Listings ordered by creation time
// use CreatedAt and ID; listings ordered by key use ID alone.
type Cursor struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	Position  int       `json:"position,omitempty"`
}

// EncodeToken serialises cursor into a URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. An empty token yields a nil cursor.
func DecodeToken(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if strings.TrimSpace(cursor.ID) == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidPageToken)
	}
	return &cursor, nil
}

// Trim cuts a result fetched with limit pageSize+1 and returns the token for the next page,
// built from the last kept item. The token is empty on the final page.
func Trim[T any](items []T, pageSize int, cursorOf func(T) Cursor) ([]T, string, error) {
	if pageSize <= 0 || len(items) <= pageSize {
		return items, "", nil
	}
	items = items[:pageSize]
	token, err := EncodeToken(cursorOf(items[len(items)-1]))
	if err != nil {
		return nil, "", err
	}
	return items, token, nil
}
