package pagination

import (
	"encoding/base64"
	"encoding/json"
)

// Pagination carries the cursor query parameters of a list request.
type Pagination struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit,default=50" validate:"gte=1,lte=250"`
}

// Cursor points at the last row of a page. CreatedAt is RFC3339Nano.
type Cursor struct {
	CreatedAt string `json:"created_at,omitempty"`
	ID        string `json:"id,omitempty"`
}

type PageInfo struct {
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// EncodeCursor serializes a cursor as opaque base64 JSON.
func EncodeCursor(c Cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func DecodeCursor(raw string) (*Cursor, error) {
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// BuildCursorPageInfo derives page info from a result fetched with
// limit+1 rows. The extra row, when present, signals another page.
func BuildCursorPageInfo[T any](rows []*T, limit int32, cursorOf func(*T) string) *PageInfo {
	if len(rows) == 0 {
		return &PageInfo{}
	}

	hasMore := len(rows) > int(limit)
	if hasMore {
		rows = rows[:limit]
	}
	return &PageInfo{
		HasMore:    hasMore,
		NextCursor: cursorOf(rows[len(rows)-1]),
	}
}
