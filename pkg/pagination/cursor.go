package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Cursor is the opaque pagination token for grouped metric listings, before
// encoding. Short field names keep the token small. It is serialized to
// minified JSON and encoded with URL-safe base64.
//
// Fields:
//   - v:   version of the cursor schema
//   - did: dataset ID
//   - dim: attribution dimension
//   - sb:  sort key
//   - wh:  window hash ("" when unbounded)
//   - ml:  minimum lead filter
//   - off: offset in groups from the start of the sorted listing
//   - ps:  page size in groups
//   - iat: issued-at timestamp (unix seconds)
type Cursor struct {
	V   int    `json:"v"`
	Did string `json:"did"`
	Dim string `json:"dim"`
	Sb  string `json:"sb"`
	Wh  string `json:"wh,omitempty"`
	Ml  int    `json:"ml,omitempty"`
	Off int    `json:"off"`
	Ps  int    `json:"ps"`
	Iat int64  `json:"iat"`
}

// EncodeCursor serializes and encodes the cursor as URL-safe base64 (without padding).
func EncodeCursor(c Cursor) (string, error) {
	if err := validate(&c); err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor decodes a URL-safe base64 token and parses the JSON cursor.
func DecodeCursor(token string) (*Cursor, error) {
	t := strings.TrimSpace(token)
	if t == "" {
		return nil, errors.New("cursor: empty token")
	}
	data, err := base64.RawURLEncoding.DecodeString(t)
	if err != nil {
		return nil, fmt.Errorf("cursor: invalid base64: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cursor: invalid json: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func validate(c *Cursor) error {
	if c.V <= 0 {
		c.V = 1
	}
	if c.Iat == 0 {
		c.Iat = time.Now().Unix()
	}
	if strings.TrimSpace(c.Did) == "" {
		return errors.New("cursor: did (dataset id) required")
	}
	if strings.TrimSpace(c.Dim) == "" {
		return errors.New("cursor: dim (dimension) required")
	}
	if strings.TrimSpace(c.Sb) == "" {
		return errors.New("cursor: sb (sort key) required")
	}
	if c.Off < 0 {
		return errors.New("cursor: off must be >= 0")
	}
	if c.Ps <= 0 {
		return errors.New("cursor: ps must be > 0")
	}
	if c.Ml < 0 {
		c.Ml = 0
	}
	return nil
}

// WindowHash fingerprints a window's bounds for cursor binding. Zero bounds
// hash to "".
func WindowHash(start, end time.Time) string {
	if start.IsZero() && end.IsZero() {
		return ""
	}
	return fmt.Sprintf("%x.%x", start.Unix(), end.Unix())
}

// Page slices total items starting at offset. It returns the bounds and the
// next offset, or -1 when the page is the last one.
func Page(total, offset, size int) (start, end, next int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end = offset + size
	if size <= 0 || end > total {
		end = total
	}
	next = -1
	if end < total {
		next = end
	}
	return offset, end, next
}
