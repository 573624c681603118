package query

import (
	"encoding/base64"
	"fmt"

	"github.com/dan-strohschein/mapigo/resultset"
)

// Paginator builds successive pages of a keyset-paginated query over a
// strictly increasing integer column (typically a primary key or
// creation timestamp encoded as an integer).
type Paginator struct {
	table    string
	column   string
	pageSize int
}

// NewPaginator returns a Paginator over table ordered by column.
func NewPaginator(table, column string, pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Paginator{table: table, column: column, pageSize: pageSize}
}

// Page builds the Builder for the page after cursor (empty for the first
// page).
func (p *Paginator) Page(cursor string) (*Builder, error) {
	b := Select(p.table).OrderBy(p.column, Asc).Limit(p.pageSize)
	if cursor == "" {
		return b, nil
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	return b.Where(p.column, Gt, after), nil
}

// NextCursor returns the opaque cursor token for the row after result's
// last row, and false if result has fewer rows than a full page (there
// is no next page).
func (p *Paginator) NextCursor(result *resultset.Result) (string, bool) {
	if len(result.Rows) < p.pageSize {
		return "", false
	}
	colIdx := -1
	for i, c := range result.Columns {
		if c == p.column {
			colIdx = i
			break
		}
	}
	if colIdx < 0 {
		return "", false
	}
	last := result.Rows[len(result.Rows)-1]
	if colIdx >= len(last) || last[colIdx].Int == nil {
		return "", false
	}
	return EncodeCursor(last[colIdx].Int.Int64()), true
}

// EncodeCursor renders an integer keyset position as an opaque,
// URL-safe token.
func EncodeCursor(after int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf("%d", after)))
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(token string) (int64, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, fmt.Errorf("query: malformed cursor: %w", err)
	}
	n, err := parseIntSafe(string(raw))
	if err != nil {
		return 0, fmt.Errorf("query: malformed cursor: %w", err)
	}
	return n, nil
}
