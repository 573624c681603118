// Package query provides a small SQL builder, row-reshaping helpers, and
// cursor-based pagination on top of mapidb — the external collaborators a
// caller layers over the core driver, kept out of mapidb itself the way
// the teacher keeps its own query-construction helpers (client/query.go,
// client/builder.go) separate from the connection/transport internals.
package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Op is a comparison operator usable in a Where clause.
type Op string

const (
	Eq  Op = "="
	Neq Op = "<>"
	Lt  Op = "<"
	Lte Op = "<="
	Gt  Op = ">"
	Gte Op = ">="
	In  Op = "IN"
)

// Direction is an ORDER BY sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

type condition struct {
	field string
	op    Op
	value interface{}
}

type orderTerm struct {
	field string
	dir   Direction
}

// Builder is a fluent SELECT statement builder that emits a MAPI "?"
// placeholder query and its positional argument list. The arguments are
// the plain Go values passed to Where, not resultset.Value.
type Builder struct {
	table      string
	columns    []string
	conditions []condition
	order      []orderTerm
	limit      int
	hasLimit   bool
	offset     int
	hasOffset  bool
}

// Select starts a builder over table, projecting columns (all columns if
// none given).
func Select(table string, columns ...string) *Builder {
	return &Builder{table: table, columns: columns}
}

// Where adds an AND-ed condition. Calling Where repeatedly accumulates
// conditions; there is no OR support, matching the teacher's builder.go
// TODO note that only AND/OR/NOT was ever planned, never implemented.
func (b *Builder) Where(field string, op Op, value interface{}) *Builder {
	b.conditions = append(b.conditions, condition{field: field, op: op, value: value})
	return b
}

// OrderBy appends a sort term.
func (b *Builder) OrderBy(field string, dir Direction) *Builder {
	b.order = append(b.order, orderTerm{field: field, dir: dir})
	return b
}

// Limit sets a row cap.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	b.hasLimit = true
	return b
}

// Offset sets a row skip count.
func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	b.hasOffset = true
	return b
}

// Build renders the SQL text (with "?" placeholders in condition order)
// and the matching positional argument slice.
func (b *Builder) Build() (string, []interface{}) {
	cols := "*"
	if len(b.columns) > 0 {
		cols = strings.Join(b.columns, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, b.table)

	args := make([]interface{}, 0, len(b.conditions))
	if len(b.conditions) > 0 {
		clauses := make([]string, len(b.conditions))
		for i, c := range b.conditions {
			if c.op == In {
				values, _ := c.value.([]interface{})
				placeholders := make([]string, len(values))
				for j, v := range values {
					placeholders[j] = "?"
					args = append(args, v)
				}
				clauses[i] = fmt.Sprintf("%s IN (%s)", c.field, strings.Join(placeholders, ", "))
				continue
			}
			clauses[i] = fmt.Sprintf("%s %s ?", c.field, c.op)
			args = append(args, c.value)
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(clauses, " AND "))
	}

	if len(b.order) > 0 {
		terms := make([]string, len(b.order))
		for i, o := range b.order {
			terms[i] = fmt.Sprintf("%s %s", o.field, o.dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(terms, ", "))
	}

	if b.hasLimit {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	if b.hasOffset {
		fmt.Fprintf(&sb, " OFFSET %d", b.offset)
	}

	return sb.String(), args
}

var placeholderRegexp = regexp.MustCompile(`\?`)

// CountPlaceholders reports how many "?" positional placeholders appear
// in a hand-written query, for callers assembling their own SQL text
// instead of going through Builder.
func CountPlaceholders(sql string) int {
	return len(placeholderRegexp.FindAllStringIndex(sql, -1))
}

// ValidateIdentifier checks a column/table name against the conservative
// character set the server accepts unquoted.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("query: identifier cannot be empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		alnum := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
		if !alnum && c != '_' && c != '.' {
			return fmt.Errorf("query: invalid identifier %q", name)
		}
	}
	return nil
}

// parseIntSafe is a small helper shared by cursor.go for decoding opaque
// cursor tokens without pulling in strconv at every call site.
func parseIntSafe(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
