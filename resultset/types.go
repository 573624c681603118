// Package resultset holds the driver's data model — Value, ColumnType,
// ParamType, Result — and the textual parser that turns a server payload
// into those types.
package resultset

import "strings"

// ColumnType enumerates every SQL type the wire protocol can describe.
type ColumnType int

const (
	ColInt ColumnType = iota
	ColTinyInt
	ColSmallInt
	ColBigInt
	ColHugeInt
	ColOID
	ColSerial
	ColDouble
	ColFloat
	ColReal
	ColDecimal
	ColBoolean
	ColChar
	ColVarchar
	ColClob
	ColText
	ColJSON
	ColUUID
	ColBlob
	ColTime
	ColDate
	ColTimestamp
	ColTimestampTZ
	ColUnknown
)

var columnTypeNames = map[ColumnType]string{
	ColInt:         "int",
	ColTinyInt:     "tinyint",
	ColSmallInt:    "smallint",
	ColBigInt:      "bigint",
	ColHugeInt:     "hugeint",
	ColOID:         "oid",
	ColSerial:      "serial",
	ColDouble:      "double",
	ColFloat:       "float",
	ColReal:        "real",
	ColDecimal:     "decimal",
	ColBoolean:     "boolean",
	ColChar:        "char",
	ColVarchar:     "varchar",
	ColClob:        "clob",
	ColText:        "text",
	ColJSON:        "json",
	ColUUID:        "uuid",
	ColBlob:        "blob",
	ColTime:        "time",
	ColDate:        "date",
	ColTimestamp:   "timestamp",
	ColTimestampTZ: "timestamptz",
}

var namesToColumnType = func() map[string]ColumnType {
	m := make(map[string]ColumnType, len(columnTypeNames))
	for k, v := range columnTypeNames {
		m[v] = k
	}
	return m
}()

func (c ColumnType) String() string {
	if n, ok := columnTypeNames[c]; ok {
		return n
	}
	return "unknown"
}

// ParseColumnType maps a server type name to a ColumnType, ignoring any
// parenthesised precision/width suffix.
func ParseColumnType(name string) ColumnType {
	name = strings.ToLower(strings.TrimSpace(name))
	if idx := strings.IndexByte(name, '('); idx >= 0 {
		name = name[:idx]
	}
	if ct, ok := namesToColumnType[name]; ok {
		return ct
	}
	return ColUnknown
}

// isTemporalWithPrecision reports whether ct is one of the three types
// that carry a 0/3/6-digit sub-second precision.
func isTemporalWithPrecision(ct ColumnType) bool {
	return ct == ColTime || ct == ColTimestamp || ct == ColTimestampTZ
}

// ParamType describes one placeholder's expected argument encoding: a
// plain ColumnType, or a temporal type carrying an explicit precision.
type ParamType struct {
	Type         ColumnType
	HasPrecision bool
	Precision    int
}

// Result is the discriminated value the ResultParser produces.
type Result struct {
	Kind ResultKind

	// Rows fields.
	Meta     []byte
	Columns  []string
	Types    []ColumnType
	Rows     [][]Value
	RowCount uint64

	// Upsert fields.
	LastID *int64

	// TxState field.
	AutoCommit bool
}

// ResultKind discriminates the Result variants.
type ResultKind int

const (
	ResultRows ResultKind = iota
	ResultUpsert
	ResultMeta
	ResultTxState
)

// PreparedMetadata is what a "&5" prepare response yields: the
// server-assigned statement id and the ordered placeholder types.
type PreparedMetadata struct {
	ID             string
	ParameterTypes []ParamType
}
