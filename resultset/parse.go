package resultset

import (
	"strconv"
	"strings"

	"github.com/dan-strohschein/mapigo/protocol"
)

// Parse dispatches a server payload to the matching Result variant by its
// 3-byte response prefix ("&1 ".."&6 "). QBLOCK ("&6") is not supported
// and always yields a driver error.
func Parse(payload []byte) (*Result, error) {
	if len(payload) < 2 || payload[0] != '&' {
		return nil, NewParseError("response missing '&' prefix", payload)
	}
	switch payload[1] {
	case '1':
		return parseRows(payload)
	case '2':
		return parseUpsert(payload)
	case '3':
		return parseMeta(payload)
	case '4':
		return parseTxState(payload)
	case '5':
		return nil, NewParseError("&5 prepare response passed to Parse; use ParsePrepared", payload)
	case '6':
		return nil, NewParseError("QBLOCK responses are not supported", payload)
	default:
		return nil, NewParseError("unrecognised response prefix", payload)
	}
}

// sections holds the six newline-separated pieces common to "&1" and "&5"
// payloads: header, tables, column names, column types, lengths, rows.
type sections struct {
	header  string
	tables  string
	columns string
	types   string
	lengths string
	rows    string
}

func splitSections(payload []byte) (*sections, error) {
	parts := strings.SplitN(string(payload), "\n", 6)
	if len(parts) < 6 {
		return nil, NewParseError("expected six newline-separated sections", payload)
	}
	return &sections{
		header:  parts[0],
		tables:  parts[1],
		columns: parts[2],
		types:   parts[3],
		lengths: parts[4],
		rows:    parts[5],
	}, nil
}

// splitLabelledLine splits a "% a,\tb,\tc # label" line into its
// comma-tab-separated fields, ignoring the trailing "# label" marker.
func splitLabelledLine(line string) []string {
	line = strings.TrimPrefix(strings.TrimSpace(line), "%")
	line = strings.TrimSpace(line)
	if idx := strings.LastIndex(line, "#"); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if line == "" {
		return nil
	}
	return strings.Split(line, ",\t")
}

func parseRows(payload []byte) (*Result, error) {
	sec, err := splitSections(payload)
	if err != nil {
		return nil, err
	}

	headerFields := strings.Fields(sec.header)
	if len(headerFields) < 3 {
		return nil, NewParseError("malformed &1 header", payload)
	}
	rowCount, err := strconv.ParseUint(headerFields[2], 10, 64)
	if err != nil {
		return nil, NewParseError("malformed &1 row count", payload)
	}

	columns := splitLabelledLine(sec.columns)
	typeNames := splitLabelledLine(sec.types)
	types := make([]ColumnType, len(typeNames))
	for i, n := range typeNames {
		types[i] = ParseColumnType(n)
	}

	rows, err := parseRowLines(sec.rows, types)
	if err != nil {
		return nil, err
	}

	return &Result{
		Kind:     ResultRows,
		Meta:     []byte(sec.header),
		Columns:  columns,
		Types:    types,
		Rows:     rows,
		RowCount: rowCount,
	}, nil
}

// parseRowLines parses every "[ v1,\tv2,\t...\tvN\t]" line in body
// according to types.
func parseRowLines(body string, types []ColumnType) ([][]Value, error) {
	var rows [][]Value
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		row, err := parseRowLine(line, types)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func trimRowBrackets(line string) (string, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimPrefix(line, "[ ")
	line = strings.TrimSuffix(line, "\t]")
	return line, nil
}

// parseRowLine decodes one row's raw bracketed text into typed Values.
func parseRowLine(line string, types []ColumnType) ([]Value, error) {
	body, err := trimRowBrackets(line)
	if err != nil {
		return nil, err
	}
	values := make([]Value, 0, len(types))
	pos := 0
	for i, ct := range types {
		val, next, sepConsumed, err := parseValueAt(body, pos, ct)
		if err != nil {
			return nil, NewParseError("malformed row value: "+err.Error(), []byte(line))
		}
		values = append(values, val)
		pos = next
		if i == len(types)-1 {
			continue
		}
		if !sepConsumed {
			if pos+2 > len(body) || body[pos] != ',' || body[pos+1] != '\t' {
				return nil, NewParseError("missing value separator", []byte(line))
			}
			pos += 2
		}
	}
	return values, nil
}

// scanUntilComma returns the substring of s starting at pos up to (but not
// including) the next top-level comma, or to the end of s.
func scanUntilComma(s string, pos int) (string, int) {
	idx := strings.IndexByte(s[pos:], ',')
	if idx < 0 {
		return s[pos:], len(s)
	}
	return s[pos : pos+idx], pos + idx
}

var stringEscapes = map[byte]byte{
	'e': 0x1b,
	'f': '\f',
	'n': '\n',
	'r': '\r',
	't': '\t',
	'v': '\v',
	'\\': '\\',
	'\'': '\'',
	'"':  '"',
}

// scanQuotedString reads a "..." literal starting at s[pos] (which must be
// '"'), decoding backslash escapes, and returns the decoded value plus the
// index just past the closing quote.
func scanQuotedString(s string, pos int) (string, int, error) {
	if pos >= len(s) || s[pos] != '"' {
		return "", pos, NewParseError("expected opening quote", []byte(s[pos:]))
	}
	var b strings.Builder
	i := pos + 1
	for i < len(s) {
		c := s[i]
		if c == '"' {
			return b.String(), i + 1, nil
		}
		if c == '\\' && i+1 < len(s) {
			if repl, ok := stringEscapes[s[i+1]]; ok {
				b.WriteByte(repl)
				i += 2
				continue
			}
		}
		b.WriteByte(c)
		i++
	}
	return "", i, NewParseError("unterminated string literal", []byte(s[pos:]))
}

// parseValueAt parses one value of the given ColumnType starting at pos.
// sepConsumed reports whether the reader already consumed the trailing
// value separator (true only for quoted strings, per the "text-terminated
// rest" rule).
func parseValueAt(s string, pos int, ct ColumnType) (Value, int, bool, error) {
	if strings.HasPrefix(s[pos:], "NULL") {
		end := pos + 4
		if end == len(s) || s[end] == ',' || s[end] == '\t' {
			return NullValue(), end, false, nil
		}
	}

	switch ct {
	case ColInt, ColTinyInt, ColSmallInt, ColBigInt, ColHugeInt, ColOID, ColSerial:
		lit, end := scanUntilComma(s, pos)
		n, err := DecodeInt(strings.TrimSpace(lit))
		if err != nil {
			return Value{}, pos, false, err
		}
		return IntValue(n), end, false, nil

	case ColDouble, ColFloat, ColReal:
		lit, end := scanUntilComma(s, pos)
		f, err := DecodeFloat(strings.TrimSpace(lit))
		if err != nil {
			return Value{}, pos, false, err
		}
		return FloatValue(f), end, false, nil

	case ColDecimal:
		lit, end := scanUntilComma(s, pos)
		d, err := DecodeDecimal(strings.TrimSpace(lit))
		if err != nil {
			return Value{}, pos, false, err
		}
		return DecimalValue(d), end, false, nil

	case ColBoolean:
		lit, end := scanUntilComma(s, pos)
		b, err := DecodeBool(strings.TrimSpace(lit))
		if err != nil {
			return Value{}, pos, false, err
		}
		return BoolValue(b), end, false, nil

	case ColChar, ColVarchar, ColClob, ColText:
		str, end, err := scanQuotedString(s, pos)
		if err != nil {
			return Value{}, pos, false, err
		}
		consumed := false
		if end < len(s) && s[end] == ',' {
			end++
			if end < len(s) && s[end] == '\t' {
				end++
			}
			consumed = true
		}
		return StringValue(str), end, consumed, nil

	case ColJSON:
		str, end, err := scanQuotedString(s, pos)
		if err != nil {
			return Value{}, pos, false, err
		}
		if err := ValidateJSON(str); err != nil {
			return Value{}, pos, false, err
		}
		consumed := false
		if end < len(s) && s[end] == ',' {
			end++
			if end < len(s) && s[end] == '\t' {
				end++
			}
			consumed = true
		}
		return JSONValue(str), end, consumed, nil

	case ColUUID:
		if pos+36 > len(s) {
			return Value{}, pos, false, NewParseError("truncated uuid literal", []byte(s[pos:]))
		}
		u, err := DecodeUUID(s[pos : pos+36])
		if err != nil {
			return Value{}, pos, false, err
		}
		return UUIDValue(u), pos + 36, false, nil

	case ColBlob:
		end := pos
		for end < len(s) && s[end] != ',' && s[end] != '\t' {
			end++
		}
		b, err := DecodeBlob(s[pos:end])
		if err != nil {
			return Value{}, pos, false, err
		}
		return BlobValue(b), end, false, nil

	case ColDate:
		lit, end := scanUntilComma(s, pos)
		d, err := DecodeDate(strings.TrimSpace(lit))
		if err != nil {
			return Value{}, pos, false, err
		}
		return DateValueOf(d), end, false, nil

	case ColTime:
		lit, end := scanUntilComma(s, pos)
		t, err := DecodeTime(strings.TrimSpace(lit))
		if err != nil {
			return Value{}, pos, false, err
		}
		return TimeValueOf(t), end, false, nil

	case ColTimestamp:
		lit, end := scanTimestampLiteral(s, pos)
		dt, err := DecodeTimestamp(strings.TrimSpace(lit))
		if err != nil {
			return Value{}, pos, false, err
		}
		return DateTimeValueOf(dt), end, false, nil

	case ColTimestampTZ:
		lit, end := scanTimestampLiteral(s, pos)
		dt, err := DecodeTimestampTZ(strings.TrimSpace(lit))
		if err != nil {
			return Value{}, pos, false, err
		}
		return DateTimeTZValueOf(dt), end, false, nil

	default:
		return Value{}, pos, false, NewParseError("unsupported column type", []byte(ct.String()))
	}
}

// scanTimestampLiteral scans a "date time[.frac][z|Z|+-HH:MM]" literal,
// which contains an embedded space but no top-level comma.
func scanTimestampLiteral(s string, pos int) (string, int) {
	return scanUntilComma(s, pos)
}

func parseUpsert(payload []byte) (*Result, error) {
	fields := strings.Fields(string(payload))
	if len(fields) < 2 {
		return nil, NewParseError("malformed &2 response", payload)
	}
	rowCount, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return nil, NewParseError("malformed &2 row count", payload)
	}
	res := &Result{Kind: ResultUpsert, RowCount: rowCount, Meta: payload}
	if len(fields) >= 3 {
		if id, err := strconv.ParseInt(fields[2], 10, 64); err == nil {
			res.LastID = &id
		}
	}
	return res, nil
}

func parseMeta(payload []byte) (*Result, error) {
	lines := strings.SplitN(string(payload), "\n", 2)
	if len(lines) == 2 && strings.HasPrefix(lines[1], "!") {
		return nil, NewServerErrorFromEmbedded(lines[1])
	}
	meta := strings.TrimSpace(lines[0])
	return &Result{Kind: ResultMeta, Meta: []byte(meta)}, nil
}

func parseTxState(payload []byte) (*Result, error) {
	fields := strings.Fields(string(payload))
	if len(fields) < 2 {
		return nil, NewParseError("malformed &4 response", payload)
	}
	return &Result{Kind: ResultTxState, AutoCommit: fields[1] == "t"}, nil
}

// ParsePrepared parses a "&5" prepare response into its statement id and
// ordered placeholder parameter types.
func ParsePrepared(payload []byte) (*PreparedMetadata, error) {
	sec, err := splitSections(payload)
	if err != nil {
		return nil, err
	}
	headerFields := strings.Fields(sec.header)
	if len(headerFields) < 2 {
		return nil, NewParseError("malformed &5 header", payload)
	}
	id := headerFields[1]

	columns := splitLabelledLine(sec.columns)
	typeIdx := indexOfFold(columns, "type")
	digitsIdx := indexOfFold(columns, "digits")

	var params []ParamType
	for _, line := range strings.Split(sec.rows, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if !strings.HasSuffix(trimmed, "NULL,\tNULL,\tNULL\t]") {
			continue // not a placeholder row
		}
		raw, err := trimRowBrackets(trimmed)
		if err != nil {
			return nil, err
		}
		fields := splitRawFields(raw)
		if typeIdx < 0 || typeIdx >= len(fields) {
			continue
		}
		typeName := unquoteField(fields[typeIdx])
		ct := ParseColumnType(typeName)

		pt := ParamType{Type: ct}
		if isTemporalWithPrecision(ct) && digitsIdx >= 0 && digitsIdx < len(fields) {
			digitsRaw := unquoteField(fields[digitsIdx])
			if digitsRaw != "NULL" {
				if digits, err := strconv.Atoi(digitsRaw); err == nil {
					pt.HasPrecision = true
					pt.Precision = digits - 1
				}
			}
		}
		params = append(params, pt)
	}

	return &PreparedMetadata{ID: id, ParameterTypes: params}, nil
}

func indexOfFold(fields []string, name string) int {
	for i, f := range fields {
		if strings.EqualFold(strings.TrimSpace(f), name) {
			return i
		}
	}
	return -1
}

// splitRawFields splits a row body on ",\t" without interpreting quotes;
// used only for the &5 descriptor rows, whose fields are simple bare
// words or NULL and never contain the separator.
func splitRawFields(body string) []string {
	return strings.Split(body, ",\t")
}

func unquoteField(f string) string {
	f = strings.TrimSpace(f)
	if len(f) >= 2 && f[0] == '"' && f[len(f)-1] == '"' {
		return f[1 : len(f)-1]
	}
	return f
}

// NewServerErrorFromEmbedded parses a "!code!message" line embedded as the
// second line of an &3 response into a server Error.
func NewServerErrorFromEmbedded(line string) error {
	return protocol.NewServerError(strings.TrimPrefix(line, "!"))
}
