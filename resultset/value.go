package resultset

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

// ValueKind discriminates the Value sum type's populated field.
type ValueKind int

const (
	ValNull ValueKind = iota
	ValInt
	ValFloat
	ValDecimal
	ValBool
	ValString
	ValBlob
	ValDate
	ValTime
	ValDateTime
	ValDateTimeTZ
	ValUUID
	ValJSON
)

// DateValue is a calendar date. Year may legitimately be 1-4 digits: the
// server strips leading zeros.
type DateValue struct {
	Year, Month, Day int
}

// TimeValue is a time-of-day with 0, 3 (milli) or 6 (micro) digits of
// sub-second precision; DecodeTime sets Precision from the number of
// fraction digits in the literal.
type TimeValue struct {
	Hour, Minute, Second, Micro int
	Precision                   int
}

// DateTimeValue is a naive (zone-less) date+time.
type DateTimeValue struct {
	Date DateValue
	Time TimeValue
}

// DateTimeTZValue is a date+time with a UTC offset in seconds. The offset
// is preserved exactly as reported; no IANA zone lookup is performed (see
// DESIGN.md for why "Etc/UTC±HH:MM" is treated as an opaque label rather
// than a real zone).
type DateTimeTZValue struct {
	DateTime      DateTimeValue
	OffsetSeconds int
}

// ZoneLabel renders the synthetic, non-IANA zone name used to round-trip
// the offset: "Etc/UTC+02:00" style.
func (d DateTimeTZValue) ZoneLabel() string {
	sign := "+"
	off := d.OffsetSeconds
	if off < 0 {
		sign = "-"
		off = -off
	}
	return "Etc/UTC" + sign + pad2(off/3600) + ":" + pad2((off%3600)/60)
}

// Value is a tagged union covering every SQL value the driver can carry.
type Value struct {
	Kind ValueKind

	Int        *big.Int
	Float      float64
	Decimal    *apd.Decimal
	Bool       bool
	Str        string
	Blob       []byte
	Date       DateValue
	Time       TimeValue
	DateTime   DateTimeValue
	DateTimeTZ DateTimeTZValue
	UUID       uuid.UUID
}

func NullValue() Value                      { return Value{Kind: ValNull} }
func IntValue(v *big.Int) Value             { return Value{Kind: ValInt, Int: v} }
func FloatValue(v float64) Value            { return Value{Kind: ValFloat, Float: v} }
func DecimalValue(v *apd.Decimal) Value     { return Value{Kind: ValDecimal, Decimal: v} }
func BoolValue(v bool) Value                { return Value{Kind: ValBool, Bool: v} }
func StringValue(v string) Value            { return Value{Kind: ValString, Str: v} }
func BlobValue(v []byte) Value              { return Value{Kind: ValBlob, Blob: v} }
func DateValueOf(v DateValue) Value         { return Value{Kind: ValDate, Date: v} }
func TimeValueOf(v TimeValue) Value         { return Value{Kind: ValTime, Time: v} }
func DateTimeValueOf(v DateTimeValue) Value { return Value{Kind: ValDateTime, DateTime: v} }
func DateTimeTZValueOf(v DateTimeTZValue) Value {
	return Value{Kind: ValDateTimeTZ, DateTimeTZ: v}
}
func UUIDValue(v uuid.UUID) Value { return Value{Kind: ValUUID, UUID: v} }
func JSONValue(v string) Value    { return Value{Kind: ValJSON, Str: v} }

func (v Value) IsNull() bool { return v.Kind == ValNull }

// String renders v for display (CLI output, logging), not for wire
// encoding — see mapidb's encodeArg for the literal form the server
// expects back.
func (v Value) String() string {
	switch v.Kind {
	case ValNull:
		return "NULL"
	case ValInt:
		if v.Int == nil {
			return "NULL"
		}
		return v.Int.String()
	case ValFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ValDecimal:
		if v.Decimal == nil {
			return "NULL"
		}
		return v.Decimal.String()
	case ValBool:
		return strconv.FormatBool(v.Bool)
	case ValString, ValJSON:
		return v.Str
	case ValBlob:
		return hex.EncodeToString(v.Blob)
	case ValDate:
		return formatDateValue(v.Date)
	case ValTime:
		return formatTimeValue(v.Time)
	case ValDateTime:
		return formatDateValue(v.DateTime.Date) + " " + formatTimeValue(v.DateTime.Time)
	case ValDateTimeTZ:
		return formatDateValue(v.DateTimeTZ.DateTime.Date) + " " +
			formatTimeValue(v.DateTimeTZ.DateTime.Time) + " " + v.DateTimeTZ.ZoneLabel()
	case ValUUID:
		return v.UUID.String()
	default:
		return ""
	}
}

func formatDateValue(d DateValue) string {
	return strconv.Itoa(d.Year) + "-" + pad2(d.Month) + "-" + pad2(d.Day)
}

func formatTimeValue(t TimeValue) string {
	base := pad2(t.Hour) + ":" + pad2(t.Minute) + ":" + pad2(t.Second)
	switch t.Precision {
	case 3:
		return base + "." + padN(t.Micro/1000, 3)
	case 6:
		return base + "." + padN(t.Micro, 6)
	default:
		return base
	}
}

func padN(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

func pad2(n int) string {
	s := strconv.Itoa(n)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}

// DecodeInt parses a decimal integer, including signed 128-bit hugeint
// values, into a *big.Int.
func DecodeInt(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, NewParseError("invalid integer literal", []byte(s))
	}
	return n, nil
}

// DecodeFloat parses a decimal floating point literal.
func DecodeFloat(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, NewParseError("invalid float literal", []byte(s))
	}
	return f, nil
}

// DecodeDecimal parses an arbitrary-precision decimal literal.
func DecodeDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, NewParseError("invalid decimal literal", []byte(s))
	}
	return d, nil
}

// DecodeBool parses "true"/"false".
func DecodeBool(s string) (bool, error) {
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, NewParseError("invalid boolean literal", []byte(s))
	}
}

// DecodeUUID parses a fixed 36-character UUID literal.
func DecodeUUID(s string) (uuid.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, NewParseError("invalid uuid literal", []byte(s))
	}
	return u, nil
}

// DecodeBlob base16-decodes a hex-encoded blob literal.
func DecodeBlob(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, NewParseError("invalid blob hex literal", []byte(s))
	}
	return b, nil
}

// ValidateJSON checks that s's body is well-formed JSON, as required for
// json-kind Values.
func ValidateJSON(s string) error {
	if !json.Valid([]byte(s)) {
		return NewParseError("invalid json literal", []byte(s))
	}
	return nil
}

// DecodeDate parses "Y[YYY]-MM-DD", accepting any 1-4 digit year.
func DecodeDate(s string) (DateValue, error) {
	parts := strings.SplitN(s, "-", 3)
	if len(parts) != 3 {
		return DateValue{}, NewParseError("invalid date literal", []byte(s))
	}
	y, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	d, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return DateValue{}, NewParseError("invalid date literal", []byte(s))
	}
	return DateValue{Year: y, Month: m, Day: d}, nil
}

// DecodeTime parses "HH:MM:SS" with an optional ".fff" or ".ffffff"
// fractional part; the digit count of the fraction determines Precision
// (0, 3, or 6).
func DecodeTime(s string) (TimeValue, error) {
	main := s
	frac := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		main = s[:idx]
		frac = s[idx+1:]
	}
	hms := strings.SplitN(main, ":", 3)
	if len(hms) != 3 {
		return TimeValue{}, NewParseError("invalid time literal", []byte(s))
	}
	h, err1 := strconv.Atoi(hms[0])
	mi, err2 := strconv.Atoi(hms[1])
	se, err3 := strconv.Atoi(hms[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return TimeValue{}, NewParseError("invalid time literal", []byte(s))
	}
	tv := TimeValue{Hour: h, Minute: mi, Second: se}
	switch len(frac) {
	case 0:
		tv.Precision = 0
	case 3:
		millis, err := strconv.Atoi(frac)
		if err != nil {
			return TimeValue{}, NewParseError("invalid time fraction", []byte(s))
		}
		tv.Micro = millis * 1000
		tv.Precision = 3
	case 6:
		micros, err := strconv.Atoi(frac)
		if err != nil {
			return TimeValue{}, NewParseError("invalid time fraction", []byte(s))
		}
		tv.Micro = micros
		tv.Precision = 6
	default:
		return TimeValue{}, NewParseError("invalid time fraction length", []byte(s))
	}
	return tv, nil
}

// DecodeTimestamp parses "<date> <time>".
func DecodeTimestamp(s string) (DateTimeValue, error) {
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return DateTimeValue{}, NewParseError("invalid timestamp literal", []byte(s))
	}
	d, err := DecodeDate(s[:idx])
	if err != nil {
		return DateTimeValue{}, err
	}
	t, err := DecodeTime(s[idx+1:])
	if err != nil {
		return DateTimeValue{}, err
	}
	return DateTimeValue{Date: d, Time: t}, nil
}

// DecodeTimestampTZ parses "<timestamp><z|Z|±HH:MM>". The offset in
// seconds is sign * (HH*3600 + MM*60).
func DecodeTimestampTZ(s string) (DateTimeTZValue, error) {
	if strings.HasSuffix(s, "z") || strings.HasSuffix(s, "Z") {
		dt, err := DecodeTimestamp(s[:len(s)-1])
		if err != nil {
			return DateTimeTZValue{}, err
		}
		return DateTimeTZValue{DateTime: dt}, nil
	}

	// Find the last +/- that starts the offset suffix; the timestamp
	// itself never contains one after the date's leading digits.
	signIdx := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '+' || s[i] == '-' {
			signIdx = i
			break
		}
		if s[i] == ' ' {
			break
		}
	}
	if signIdx < 0 {
		return DateTimeTZValue{}, NewParseError("invalid timestamptz literal", []byte(s))
	}
	dt, err := DecodeTimestamp(s[:signIdx])
	if err != nil {
		return DateTimeTZValue{}, err
	}
	offsetStr := s[signIdx:]
	sign := 1
	if offsetStr[0] == '-' {
		sign = -1
	}
	hm := strings.SplitN(offsetStr[1:], ":", 2)
	if len(hm) != 2 {
		return DateTimeTZValue{}, NewParseError("invalid timestamptz offset", []byte(s))
	}
	h, err1 := strconv.Atoi(hm[0])
	m, err2 := strconv.Atoi(hm[1])
	if err1 != nil || err2 != nil {
		return DateTimeTZValue{}, NewParseError("invalid timestamptz offset", []byte(s))
	}
	return DateTimeTZValue{DateTime: dt, OffsetSeconds: sign * (h*3600 + m*60)}, nil
}
