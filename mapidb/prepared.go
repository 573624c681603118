package mapidb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dan-strohschein/mapigo/protocol"
	"github.com/dan-strohschein/mapigo/resultset"
)

// Prepared represents a server-side prepared statement. Its id is only
// meaningful against the Connection that produced it.
type Prepared struct {
	ID             string
	ParameterTypes []resultset.ParamType
	conn           *Connection
}

// NewPrepared sends "prepare <sql>" and parses the resulting "&5"
// response into a Prepared handle.
func NewPrepared(conn *Connection, sql string) (*Prepared, error) {
	if err := conn.framer.SendText("prepare " + sql); err != nil {
		return nil, err
	}
	raw, err := conn.framer.Receive()
	if err != nil {
		return nil, err
	}
	meta, err := resultset.ParsePrepared(raw)
	if err != nil {
		return nil, err
	}
	return &Prepared{ID: meta.ID, ParameterTypes: meta.ParameterTypes, conn: conn}, nil
}

// Exec encodes args against the statement's declared parameter types and
// sends "exec <id>(<args>)".
func (p *Prepared) Exec(args []resultset.Value) (*resultset.Result, error) {
	encoded, err := p.EncodeArgs(args)
	if err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf("exec %s(%s)", p.ID, encoded)
	if err := p.conn.framer.SendText(cmd); err != nil {
		return nil, err
	}
	raw, err := p.conn.framer.Receive()
	if err != nil {
		return nil, err
	}
	return resultset.Parse(raw)
}

// Close deallocates the statement. Server code 7003 (already deallocated,
// e.g. after a failed exec) is returned as-is; callers must treat it as
// benign via IsBenignDeallocateError.
func (p *Prepared) Close() error {
	if err := p.conn.framer.SendText("deallocate " + p.ID); err != nil {
		return err
	}
	raw, err := p.conn.framer.Receive()
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	_, err = resultset.Parse(raw)
	return err
}

// EncodeArgs renders args as the comma-separated "arg1,arg2,..." body of
// an exec command, following each parameter's declared encoding. If args
// is shorter than ParameterTypes, only the supplied arguments are
// emitted and the server surfaces any arity error.
func (p *Prepared) EncodeArgs(args []resultset.Value) (string, error) {
	n := len(args)
	if n > len(p.ParameterTypes) {
		n = len(p.ParameterTypes)
	}
	parts := make([]string, 0, len(args))
	for i, v := range args {
		var pt resultset.ParamType
		if i < len(p.ParameterTypes) {
			pt = p.ParameterTypes[i]
		}
		lit, err := encodeArg(v, pt)
		if err != nil {
			return "", err
		}
		parts = append(parts, lit)
	}
	return strings.Join(parts, ","), nil
}

// encodeArg renders one Value as a MAPI argument literal per its kind and
// declared parameter type.
func encodeArg(v resultset.Value, pt resultset.ParamType) (string, error) {
	if v.IsNull() {
		return "NULL", nil
	}
	switch v.Kind {
	case resultset.ValInt:
		return v.Int.String(), nil
	case resultset.ValFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64), nil
	case resultset.ValDecimal:
		return v.Decimal.String(), nil
	case resultset.ValBool:
		if v.Bool {
			return "true", nil
		}
		return "false", nil
	case resultset.ValString:
		return "'" + escapeStringLiteral(v.Str) + "'", nil
	case resultset.ValBlob:
		return "blob '" + hexEncode(v.Blob) + "'", nil
	case resultset.ValJSON:
		return "json '" + escapeStringLiteral(v.Str) + "'", nil
	case resultset.ValUUID:
		return "uuid '" + v.UUID.String() + "'", nil
	case resultset.ValTime:
		return timeLiteral("time", formatTime(v.Time, pt), pt), nil
	case resultset.ValDate:
		return "date '" + formatDate(v.Date) + "'", nil
	case resultset.ValDateTime:
		return timeLiteral("timestamp", formatDateTime(v.DateTime, pt), pt), nil
	case resultset.ValDateTimeTZ:
		return timeLiteral("timestamptz", formatDateTimeTZ(v.DateTimeTZ, pt), pt), nil
	default:
		return "", protocol.NewClientError("cannot encode value of unknown kind")
	}
}

func timeLiteral(prefix, body string, pt resultset.ParamType) string {
	if pt.HasPrecision {
		return fmt.Sprintf("%s(%d) '%s'", prefix, pt.Precision, body)
	}
	return prefix + " '" + body + "'"
}

func escapeStringLiteral(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '\'' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

func formatDate(d resultset.DateValue) string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// formatTime renders "HH:MM:SS" with a fractional suffix sized to the
// parameter type's declared precision when present, otherwise the
// value's own precision.
func formatTime(t resultset.TimeValue, pt resultset.ParamType) string {
	precision := t.Precision
	if pt.HasPrecision {
		precision = pt.Precision
	}
	base := fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	switch precision {
	case 3:
		return base + fmt.Sprintf(".%03d", t.Micro/1000)
	case 6:
		return base + fmt.Sprintf(".%06d", t.Micro)
	default:
		return base
	}
}

func formatDateTime(dt resultset.DateTimeValue, pt resultset.ParamType) string {
	return formatDate(dt.Date) + " " + formatTime(dt.Time, pt)
}

func formatDateTimeTZ(dt resultset.DateTimeTZValue, pt resultset.ParamType) string {
	off := dt.OffsetSeconds
	sign := "+"
	if off < 0 {
		sign = "-"
		off = -off
	}
	offset := fmt.Sprintf("%s%02d:%02d", sign, off/3600, (off%3600)/60)
	return formatDateTime(dt.DateTime, pt) + offset
}
