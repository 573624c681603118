package mapidb

import (
	"encoding/json"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dan-strohschein/mapigo/protocol"
)

// LogLevel is the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a case-insensitive string to a LogLevel,
// defaulting to LevelInfo.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Field is a structured logging key/value pair.
type Field struct {
	Key   string
	Value interface{}
}

func FieldString(key, val string) Field  { return Field{Key: key, Value: val} }
func FieldInt(key string, val int) Field { return Field{Key: key, Value: val} }
func FieldInt64(key string, val int64) Field {
	return Field{Key: key, Value: val}
}
func FieldFloat64(key string, val float64) Field { return Field{Key: key, Value: val} }
func FieldBool(key string, val bool) Field       { return Field{Key: key, Value: val} }
func FieldDuration(key string, val time.Duration) Field {
	return Field{Key: key, Value: val.String()}
}
// FieldError logs err. Every error this driver raises is a *protocol.Error
// (see mapidb/errors.go's Error alias); for those, FieldError folds the
// wire-level Source and, when present, the numeric server Code in as
// sibling JSON fields instead of collapsing them into the message string,
// so a log pipeline can filter "source":"network" failures from
// "source":"server" ones without parsing text.
func FieldError(key string, err error) Field {
	if err == nil {
		return Field{Key: key, Value: nil}
	}
	if pe, ok := err.(*protocol.Error); ok {
		return Field{Key: key, Value: protocolErrorDetail{
			Message: pe.Message,
			Source:  pe.Src.String(),
			Code:    pe.Code,
		}}
	}
	return Field{Key: key, Value: err.Error()}
}

// protocolErrorDetail is the JSON shape FieldError renders a *protocol.Error
// as.
type protocolErrorDetail struct {
	Message string `json:"message"`
	Source  string `json:"source"`
	Code    *int32 `json:"code,omitempty"`
}

// Logger is the structured logging interface every core component logs
// through.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

type jsonLogger struct {
	out        *log.Logger
	minLevel   LogLevel
	baseFields []Field
}

// NewLogger builds a Logger that writes one JSON object per line to
// output, at or above level.
func NewLogger(level string, output io.Writer) Logger {
	if output == nil {
		output = os.Stdout
	}
	return &jsonLogger{
		out:      log.New(output, "", 0),
		minLevel: ParseLogLevel(level),
	}
}

// NewDefaultLogger builds an INFO-level Logger writing to stdout.
func NewDefaultLogger() Logger {
	return NewLogger("INFO", os.Stdout)
}

func (l *jsonLogger) Debug(msg string, fields ...Field) { l.log(LevelDebug, msg, fields...) }
func (l *jsonLogger) Info(msg string, fields ...Field)  { l.log(LevelInfo, msg, fields...) }
func (l *jsonLogger) Warn(msg string, fields ...Field)  { l.log(LevelWarn, msg, fields...) }
func (l *jsonLogger) Error(msg string, fields ...Field) { l.log(LevelError, msg, fields...) }

func (l *jsonLogger) WithFields(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.baseFields)+len(fields))
	merged = append(merged, l.baseFields...)
	merged = append(merged, fields...)
	return &jsonLogger{out: l.out, minLevel: l.minLevel, baseFields: merged}
}

func (l *jsonLogger) log(level LogLevel, msg string, fields ...Field) {
	if level < l.minLevel {
		return
	}
	all := make([]Field, 0, len(l.baseFields)+len(fields)+3)
	all = append(all,
		Field{Key: "timestamp", Value: time.Now().Format(time.RFC3339Nano)},
		Field{Key: "level", Value: level.String()},
		Field{Key: "message", Value: msg},
	)
	all = append(all, l.baseFields...)
	all = append(all, fields...)
	all = redactSensitive(all)

	logMap := make(map[string]interface{}, len(all))
	for _, f := range all {
		logMap[f.Key] = f.Value
	}
	b, err := json.Marshal(logMap)
	if err != nil {
		l.out.Printf(`{"level":"ERROR","message":"failed to marshal log","error":%q}`, err.Error())
		return
	}
	l.out.Println(string(b))
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"secret":        true,
	"authorization": true,
	"api_key":       true,
	"apikey":        true,
	"auth":          true,
}

func redactSensitive(fields []Field) []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		if sensitiveKeys[strings.ToLower(f.Key)] {
			out[i] = Field{Key: f.Key, Value: "[REDACTED]"}
		} else {
			out[i] = f
		}
	}
	return out
}

// noopLogger discards everything; used whenever Options.Logger is left
// nil, including when DebugMode is set.
type noopLogger struct{}

func (noopLogger) Debug(string, ...Field)      {}
func (noopLogger) Info(string, ...Field)       {}
func (noopLogger) Warn(string, ...Field)       {}
func (noopLogger) Error(string, ...Field)      {}
func (noopLogger) WithFields(...Field) Logger  { return noopLogger{} }

// NewNoopLogger returns a Logger that discards all output.
func NewNoopLogger() Logger { return noopLogger{} }
