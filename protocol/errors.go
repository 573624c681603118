// Package protocol implements the MAPI wire protocol: frame encoding,
// the authentication handshake, and the shared error type every layer of
// the driver reports through.
package protocol

import (
	"strconv"
	"strings"
)

// Source classifies where an Error originated: server-reported,
// network-level, a driver-side parsing or invariant violation, or caller
// misuse.
type Source int

const (
	SourceServer Source = iota
	SourceNetwork
	SourceDriver
	SourceClient
)

func (s Source) String() string {
	switch s {
	case SourceServer:
		return "server"
	case SourceNetwork:
		return "network"
	case SourceDriver:
		return "driver"
	case SourceClient:
		return "client"
	default:
		return "unknown"
	}
}

// Error is the single error shape produced by every component of the
// driver: the Framer, Auth, ResultParser, Prepared, Connection and Pool.
// Code is only meaningful for SourceServer errors and is nil when the
// server payload could not be parsed as "<code>!<message>".
type Error struct {
	Src     Source
	Code    *int32
	Message string
	Details []byte
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Src.String())
	b.WriteByte(' ')
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString("\n\n")
		b.Write(e.Details)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewServerError parses a payload of the form "<decimal_code>!<message>"
// into an Error. If the code segment does not parse as an integer, the
// whole payload is preserved as the message and Code is left nil.
func NewServerError(payload string) *Error {
	if idx := strings.IndexByte(payload, '!'); idx >= 0 {
		if code, err := strconv.ParseInt(payload[:idx], 10, 32); err == nil {
			c := int32(code)
			return &Error{Src: SourceServer, Code: &c, Message: payload[idx+1:]}
		}
	}
	return &Error{Src: SourceServer, Message: payload}
}

// NewNetworkError wraps a transport-level failure (timeout, reset, closed
// socket) as a network Error.
func NewNetworkError(message string, cause error) *Error {
	return &Error{Src: SourceNetwork, Message: message, Cause: cause}
}

// NewDriverError reports a parsing failure or invariant violation, keeping
// the offending raw bytes for diagnostics.
func NewDriverError(message string, details []byte) *Error {
	return &Error{Src: SourceDriver, Message: message, Details: details}
}

// NewClientError reports caller misuse, used by DSN and host:port parsing
// and by argument encoding.
func NewClientError(message string) *Error {
	return &Error{Src: SourceClient, Message: message}
}

// StatementAlreadyDeallocated is the server code returned when the driver
// deallocates a statement the server already dropped after a failed exec.
// Callers must treat it as benign.
const StatementAlreadyDeallocated int32 = 7003

// IsServerCode reports whether err is a server Error carrying the given
// numeric code.
func IsServerCode(err error, code int32) bool {
	pe, ok := err.(*Error)
	if !ok {
		return false
	}
	return pe.Src == SourceServer && pe.Code != nil && *pe.Code == code
}
