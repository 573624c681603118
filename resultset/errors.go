package resultset

import "github.com/dan-strohschein/mapigo/protocol"

// NewParseError reports a structural violation found while parsing a
// server payload, carrying the offending raw bytes for diagnostics.
func NewParseError(message string, raw []byte) *protocol.Error {
	return protocol.NewDriverError(message, raw)
}
