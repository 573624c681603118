package mapidb

import (
	"encoding/json"
	"fmt"

	"github.com/dan-strohschein/mapigo/protocol"
)

// Error is the single error shape callers see, regardless of which core
// component (Framer, Auth, ResultParser, Prepared, Connection, Pool)
// raised it.
type Error = protocol.Error

// Source re-exports protocol.Source so callers never need to import
// protocol directly to inspect an Error's origin.
type Source = protocol.Source

const (
	SourceServer  = protocol.SourceServer
	SourceNetwork = protocol.SourceNetwork
	SourceDriver  = protocol.SourceDriver
	SourceClient  = protocol.SourceClient
)

// FormatError renders err in the user-visible "<source> <message>" form,
// appending "\n\n<details>" when details are present. In debug mode it
// instead renders a JSON diagnostic including the error chain.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}
	pe, ok := err.(*protocol.Error)
	if !ok {
		return err.Error()
	}
	if !debugMode {
		return pe.Error()
	}

	type debugForm struct {
		Source  string `json:"source"`
		Code    *int32 `json:"code,omitempty"`
		Message string `json:"message"`
		Details string `json:"details,omitempty"`
		Cause   string `json:"cause,omitempty"`
	}
	df := debugForm{
		Source:  pe.Src.String(),
		Code:    pe.Code,
		Message: pe.Message,
		Details: string(pe.Details),
	}
	if pe.Cause != nil {
		df.Cause = pe.Cause.Error()
	}
	b, marshalErr := json.Marshal(df)
	if marshalErr != nil {
		return fmt.Sprintf("%s %s", pe.Src, pe.Message)
	}
	return string(b)
}

// IsBenignDeallocateError reports whether err is the server's benign
// "statement already deallocated" response (code 7003), which callers of
// Prepared.Close must not treat as a failure.
func IsBenignDeallocateError(err error) bool {
	return protocol.IsServerCode(err, protocol.StatementAlreadyDeallocated)
}
