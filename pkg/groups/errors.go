// Package groups keeps a device's cached group membership up to date by
// exchanging a request and a response over a publish/subscribe transport.
package groups

import "errors"

var (
	// ErrParse indicates a response payload could not be decoded.
	ErrParse = errors.New("malformed group payload")

	// ErrResponseTimeout indicates no response arrived before the response timeout.
	ErrResponseTimeout = errors.New("group response timed out")

	// ErrTransportUnavailable indicates the transport is not connected.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrInvalidConfig indicates a scheduler configuration that cannot be used.
	ErrInvalidConfig = errors.New("invalid retrieval configuration")
)

// IsParseError checks if an error came from decoding a response payload.
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}
