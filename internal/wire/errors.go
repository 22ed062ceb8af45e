package wire

import "errors"

// Error codes for protocol violations.
const (
	ErrCodePayloadTooLarge = "payload_too_large"
	ErrCodeBadHandshake    = "bad_handshake"
)

var (
	// ErrNotConnected is returned when a channel has no live endpoint.
	ErrNotConnected = errors.New("channel not connected")
	// ErrClosed is returned by Receive after the peer hung up or the channel was shut down.
	ErrClosed = errors.New("channel closed")
)

// TransportError reports an I/O failure in the middle of a frame.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a frame that breaks the protocol rules. The channel stays usable.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Code + ": " + e.Message
}

func protocolError(code, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Message: msg}
}

// IsProtocolError reports whether err carries a *ProtocolError.
func IsProtocolError(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}
