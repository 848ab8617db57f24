package chessdto

import "errors"

var (
	ErrMalformedMessage   = errors.New("malformed message")
	ErrUnknownMessageType = errors.New("unknown message_type")
	ErrTurnEncoding       = errors.New("unrecognized color or turn encoding")
)

// ProtocolError reports an inbound frame that does not match the message
// schema. The channel that produced it is still usable.
type ProtocolError struct {
	Code    string
	Message string
	Raw     []byte
	Err     error
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return "protocol error"
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErr(code string, err error, raw []byte, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Message: msg, Raw: append([]byte(nil), raw...), Err: err}
}

// IsProtocolError reports whether err carries a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
