package server

import "github.com/meshgate/gateway/errors"

// Sentinel errors for common cases
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized indicates the request lacks proper authentication
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the request is not allowed for this mode/method/callId
	ErrForbidden = errors.New("forbidden")

	// ErrDisconnected indicates a node/client a call targeted is not
	// currently connected, and the method does not allowDisconnected.
	ErrDisconnected = errors.New("target not connected")

	// ErrUnknownMethod indicates the dispatcher has no handler registered
	// for the requested RPC method.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrConflict indicates the request conflicts with current state
	// (e.g. a connected node refusing node.forget).
	ErrConflict = errors.New("conflict")

	// ErrNotImplemented marks a method recognized by the registry but not
	// yet built (canvas.*).
	ErrNotImplemented = errors.New("not implemented")

	// ErrTimeout indicates a pending operation expired before it was resolved.
	ErrTimeout = errors.New("timeout")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNotFound)
}

// ErrorCode is the wire-level taxonomy carried in a frame's error field,
// using the gateway protocol's numeric codes rather than HTTP status
// codes proper (101/102/103 have no HTTP equivalent — they're WebSocket
// session-state errors).
type ErrorCode int

const (
	CodeNotConnected      ErrorCode = 101 // req before connect handshake completed
	CodeUnsupportedProto  ErrorCode = 102 // client{protocol} mismatch
	CodeInvalidMode       ErrorCode = 103 // connect requested an invalid client mode/runtime
	CodeBadParams         ErrorCode = 400
	CodeUnauthorized      ErrorCode = 401
	CodeForbidden         ErrorCode = 403 // not authorized for this method/mode/callId
	CodeNotFound          ErrorCode = 404 // unknown method/callId/tool/target
	CodeConflict          ErrorCode = 409
	CodeInternal          ErrorCode = 500
	CodeNotImplemented    ErrorCode = 501 // canvas.* todo
	CodeDownstreamOffline ErrorCode = 503 // node/channel not connected
	CodeTimeout           ErrorCode = 504
)

// GatewayError is the shape serialized into a frame's "error" field.
type GatewayError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
}

func (e *GatewayError) Error() string {
	return e.Message
}

// NewGatewayError builds a GatewayError from a code and message.
func NewGatewayError(code ErrorCode, message string) *GatewayError {
	return &GatewayError{Code: code, Message: message}
}

// classify maps an internal error to the wire error code a frame should
// carry, defaulting to CodeInternal for anything unrecognized so internal
// detail never leaks to a peer.
func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeBadParams
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrDisconnected):
		return CodeDownstreamOffline
	case errors.Is(err, ErrUnknownMethod):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotImplemented):
		return CodeNotImplemented
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// ToGatewayError converts any error into a safe-to-serialize GatewayError.
// A *GatewayError is returned as is, keeping the code its handler chose;
// other errors are classified, and unclassified ones become "internal error".
func ToGatewayError(err error) *GatewayError {
	if gwErr, ok := err.(*GatewayError); ok {
		return gwErr
	}
	code := classify(err)
	msg := err.Error()
	if code == CodeInternal {
		// Don't leak internal error text for unclassified errors.
		msg = "internal error"
	}
	return &GatewayError{Code: code, Message: msg}
}
