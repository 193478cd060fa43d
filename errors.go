// Package cinderlink is the client core of a peer-to-peer messaging and
// state-synchronization network built on libp2p.
package cinderlink

import (
	"context"
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/blockberries/cinderlink/pkg/codec"
	"github.com/blockberries/cinderlink/pkg/connection"
	"github.com/blockberries/cinderlink/pkg/identity"
	"github.com/blockberries/cinderlink/pkg/message"
	"github.com/blockberries/cinderlink/pkg/plugin"
	"github.com/blockberries/cinderlink/pkg/router"
)

// ErrorCode identifies the type of error for programmatic handling.
type ErrorCode int

const (
	// ErrCodeUnknown indicates an unknown or unclassified error.
	ErrCodeUnknown ErrorCode = iota

	// ErrCodeInvalidEncoding indicates a message that is neither signed nor encrypted.
	ErrCodeInvalidEncoding

	// ErrCodePeerNotAuthenticated indicates encryption to a peer with no known DID.
	ErrCodePeerNotAuthenticated

	// ErrCodeSchemaNotFound indicates a schema missing from the identity document.
	ErrCodeSchemaNotFound

	// ErrCodeInvalidTopic indicates an empty or malformed topic.
	ErrCodeInvalidTopic

	// ErrCodeDialFailed indicates a dial failed.
	ErrCodeDialFailed

	// ErrCodeSendFailed indicates a direct send failed after all retries.
	ErrCodeSendFailed

	// ErrCodePluginFailed indicates a plugin failed to start or stop.
	ErrCodePluginFailed

	// ErrCodeContextCanceled indicates the operation was cancelled via context.
	ErrCodeContextCanceled

	// ErrCodeInvalidConfig indicates the configuration is invalid.
	ErrCodeInvalidConfig

	// ErrCodeClientNotRunning indicates the client is not in the Running state.
	ErrCodeClientNotRunning

	// ErrCodeClientAlreadyStarted indicates Start was called twice.
	ErrCodeClientAlreadyStarted
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknown:
		return "Unknown"
	case ErrCodeInvalidEncoding:
		return "InvalidEncoding"
	case ErrCodePeerNotAuthenticated:
		return "PeerNotAuthenticated"
	case ErrCodeSchemaNotFound:
		return "SchemaNotFound"
	case ErrCodeInvalidTopic:
		return "InvalidTopic"
	case ErrCodeDialFailed:
		return "DialFailed"
	case ErrCodeSendFailed:
		return "SendFailed"
	case ErrCodePluginFailed:
		return "PluginFailed"
	case ErrCodeContextCanceled:
		return "ContextCanceled"
	case ErrCodeInvalidConfig:
		return "InvalidConfig"
	case ErrCodeClientNotRunning:
		return "ClientNotRunning"
	case ErrCodeClientAlreadyStarted:
		return "ClientAlreadyStarted"
	default:
		return fmt.Sprintf("ErrorCode(%d)", c)
	}
}

// Error is a Cinderlink error with context.
type Error struct {
	Code    ErrorCode
	Message string

	// PeerID is the peer associated with the error, if any.
	PeerID peer.ID

	// Topic is the message topic associated with the error, if any.
	Topic string

	Cause error

	// Retriable indicates whether the operation can be retried.
	Retriable bool
}

// Error returns a human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cinderlink: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("cinderlink: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// IsRetriable reports whether err is an *Error marked retriable.
func IsRetriable(err error) bool {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Retriable
	}
	return false
}

// IsPermanent reports whether err is a caller error that must not be
// retried. Protocol errors are raised synchronously and never retried.
func IsPermanent(err error) bool {
	var cErr *Error
	if errors.As(err, &cErr) {
		switch cErr.Code {
		case ErrCodeInvalidEncoding, ErrCodePeerNotAuthenticated, ErrCodeSchemaNotFound,
			ErrCodeInvalidTopic, ErrCodeInvalidConfig:
			return true
		}
		return false
	}
	return errors.Is(err, ErrInvalidEncoding) ||
		errors.Is(err, ErrPeerNotAuthenticated) ||
		errors.Is(err, ErrSchemaNotFound) ||
		errors.Is(err, ErrInvalidTopic) ||
		errors.Is(err, ErrInvalidConfig)
}

// NewError creates an Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorWithCause creates an Error with the given code, message and cause.
func NewErrorWithCause(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// NewPeerError creates an Error associated with a peer and topic.
func NewPeerError(code ErrorCode, message string, peerID peer.ID, topic string) *Error {
	return &Error{Code: code, Message: message, PeerID: peerID, Topic: topic}
}

// wrapSendError classifies an error returned by a direct send.
func wrapSendError(err error, peerID peer.ID, topic string) error {
	if err == nil {
		return nil
	}
	e := &Error{PeerID: peerID, Topic: topic, Cause: err}
	switch {
	case errors.Is(err, ErrInvalidEncoding):
		e.Code, e.Message = ErrCodeInvalidEncoding, "invalid encoding"
	case errors.Is(err, ErrPeerNotAuthenticated):
		e.Code, e.Message = ErrCodePeerNotAuthenticated, "peer not authenticated"
	case errors.Is(err, ErrInvalidTopic):
		e.Code, e.Message = ErrCodeInvalidTopic, "invalid topic"
	case errors.Is(err, connection.ErrNoAddresses):
		e.Code, e.Message, e.Retriable = ErrCodeDialFailed, "dial failed", true
	case errors.Is(err, router.ErrRouterClosed):
		e.Code, e.Message = ErrCodeClientNotRunning, "client is stopping"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.Code, e.Message = ErrCodeContextCanceled, "send cancelled"
	default:
		e.Code, e.Message, e.Retriable = ErrCodeSendFailed, "send failed", true
	}
	return e
}

// Sentinel errors re-exported from the component packages.
var (
	ErrInvalidEncoding      = codec.ErrInvalidEncoding
	ErrPeerNotAuthenticated = router.ErrPeerNotAuthenticated
	ErrSchemaNotFound       = identity.ErrSchemaNotFound
	ErrInvalidTopic         = message.ErrInvalidTopic
	ErrPluginExists         = plugin.ErrPluginExists
	ErrPluginNotFound       = plugin.ErrPluginNotFound
	ErrPluginReplaced       = plugin.ErrPluginReplaced
)

// Sentinel errors for client lifecycle.
var (
	// ErrClientNotRunning indicates an operation that needs a running client.
	ErrClientNotRunning = errors.New("client not running")

	// ErrClientAlreadyStarted indicates Start was called more than once.
	ErrClientAlreadyStarted = errors.New("client already started")

	// ErrInvalidSchemaName indicates a schema name rejected by ValidateSchemaName.
	ErrInvalidSchemaName = errors.New("invalid schema name")
)

// Sentinel errors for configuration.
var (
	// ErrInvalidConfig indicates the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingPrivateKey indicates no private key was provided.
	ErrMissingPrivateKey = errors.New("private key is required")

	// ErrInvalidPrivateKey indicates the private key has the wrong size.
	ErrInvalidPrivateKey = errors.New("invalid private key")

	// ErrMissingListenAddrs indicates no listen addresses were provided.
	ErrMissingListenAddrs = errors.New("at least one listen address is required")
)
