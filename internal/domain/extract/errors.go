package extract

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCursor is returned when a pagination cursor cannot be turned into
// a page number.
var ErrInvalidCursor = errors.New("invalid pagination cursor")

// TransientTransportError covers failures worth retrying: 5xx, 429 and
// network-level errors.
type TransientTransportError struct {
	StatusCode int // zero for network failures
	Messages   []string
	Err        error
}

// NewTransientTransportError wraps a retryable failure.
func NewTransientTransportError(statusCode int, messages []string, err error) *TransientTransportError {
	return &TransientTransportError{StatusCode: statusCode, Messages: messages, Err: err}
}

func (e *TransientTransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("transient transport error: %v", e.Err)
	}
	return fmt.Sprintf("transient transport error: status %d: %s", e.StatusCode, joinMessages(e.Messages, e.Err))
}

func (e *TransientTransportError) Unwrap() error { return e.Err }

// AuthError is returned for 401/403 responses. It is never retried.
type AuthError struct {
	StatusCode int
	Messages   []string
}

// NewAuthError creates an AuthError with the upstream error detail.
func NewAuthError(statusCode int, messages []string) *AuthError {
	return &AuthError{StatusCode: statusCode, Messages: messages}
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: status %d: %s", e.StatusCode, joinMessages(e.Messages, nil))
}

// ClientRequestError is returned for any other 4xx response.
type ClientRequestError struct {
	StatusCode int
	Messages   []string
}

// NewClientRequestError creates a ClientRequestError with the upstream error detail.
func NewClientRequestError(statusCode int, messages []string) *ClientRequestError {
	return &ClientRequestError{StatusCode: statusCode, Messages: messages}
}

func (e *ClientRequestError) Error() string {
	return fmt.Sprintf("client request error: status %d: %s", e.StatusCode, joinMessages(e.Messages, nil))
}

// DataIntegrityError means upstream data cannot be emitted without corrupting
// downstream state: a missing key property, an unparseable bookmark or a bad
// pagination cursor. It always aborts the run.
type DataIntegrityError struct {
	Stream string
	Field  string
	Reason string
	Err    error
}

// NewDataIntegrityError creates a DataIntegrityError for the given stream/field.
func NewDataIntegrityError(stream, field, reason string, err error) *DataIntegrityError {
	return &DataIntegrityError{Stream: stream, Field: field, Reason: reason, Err: err}
}

func (e *DataIntegrityError) Error() string {
	msg := fmt.Sprintf("data integrity error in stream %q", e.Stream)
	if e.Field != "" {
		msg += fmt.Sprintf(" field %q", e.Field)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataIntegrityError) Unwrap() error { return e.Err }

// SinkIOError is returned when a schema, record or state message cannot be written.
type SinkIOError struct {
	Stream string
	Op     string
	Err    error
}

// NewSinkIOError wraps a sink failure with the operation that failed.
func NewSinkIOError(stream, op string, err error) *SinkIOError {
	return &SinkIOError{Stream: stream, Op: op, Err: err}
}

func (e *SinkIOError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("sink %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("sink %s failed for stream %q: %v", e.Op, e.Stream, e.Err)
}

func (e *SinkIOError) Unwrap() error { return e.Err }

// IsRetryable reports whether err should be retried by the transport.
func IsRetryable(err error) bool {
	var transient *TransientTransportError
	return errors.As(err, &transient)
}

func joinMessages(msgs []string, err error) string {
	if len(msgs) > 0 {
		return strings.Join(msgs, "; ")
	}
	if err != nil {
		return err.Error()
	}
	return "no detail"
}
