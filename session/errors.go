package session

import (
	"errors"
	"fmt"
)

// Kind classifies a session/stream-level failure per the taxonomy: whether
// the caller violated the publisher/consumer contract, the transport
// pushed back for flow control, a write failed outright, or the operation
// was cancelled.
type Kind int

const (
	KindAPIError Kind = iota
	KindBlocked
	KindWriteError
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAPIError:
		return "API_ERROR"
	case KindBlocked:
		return "BLOCKED"
	case KindWriteError:
		return "WRITE_ERROR"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Error is a taxonomy-tagged session/stream failure, distinct from the
// wire-level ParseError and from the request/response *Error types below.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func apiError(reason string) error      { return &Error{Kind: KindAPIError, Reason: reason} }
func blockedError(reason string) error  { return &Error{Kind: KindBlocked, Reason: reason} }
func writeError(reason string, err error) error {
	return &Error{Kind: KindWriteError, Reason: reason, Err: err}
}
func cancelledError(reason string) error { return &Error{Kind: KindCancelled, Reason: reason} }

// Session-close codes, carried in transport.CloseWithError.
const (
	CloseNoError           = 0x0
	CloseInternalError     = 0x1
	CloseProtocolViolation = 0x2
	CloseTooManySubscribes = 0x3
)

// Stream-reset codes, carried in transport.CancelWrite / CancelRead.
const (
	ResetInternalError  = 0x1
	ResetCancelled      = 0x2
	ResetSessionClosed  = 0x3
)

// Sentinel errors surfaced through request futures and session-level
// reporting.
var (
	ErrSessionClosed       = errors.New("session: closed")
	ErrDuplicateSubscribe  = errors.New("session: duplicate subscribe id")
	ErrSubscribeIDExceeded = errors.New("session: subscribe id exceeds max subscribe id")
	ErrInvalidFetchRange   = errors.New("session: invalid fetch range")
	ErrMaxSubscribeIDRegression = errors.New("session: MAX_SUBSCRIBE_ID regressed")
	ErrFutureAlreadyFulfilled  = errors.New("session: future already fulfilled")
)

// SubscribeError is the sibling error resolved on an outstanding SUBSCRIBE
// future.
type SubscribeError struct {
	SubscribeID  uint64
	Code         uint64
	ReasonPhrase string
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %d failed: %d %s", e.SubscribeID, e.Code, e.ReasonPhrase)
}

// FetchError is the sibling error resolved on an outstanding FETCH future.
type FetchError struct {
	SubscribeID  uint64
	Code         uint64
	ReasonPhrase string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %d failed: %d %s", e.SubscribeID, e.Code, e.ReasonPhrase)
}

// AnnounceError is the sibling error resolved on an outstanding ANNOUNCE
// future.
type AnnounceError struct {
	Namespace    []string
	Code         uint64
	ReasonPhrase string
}

func (e *AnnounceError) Error() string {
	return fmt.Sprintf("announce %v failed: %d %s", e.Namespace, e.Code, e.ReasonPhrase)
}

// SubscribeAnnouncesError is the sibling error resolved on an outstanding
// SUBSCRIBE_ANNOUNCES future.
type SubscribeAnnouncesError struct {
	NamespacePrefix []string
	Code            uint64
	ReasonPhrase    string
}

func (e *SubscribeAnnouncesError) Error() string {
	return fmt.Sprintf("subscribe_announces %v failed: %d %s", e.NamespacePrefix, e.Code, e.ReasonPhrase)
}

// sessionClosedCode/Reason are the values every outstanding future is
// resolved with when the session closes out from under it.
const sessionClosedCode = 500

var sessionClosedReason = "session closed"
