package transport

import (
	"context"
	"io"
	"time"
)

// SessionErrorCode is carried in a WebTransport CLOSE_WEBTRANSPORT_SESSION
// capsule when a session is torn down.
type SessionErrorCode uint32

// StreamErrorCode is carried in a QUIC RESET_STREAM or STOP_SENDING frame
// when a single stream is reset rather than the whole session.
type StreamErrorCode uint32

// SendStream is the write half of a stream, or a unidirectional send-only
// stream.
type SendStream interface {
	io.Writer
	io.Closer

	CancelWrite(StreamErrorCode)
	SetWriteDeadline(time.Time) error
	StreamID() uint64

	// SetPriority applies the transport's native scheduling knobs for this
	// stream. urgency=1 is used for data-plane subgroup/fetch streams,
	// urgency=0 for the control stream. order and incremental are a lossy
	// projection of the session's 64-bit priority value onto whatever
	// coarser priority scheme the underlying transport exposes.
	SetPriority(urgency, order byte, incremental bool)
}

// RecvStream is the read half of a stream, or a unidirectional
// receive-only stream.
type RecvStream interface {
	io.Reader

	CancelRead(StreamErrorCode)
	SetReadDeadline(time.Time) error
	StreamID() uint64
}

// Stream is a bidirectional WebTransport stream, used for the MoQ control
// channel.
type Stream interface {
	SendStream
	RecvStream
}

// Session is a single established WebTransport session, the transport that
// a MoQ connection runs over.
type Session interface {
	// AcceptStream blocks until the peer opens a new bidirectional stream.
	AcceptStream(ctx context.Context) (Stream, error)
	// AcceptUniStream blocks until the peer opens a new unidirectional
	// stream, used to receive SUBGROUP_HEADER and FETCH_HEADER streams.
	AcceptUniStream(ctx context.Context) (RecvStream, error)

	// OpenStream opens a new bidirectional stream without blocking on flow
	// control, used for the client's initial control stream.
	OpenStream() (Stream, error)
	// OpenUniStream opens a unidirectional stream, used to deliver object
	// data to a subscriber.
	OpenUniStream() (SendStream, error)
	// OpenUniStreamSync opens a unidirectional stream, blocking until flow
	// control allows it.
	OpenUniStreamSync(ctx context.Context) (SendStream, error)

	// SendDatagram sends an unreliable, unordered OBJECT_DATAGRAM.
	SendDatagram([]byte) error
	// ReceiveDatagram blocks until a datagram arrives.
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	// CloseWithError tears down the session, signaling errCode and msg to
	// the peer.
	CloseWithError(errCode SessionErrorCode, msg string) error
	// Context is canceled when the session closes, for any reason.
	Context() context.Context
}

// Transport accepts incoming WebTransport sessions. It is the
// server-facing half of the contract; outbound connection establishment is
// an application concern outside this package's scope.
type Transport interface {
	// Accept blocks until a new session is established, or ctx is
	// canceled.
	Accept(ctx context.Context) (Session, error)
	// Close stops accepting new sessions.
	Close() error
}
