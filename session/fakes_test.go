package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zsiec/moqsession/transport"
)

// fakeSendStream is an in-memory transport.SendStream, standing in for a
// webtransport.Stream without pulling in real QUIC.
type fakeSendStream struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	closed    bool
	cancelled bool
	cancelCode transport.StreamErrorCode
	writeErr  error

	priorityUrgency     byte
	priorityOrder       byte
	priorityIncremental bool
}

func (s *fakeSendStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	if s.closed || s.cancelled {
		return 0, errors.New("write on closed/cancelled stream")
	}
	return s.buf.Write(p)
}

func (s *fakeSendStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSendStream) CancelWrite(code transport.StreamErrorCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	s.cancelCode = code
}

func (s *fakeSendStream) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSendStream) StreamID() uint64 { return 1 }

func (s *fakeSendStream) SetPriority(urgency, order byte, incremental bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priorityUrgency = urgency
	s.priorityOrder = order
	s.priorityIncremental = incremental
}

func (s *fakeSendStream) bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func (s *fakeSendStream) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// fakeRecvStream is an in-memory transport.RecvStream backed by a fixed
// byte slice.
type fakeRecvStream struct {
	r         *bytes.Reader
	cancelled bool
	cancelCode transport.StreamErrorCode
}

func newFakeRecvStream(data []byte) *fakeRecvStream {
	return &fakeRecvStream{r: bytes.NewReader(data)}
}

func (s *fakeRecvStream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *fakeRecvStream) CancelRead(code transport.StreamErrorCode) {
	s.cancelled = true
	s.cancelCode = code
}

func (s *fakeRecvStream) SetReadDeadline(time.Time) error { return nil }

func (s *fakeRecvStream) StreamID() uint64 { return 2 }

// fakeStream is a bidirectional transport.Stream combining independent
// fakeSendStream/fakeRecvStream halves, used for the control stream.
type fakeStream struct {
	*fakeSendStream
	*fakeRecvStream
}

func newFakeStream(inbound []byte) *fakeStream {
	return &fakeStream{fakeSendStream: &fakeSendStream{}, fakeRecvStream: newFakeRecvStream(inbound)}
}

func (s *fakeStream) StreamID() uint64 { return 3 }

// fakeSession is an in-memory transport.Session for exercising the session
// event loop without real QUIC.
type fakeSession struct {
	mu           sync.Mutex
	control      *fakeStream
	uniStreams   []*fakeSendStream
	acceptUniCh  chan transport.RecvStream
	datagramsOut [][]byte
	datagramsIn  chan []byte
	closed       bool
	closeCode    transport.SessionErrorCode
	closeMsg     string
	ctx          context.Context
	cancel       context.CancelFunc
}

func newFakeSession(control *fakeStream) *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{
		control:     control,
		acceptUniCh: make(chan transport.RecvStream, 16),
		datagramsIn: make(chan []byte, 16),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (s *fakeSession) AcceptStream(ctx context.Context) (transport.Stream, error) {
	return s.control, nil
}

func (s *fakeSession) AcceptUniStream(ctx context.Context) (transport.RecvStream, error) {
	select {
	case str := <-s.acceptUniCh:
		return str, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *fakeSession) OpenStream() (transport.Stream, error) { return s.control, nil }

func (s *fakeSession) OpenUniStream() (transport.SendStream, error) {
	str := &fakeSendStream{}
	s.mu.Lock()
	s.uniStreams = append(s.uniStreams, str)
	s.mu.Unlock()
	return str, nil
}

func (s *fakeSession) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	return s.OpenUniStream()
}

func (s *fakeSession) SendDatagram(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datagramsOut = append(s.datagramsOut, append([]byte(nil), b...))
	return nil
}

func (s *fakeSession) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-s.datagramsIn:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *fakeSession) CloseWithError(code transport.SessionErrorCode, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCode = code
	s.closeMsg = msg
	s.cancel()
	return nil
}

func (s *fakeSession) Context() context.Context { return s.ctx }
