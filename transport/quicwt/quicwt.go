// Package quicwt adapts github.com/quic-go/webtransport-go to
// [github.com/zsiec/moqsession/transport]'s narrower Session/Stream
// contract. It does not implement transport.Transport: ServerUpgrader hands
// each accepted session to a callback instead.
package quicwt

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/zsiec/moqsession/transport"
)

// ServerConfig configures the HTTP/3 listener a ServerUpgrader accepts
// WebTransport sessions on.
type ServerConfig struct {
	Addr           string
	TLSConfig      *tls.Config
	MaxIdleTimeout time.Duration
	CheckOrigin    func(*http.Request) bool
}

// ServerUpgrader upgrades incoming HTTP/3 requests on a fixed path to
// WebTransport sessions, handing each accepted session to a callback.
// It owns the underlying webtransport.Server and HTTP mux.
type ServerUpgrader struct {
	wt  *webtransport.Server
	mux *http.ServeMux
}

// NewServerUpgrader constructs a ServerUpgrader listening on cfg.Addr. path
// is the HTTP path incoming MoQ-over-WebTransport connections arrive on
// (e.g. "/moq").
func NewServerUpgrader(cfg ServerConfig, path string, accept func(Session, error)) *ServerUpgrader {
	mux := http.NewServeMux()
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	u := &ServerUpgrader{mux: mux}
	u.wt = &webtransport.Server{
		H3: http3.Server{
			Addr:      cfg.Addr,
			Handler:   mux,
			TLSConfig: cfg.TLSConfig,
			QUICConfig: &quic.Config{
				MaxIdleTimeout: cfg.MaxIdleTimeout,
				Allow0RTT:      true,
			},
		},
		CheckOrigin: checkOrigin,
	}

	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		sess, err := u.wt.Upgrade(w, r)
		if err != nil {
			accept(nil, err)
			return
		}
		accept(&sessionAdapter{sess: sess}, nil)
	})

	return u
}

// ListenAndServe blocks until the listener fails or is closed.
func (u *ServerUpgrader) ListenAndServe() error {
	return u.wt.ListenAndServe()
}

// Close stops accepting new sessions and closes active ones.
func (u *ServerUpgrader) Close() error {
	return u.wt.Close()
}

// Session is the transport.Session that a ServerUpgrader hands back per
// accepted connection, named locally so
// package consumers don't need to import transport solely for the type
// alias.
type Session = transport.Session

type sessionAdapter struct {
	sess *webtransport.Session
}

func (s *sessionAdapter) AcceptStream(ctx context.Context) (transport.Stream, error) {
	str, err := s.sess.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &streamAdapter{str}, nil
}

func (s *sessionAdapter) AcceptUniStream(ctx context.Context) (transport.RecvStream, error) {
	str, err := s.sess.AcceptUniStream(ctx)
	if err != nil {
		return nil, err
	}
	return &recvStreamAdapter{str}, nil
}

func (s *sessionAdapter) OpenStream() (transport.Stream, error) {
	str, err := s.sess.OpenStream()
	if err != nil {
		return nil, err
	}
	return &streamAdapter{str}, nil
}

func (s *sessionAdapter) OpenUniStream() (transport.SendStream, error) {
	str, err := s.sess.OpenUniStream()
	if err != nil {
		return nil, err
	}
	return &sendStreamAdapter{str}, nil
}

func (s *sessionAdapter) OpenUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	str, err := s.sess.OpenUniStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &sendStreamAdapter{str}, nil
}

func (s *sessionAdapter) SendDatagram(b []byte) error {
	return s.sess.SendDatagram(b)
}

func (s *sessionAdapter) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return s.sess.ReceiveDatagram(ctx)
}

func (s *sessionAdapter) CloseWithError(code transport.SessionErrorCode, msg string) error {
	return s.sess.CloseWithError(webtransport.SessionErrorCode(code), msg)
}

func (s *sessionAdapter) Context() context.Context {
	return s.sess.Context()
}

type streamAdapter struct {
	*webtransport.Stream
}

func (s *streamAdapter) CancelWrite(code transport.StreamErrorCode) {
	s.Stream.CancelWrite(webtransport.StreamErrorCode(code))
}

func (s *streamAdapter) CancelRead(code transport.StreamErrorCode) {
	s.Stream.CancelRead(webtransport.StreamErrorCode(code))
}

func (s *streamAdapter) StreamID() uint64 {
	return uint64(s.Stream.StreamID())
}

func (s *streamAdapter) SetPriority(urgency, order byte, incremental bool) {
	setNativePriority(s.Stream, urgency, order, incremental)
}

type sendStreamAdapter struct {
	*webtransport.SendStream
}

func (s *sendStreamAdapter) CancelWrite(code transport.StreamErrorCode) {
	s.SendStream.CancelWrite(webtransport.StreamErrorCode(code))
}

func (s *sendStreamAdapter) StreamID() uint64 {
	return uint64(s.SendStream.StreamID())
}

func (s *sendStreamAdapter) SetPriority(urgency, order byte, incremental bool) {
	setNativePriority(s.SendStream, urgency, order, incremental)
}

// nativePrioritySetter is the shape a quic-go stream exposes priority
// control under in versions that support RFC 9218 extensible priorities.
// webtransport-go doesn't re-export that method on its own Stream/SendStream
// wrappers, so this degrades to a no-op against versions that lack it
// rather than failing to build.
type nativePrioritySetter interface {
	SetPriority(urgency byte, incremental bool)
}

func setNativePriority(s any, urgency, order byte, incremental bool) {
	if ps, ok := s.(nativePrioritySetter); ok {
		ps.SetPriority(urgency, incremental)
	}
	_ = order
}

type recvStreamAdapter struct {
	*webtransport.ReceiveStream
}

func (s *recvStreamAdapter) CancelRead(code transport.StreamErrorCode) {
	s.ReceiveStream.CancelRead(webtransport.StreamErrorCode(code))
}

func (s *recvStreamAdapter) StreamID() uint64 {
	return uint64(s.ReceiveStream.StreamID())
}
