// Package transport defines the narrow WebTransport surface the session
// engine depends on: a bidirectional control stream, unidirectional data
// streams, and unreliable datagrams over a single session.
//
// The interfaces here mirror github.com/quic-go/webtransport-go's exported
// types so that [github.com/zsiec/moqsession/transport/quicwt] can adapt
// that library with no behavioral translation, while tests substitute
// in-memory fakes without pulling in QUIC at all.
package transport
