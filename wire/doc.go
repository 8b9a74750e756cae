// Package wire implements the wire-protocol codec for MoQ Transport: control
// message parsing and serialization on the bidirectional control stream, and
// object/subgroup/fetch framing on unidirectional data streams and
// datagrams.
//
// This package contains no session or relay logic; that lives in
// [github.com/zsiec/moqsession/session]. It is deliberately import-free of
// that package: the codec has no need to know about session state, and
// keeping the dependency one-directional keeps it testable in isolation.
package wire
