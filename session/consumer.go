package session

import (
	"context"

	"github.com/zsiec/moqsession/transport"
	"github.com/zsiec/moqsession/wire"
)

// TrackConsumer is the application-supplied handle for a track the local
// side has subscribed to. The session invokes it as inbound control and
// data-plane events for that subscription arrive.
type TrackConsumer interface {
	BeginSubgroup(group, subgroup uint64, priority byte) (SubgroupConsumer, error)
	ObjectStream(group, subgroup uint64) (SubgroupConsumer, error)
	Datagram(h wire.ObjectHeader, payload []byte) error
	GroupNotExists(group uint64)
	SubscribeDone(statusCode uint64, reason string)
	AwaitStreamCredit(ctx context.Context) error
}

// SubgroupConsumer receives the decoded object sequence from one subgroup
// stream. Fetch streams are delivered to a FetchConsumer instead.
type SubgroupConsumer interface {
	Object(objectID uint64, payload []byte, finSubgroup bool) error
	ObjectNotExists(objectID uint64) error
	BeginObject(objectID uint64, length uint64, initialPayload []byte) error
	ObjectPayload(payload []byte, finSubgroup bool) (writeResult, error)
	EndOfGroup(objectID uint64) error
	EndOfTrackAndGroup(objectID uint64) error
	EndOfSubgroup() error
	Reset(code transport.StreamErrorCode) error
	AwaitReadyToConsume(ctx context.Context) error
}

// FetchConsumer receives the decoded object sequence from a FETCH response
// stream.
type FetchConsumer interface {
	Object(group, subgroup, objectID uint64, payload []byte, finFetch bool) error
	ObjectNotExists(group, subgroup, objectID uint64) error
	BeginObject(group, subgroup, objectID uint64, length uint64, initialPayload []byte) error
	ObjectPayload(payload []byte, finFetch bool) (writeResult, error)
	EndOfFetch() error
	Reset(code transport.StreamErrorCode) error
	AwaitReadyToConsume(ctx context.Context) error
}

// ServerSetupCallback resolves an inbound CLIENT_SETUP into the
// ServerSetup the session should reply with, or an error to reject the
// connection.
type ServerSetupCallback func(wire.ClientSetup) (wire.ServerSetup, error)
