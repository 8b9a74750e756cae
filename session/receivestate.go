package session

import (
	"context"

	"github.com/zsiec/moqsession/wire"
)

// subscribeReceiveState is the receiving side of a subscription this
// session issued: the application's consumer, the OK/Error future, and the
// per-subscription cancellation this subscription's streams merge into.
// Indexed by TrackAlias once SUBSCRIBE_OK assigns one; a SubscribeID→alias
// index lets control messages that only carry the SubscribeID (OK, Error,
// Done) find it too.
type subscribeReceiveState struct {
	fullTrackName wire.FullTrackName
	subscribeID   uint64
	trackAlias    uint64
	hasAlias      bool

	consumer TrackConsumer

	okFuture *future[wire.SubscribeOK]

	cancel context.CancelFunc
	ctx    context.Context
}

// released reports whether the consumer callback has already been cleared,
// making this state a no-op target for further dispatch. Consumer release
// happens at most once.
func (s *subscribeReceiveState) released() bool {
	return s.consumer == nil
}

// beginSubgroup forwards to the consumer's BeginSubgroup, or returns a nil
// consumer without error if this state has already been released (e.g. by
// an unsubscribe that raced the stream's arrival) so the caller can drop
// the stream silently instead of treating it as a protocol violation.
func (s *subscribeReceiveState) beginSubgroup(group, subgroup uint64, priority byte) (SubgroupConsumer, error) {
	if s.released() {
		return nil, nil
	}
	return s.consumer.BeginSubgroup(group, subgroup, priority)
}

func (s *subscribeReceiveState) release() {
	s.consumer = nil
}

// fetchReceiveState is the receiving side of a FETCH this session issued.
// Indexed by SubscribeID.
type fetchReceiveState struct {
	fullTrackName wire.FullTrackName
	subscribeID   uint64

	consumer FetchConsumer

	okFuture        *future[wire.FetchOK]
	fetchOkReceived bool

	cancel context.CancelFunc
	ctx    context.Context
}

func (s *fetchReceiveState) released() bool {
	return s.consumer == nil
}

func (s *fetchReceiveState) release() {
	s.consumer = nil
}
