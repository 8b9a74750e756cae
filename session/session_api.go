package session

import (
	"context"

	"github.com/zsiec/moqsession/wire"
)

// This file holds the outbound request API: the calls an application
// makes to issue SUBSCRIBE, FETCH, ANNOUNCE, and SUBSCRIBE_ANNOUNCES and
// block for their response, plus the corresponding withdrawal calls.
//
// Every request type shares the peer-granted subscribe-id credit pool:
// the wire codec gives SUBSCRIBE, FETCH, ANNOUNCE, and SUBSCRIBE_ANNOUNCES
// the same RequestID field shape, so this session treats them as one
// unified request-id space rather than maintaining separate counters per
// message family.

// AllocateTrackAlias returns the next locally-assigned track alias, for
// callers accepting a SUBSCRIBE who want a fresh alias rather than
// choosing their own numbering scheme.
func (s *Session) AllocateTrackAlias() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextTrackAlias
	s.nextTrackAlias++
	return id
}

// Subscribe issues a SUBSCRIBE request and blocks until SUBSCRIBE_OK or
// SUBSCRIBE_ERROR arrives, or ctx is cancelled. On success, consumer
// starts receiving BeginSubgroup/Datagram/SubscribeDone calls for this
// track as data and control messages for it arrive.
func (s *Session) Subscribe(
	ctx context.Context,
	fullTrackName wire.FullTrackName,
	priority byte,
	order GroupOrder,
	forward bool,
	filterType, startGroup, startObj, endGroup uint64,
	consumer TrackConsumer,
) (wire.SubscribeOK, error) {
	s.mu.Lock()
	id, allocated := s.credit.allocate()
	if !allocated {
		s.mu.Unlock()
		return wire.SubscribeOK{}, blockedError("no subscribe id credit available")
	}
	subCtx, cancel := context.WithCancel(s.ctx)
	state := &subscribeReceiveState{
		fullTrackName: fullTrackName,
		subscribeID:   id,
		consumer:      consumer,
		okFuture:      newFuture[wire.SubscribeOK](),
		ctx:           subCtx,
		cancel:        cancel,
	}
	s.subscribeByID[id] = state
	s.mu.Unlock()

	err := s.sendControl(wire.MsgSubscribe, wire.SerializeSubscribe(wire.Subscribe{
		RequestID:  id,
		Namespace:  fullTrackName.Namespace,
		TrackName:  fullTrackName.Name,
		Priority:   priority,
		GroupOrder: sessionGroupOrderToWire(order),
		Forward:    forwardByte(forward),
		FilterType: filterType,
		StartGroup: startGroup,
		StartObj:   startObj,
		EndGroup:   endGroup,
	}))
	if err != nil {
		s.removeSubscribeReceiveState(id)
		cancel()
		return wire.SubscribeOK{}, err
	}

	ok, waitErr := state.okFuture.wait(ctx.Done())
	if waitErr != nil {
		s.removeSubscribeReceiveState(id)
		cancel()
		return wire.SubscribeOK{}, waitErr
	}
	return ok, nil
}

// Unsubscribe withdraws a subscription this session issued, releasing its
// consumer and sending UNSUBSCRIBE. Safe to call more than once.
func (s *Session) Unsubscribe(subscribeID uint64) error {
	state := s.removeSubscribeReceiveState(subscribeID)
	if state != nil {
		state.release()
		if state.cancel != nil {
			state.cancel()
		}
	}
	return s.sendControl(wire.MsgUnsubscribe, wire.SerializeUnsubscribe(wire.Unsubscribe{RequestID: subscribeID}))
}

// Fetch issues a FETCH request and blocks until FETCH_OK or FETCH_ERROR
// arrives, or ctx is cancelled. On success, consumer starts receiving the
// fetch's object sequence on the single unidirectional stream the peer
// opens for it.
func (s *Session) Fetch(
	ctx context.Context,
	fullTrackName wire.FullTrackName,
	fetchType uint64,
	priority byte,
	order GroupOrder,
	startGroup, startObj, endGroup, endObj uint64,
	consumer FetchConsumer,
) (wire.FetchOK, error) {
	s.mu.Lock()
	id, allocated := s.credit.allocate()
	if !allocated {
		s.mu.Unlock()
		return wire.FetchOK{}, blockedError("no subscribe id credit available")
	}
	fetchCtx, cancel := context.WithCancel(s.ctx)
	state := &fetchReceiveState{
		fullTrackName: fullTrackName,
		subscribeID:   id,
		consumer:      consumer,
		okFuture:      newFuture[wire.FetchOK](),
		ctx:           fetchCtx,
		cancel:        cancel,
	}
	s.fetchReceivers[id] = state
	s.mu.Unlock()

	if startGroup > endGroup {
		s.removeFetchReceiveState(id)
		s.checkDrainComplete()
		cancel()
		return wire.FetchOK{}, ErrInvalidFetchRange
	}

	err := s.sendControl(wire.MsgFetch, wire.SerializeFetch(wire.Fetch{
		RequestID:  id,
		FetchType:  fetchType,
		Namespace:  fullTrackName.Namespace,
		TrackName:  fullTrackName.Name,
		Priority:   priority,
		GroupOrder: sessionGroupOrderToWire(order),
		StartGroup: startGroup,
		StartObj:   startObj,
		EndGroup:   endGroup,
		EndObj:     endObj,
	}))
	if err != nil {
		s.removeFetchReceiveState(id)
		s.checkDrainComplete()
		cancel()
		return wire.FetchOK{}, err
	}

	ok, waitErr := state.okFuture.wait(ctx.Done())
	if waitErr != nil {
		s.removeFetchReceiveState(id)
		s.checkDrainComplete()
		cancel()
		return wire.FetchOK{}, waitErr
	}
	return ok, nil
}

// FetchCancel withdraws a fetch this session issued. Safe to call more
// than once.
func (s *Session) FetchCancel(subscribeID uint64) error {
	state := s.removeFetchReceiveState(subscribeID)
	if state != nil {
		state.release()
		if state.cancel != nil {
			state.cancel()
		}
	}
	s.checkDrainComplete()
	return s.sendControl(wire.MsgFetchCancel, wire.SerializeFetchCancel(wire.FetchCancel{RequestID: subscribeID}))
}

// Announce issues an ANNOUNCE for namespace and blocks until ANNOUNCE_OK
// or ANNOUNCE_ERROR arrives, or ctx is cancelled.
func (s *Session) Announce(ctx context.Context, namespace []string) error {
	s.mu.Lock()
	id, allocated := s.credit.allocate()
	if !allocated {
		s.mu.Unlock()
		return blockedError("no request id credit available")
	}
	fut := newFuture[wire.AnnounceOK]()
	s.pendingAnnounces[id] = &announceWait{namespace: namespace, fut: fut}
	s.mu.Unlock()

	err := s.sendControl(wire.MsgAnnounce, wire.SerializeAnnounce(wire.Announce{RequestID: id, Namespace: namespace}))
	if err != nil {
		s.mu.Lock()
		delete(s.pendingAnnounces, id)
		s.mu.Unlock()
		return err
	}

	if _, waitErr := fut.wait(ctx.Done()); waitErr != nil {
		s.mu.Lock()
		delete(s.pendingAnnounces, id)
		s.mu.Unlock()
		return waitErr
	}
	return nil
}

// Unannounce withdraws a previously accepted announce.
func (s *Session) Unannounce(namespace []string) error {
	return s.sendControl(wire.MsgUnannounce, wire.SerializeUnannounce(wire.Unannounce{Namespace: namespace}))
}

// SubscribeAnnounces issues a SUBSCRIBE_ANNOUNCES for a namespace prefix
// and blocks until SUBSCRIBE_ANNOUNCES_OK or _ERROR arrives, or ctx is
// cancelled. Once accepted, ANNOUNCE messages for namespaces under prefix
// arrive as AnnounceEvent values on Events().
func (s *Session) SubscribeAnnounces(ctx context.Context, prefix []string) error {
	s.mu.Lock()
	id, allocated := s.credit.allocate()
	if !allocated {
		s.mu.Unlock()
		return blockedError("no request id credit available")
	}
	fut := newFuture[wire.SubscribeAnnouncesOK]()
	s.pendingSubAnnounces[id] = &subAnnouncesWait{prefix: prefix, fut: fut}
	s.mu.Unlock()

	err := s.sendControl(wire.MsgSubscribeAnnounces, wire.SerializeSubscribeAnnounces(wire.SubscribeAnnounces{
		RequestID: id, NamespacePrefix: prefix,
	}))
	if err != nil {
		s.mu.Lock()
		delete(s.pendingSubAnnounces, id)
		s.mu.Unlock()
		return err
	}

	if _, waitErr := fut.wait(ctx.Done()); waitErr != nil {
		s.mu.Lock()
		delete(s.pendingSubAnnounces, id)
		s.mu.Unlock()
		return waitErr
	}
	return nil
}

// UnsubscribeAnnounces withdraws interest in ANNOUNCEs under prefix.
func (s *Session) UnsubscribeAnnounces(prefix []string) error {
	return s.sendControl(wire.MsgUnsubscribeAnnounces, wire.SerializeUnsubscribeAnnounces(wire.UnsubscribeAnnounces{NamespacePrefix: prefix}))
}
