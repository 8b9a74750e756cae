package session

import (
	"github.com/zsiec/moqsession/transport"
	"github.com/zsiec/moqsession/wire"
)

// This file holds the inbound control-message handlers dispatchControl
// routes to: one per MoQ control message type, each either resolving a
// future this session is already holding or enqueueing an Event for the
// application to act on.

func (s *Session) handleSubscribe(payload []byte) error {
	msg, err := wire.ParseSubscribe(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.credit.accepts(msg.RequestID) {
		s.mu.Unlock()
		return ErrSubscribeIDExceeded
	}
	if _, exists := s.publishers[msg.RequestID]; exists {
		s.mu.Unlock()
		return ErrDuplicateSubscribe
	}
	s.mu.Unlock()

	req := &SubscribeRequest{
		sess:          s,
		msg:           msg,
		fullTrackName: wire.FullTrackName{Namespace: msg.Namespace, Name: msg.TrackName},
	}
	select {
	case s.events <- req:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleSubscribeOK(payload []byte) error {
	ok, err := wire.ParseSubscribeOK(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state, exists := s.subscribeByID[ok.RequestID]
	if exists {
		state.trackAlias = ok.TrackAlias
		state.hasAlias = true
		s.subscribeByAlias[ok.TrackAlias] = state
	}
	s.mu.Unlock()
	if !exists {
		// Late or duplicate OK for a subscribe we've already torn down.
		return nil
	}
	_ = state.okFuture.fulfill(ok)
	return nil
}

func (s *Session) handleSubscribeError(payload []byte) error {
	se, err := wire.ParseSubscribeError(payload)
	if err != nil {
		return err
	}

	state := s.removeSubscribeReceiveState(se.RequestID)
	if state == nil {
		return nil
	}
	if state.cancel != nil {
		state.cancel()
	}
	err = state.okFuture.fail(&SubscribeError{SubscribeID: se.RequestID, Code: se.ErrorCode, ReasonPhrase: se.ReasonPhrase})
	if err != nil {
		// SUBSCRIBE_OK already fulfilled the future before this error
		// arrived; the caller is past the point of receiving a failed
		// Subscribe call, so end the subscription through SubscribeDone
		// with the session-closed code and reason instead of dropping it;
		// the peer's own error code and reason phrase are not forwarded.
		consumer := state.consumer
		state.release()
		if consumer != nil {
			consumer.SubscribeDone(sessionClosedCode, sessionClosedReason)
		}
	}
	s.checkDrainComplete()
	return nil
}

func (s *Session) handleSubscribeDone(payload []byte) error {
	sd, err := wire.ParseSubscribeDone(payload)
	if err != nil {
		return err
	}

	state := s.removeSubscribeReceiveState(sd.RequestID)
	if state == nil {
		return nil
	}
	consumer := state.consumer
	state.release()
	if state.cancel != nil {
		state.cancel()
	}
	if consumer != nil {
		consumer.SubscribeDone(sd.StatusCode, sd.ReasonPhrase)
	}
	s.checkDrainComplete()
	return nil
}

func (s *Session) handleUnsubscribe(payload []byte) error {
	u, err := wire.ParseUnsubscribe(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	entry, exists := s.publishers[u.RequestID]
	s.mu.Unlock()
	if !exists {
		return nil
	}
	if entry.kind == publisherKindTrack {
		entry.track.Reset(transport.StreamErrorCode(ResetCancelled))
	} else {
		entry.fetch.Reset(transport.StreamErrorCode(ResetCancelled))
	}
	s.removePublisher(u.RequestID)
	s.retireSubscribe()
	return nil
}

func (s *Session) handleFetch(payload []byte) error {
	msg, err := wire.ParseFetch(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.credit.accepts(msg.RequestID) {
		s.mu.Unlock()
		return ErrSubscribeIDExceeded
	}
	if _, exists := s.publishers[msg.RequestID]; exists {
		s.mu.Unlock()
		return ErrDuplicateSubscribe
	}
	s.mu.Unlock()

	req := &FetchRequest{
		sess:          s,
		msg:           msg,
		fullTrackName: wire.FullTrackName{Namespace: msg.Namespace, Name: msg.TrackName},
	}
	select {
	case s.events <- req:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleFetchOK(payload []byte) error {
	fok, err := wire.ParseFetchOK(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	state, exists := s.fetchReceivers[fok.RequestID]
	s.mu.Unlock()
	if !exists {
		return nil
	}
	state.fetchOkReceived = true
	_ = state.okFuture.fulfill(fok)
	return nil
}

func (s *Session) handleFetchError(payload []byte) error {
	fe, err := wire.ParseFetchError(payload)
	if err != nil {
		return err
	}

	state := s.removeFetchReceiveState(fe.RequestID)
	if state == nil {
		return nil
	}
	if state.cancel != nil {
		state.cancel()
	}
	_ = state.okFuture.fail(&FetchError{SubscribeID: fe.RequestID, Code: fe.ErrorCode, ReasonPhrase: fe.ReasonPhrase})
	s.checkDrainComplete()
	return nil
}

func (s *Session) handleFetchCancel(payload []byte) error {
	fc, err := wire.ParseFetchCancel(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	entry, exists := s.publishers[fc.RequestID]
	s.mu.Unlock()
	if !exists || entry.kind != publisherKindFetch {
		return nil
	}
	entry.fetch.Reset(transport.StreamErrorCode(ResetCancelled))
	s.removePublisher(fc.RequestID)
	s.retireSubscribe()
	return nil
}

func (s *Session) handleAnnounce(payload []byte) error {
	a, err := wire.ParseAnnounce(payload)
	if err != nil {
		return err
	}

	ev := &AnnounceEvent{sess: s, msg: a}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleAnnounceOK(payload []byte) error {
	ok, err := wire.ParseAnnounceOK(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p, exists := s.pendingAnnounces[ok.RequestID]
	if exists {
		delete(s.pendingAnnounces, ok.RequestID)
	}
	s.mu.Unlock()
	if !exists {
		return nil
	}
	_ = p.fut.fulfill(ok)
	return nil
}

func (s *Session) handleAnnounceError(payload []byte) error {
	ae, err := wire.ParseAnnounceError(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p, exists := s.pendingAnnounces[ae.RequestID]
	if exists {
		delete(s.pendingAnnounces, ae.RequestID)
	}
	s.mu.Unlock()
	if !exists {
		return nil
	}
	_ = p.fut.fail(&AnnounceError{Namespace: p.namespace, Code: ae.ErrorCode, ReasonPhrase: ae.ReasonPhrase})
	return nil
}

func (s *Session) handleUnannounce(payload []byte) error {
	u, err := wire.ParseUnannounce(payload)
	if err != nil {
		return err
	}

	ev := &UnannounceEvent{Namespace: u.Namespace}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleAnnounceCancel(payload []byte) error {
	ac, err := wire.ParseAnnounceCancel(payload)
	if err != nil {
		return err
	}

	ev := &AnnounceCancelEvent{Namespace: ac.Namespace, Code: ac.ErrorCode, ReasonPhrase: ac.ReasonPhrase}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleSubscribeAnnounces(payload []byte) error {
	sa, err := wire.ParseSubscribeAnnounces(payload)
	if err != nil {
		return err
	}

	req := &SubscribeAnnouncesRequest{sess: s, msg: sa}
	select {
	case s.events <- req:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleSubscribeAnnouncesOK(payload []byte) error {
	ok, err := wire.ParseSubscribeAnnouncesOK(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p, exists := s.pendingSubAnnounces[ok.RequestID]
	if exists {
		delete(s.pendingSubAnnounces, ok.RequestID)
	}
	s.mu.Unlock()
	if !exists {
		return nil
	}
	_ = p.fut.fulfill(ok)
	return nil
}

func (s *Session) handleSubscribeAnnouncesError(payload []byte) error {
	se, err := wire.ParseSubscribeAnnouncesError(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	p, exists := s.pendingSubAnnounces[se.RequestID]
	if exists {
		delete(s.pendingSubAnnounces, se.RequestID)
	}
	s.mu.Unlock()
	if !exists {
		return nil
	}
	_ = p.fut.fail(&SubscribeAnnouncesError{NamespacePrefix: p.prefix, Code: se.ErrorCode, ReasonPhrase: se.ReasonPhrase})
	return nil
}

func (s *Session) handleUnsubscribeAnnounces(payload []byte) error {
	u, err := wire.ParseUnsubscribeAnnounces(payload)
	if err != nil {
		return err
	}

	ev := &UnsubscribeAnnouncesEvent{NamespacePrefix: u.NamespacePrefix}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleMaxSubscribeID(payload []byte) error {
	m, err := wire.ParseMaxSubscribeID(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credit.setPeerMaxSubscribeID(m.SubscribeID)
}

func (s *Session) handleTrackStatusRequest(payload []byte) error {
	tsr, err := wire.ParseTrackStatusRequest(payload)
	if err != nil {
		return err
	}

	ev := &TrackStatusRequestEvent{sess: s, msg: tsr}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleTrackStatus(payload []byte) error {
	ts, err := wire.ParseTrackStatus(payload)
	if err != nil {
		return err
	}

	ev := &TrackStatusEvent{
		FullTrackName: wire.FullTrackName{Namespace: ts.Namespace, Name: ts.TrackName},
		StatusCode:    ts.StatusCode,
		LargestGroup:  ts.LargestGroup,
		LargestObj:    ts.LargestObj,
	}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
	return nil
}

func (s *Session) handleGoAway(payload []byte) error {
	ga, err := wire.ParseGoAway(payload)
	if err != nil {
		return err
	}

	ev := &GoAwayEvent{NewSessionURI: ga.NewSessionURI}
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
	return nil
}
