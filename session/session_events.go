package session

import (
	"sync"

	"github.com/zsiec/moqsession/wire"
)

// Event is anything the session cannot resolve against a future it is
// already holding: an inbound offer the application must accept or
// reject, or a notification with no reply. Concrete types are switched on
// by the application's Events() consumer — a tagged union expressed as a
// small closed interface rather than a class hierarchy.
type Event interface {
	isEvent()
}

// SubscribeRequest is delivered when the peer sends SUBSCRIBE for a track
// this session might serve. Exactly one of Accept or Reject must be
// called.
type SubscribeRequest struct {
	sess          *Session
	msg           wire.Subscribe
	fullTrackName wire.FullTrackName

	mu      sync.Mutex
	replied bool
}

func (*SubscribeRequest) isEvent() {}

func (r *SubscribeRequest) FullTrackName() wire.FullTrackName { return r.fullTrackName }
func (r *SubscribeRequest) SubscribeID() uint64                { return r.msg.RequestID }
func (r *SubscribeRequest) Priority() byte                     { return r.msg.Priority }
func (r *SubscribeRequest) GroupOrder() GroupOrder              { return wireGroupOrderToSession(r.msg.GroupOrder) }
func (r *SubscribeRequest) Forward() bool                       { return r.msg.Forward != 0 }
func (r *SubscribeRequest) FilterType() uint64                  { return r.msg.FilterType }
func (r *SubscribeRequest) StartGroup() uint64                  { return r.msg.StartGroup }
func (r *SubscribeRequest) StartObject() uint64                 { return r.msg.StartObj }
func (r *SubscribeRequest) EndGroup() uint64                    { return r.msg.EndGroup }

func (r *SubscribeRequest) markReplied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replied {
		return false
	}
	r.replied = true
	return true
}

// Accept admits the subscription, sends SUBSCRIBE_OK, and returns a
// publish handle the caller drives with data as it becomes available.
func (r *SubscribeRequest) Accept(trackAlias, expires uint64, contentExists bool, largestGroup, largestObj uint64) (*trackPublisher, error) {
	if !r.markReplied() {
		return nil, apiError("subscribe request already replied to")
	}

	order := wireGroupOrderToSession(r.msg.GroupOrder)
	pub := newTrackPublisher(r.sess, r.msg.RequestID, trackAlias, r.msg.Priority, order)

	r.sess.mu.Lock()
	r.sess.publishers[r.msg.RequestID] = &publisherEntry{kind: publisherKindTrack, track: pub}
	r.sess.mu.Unlock()
	r.sess.Stats.SubscribesActive.Add(1)

	err := r.sess.sendControl(wire.MsgSubscribeOK, wire.SerializeSubscribeOK(wire.SubscribeOK{
		RequestID:     r.msg.RequestID,
		TrackAlias:    trackAlias,
		Expires:       expires,
		GroupOrder:    sessionGroupOrderToWire(order),
		ContentExists: contentExists,
		LargestGroup:  largestGroup,
		LargestObj:    largestObj,
	}))
	if err != nil {
		r.sess.removePublisher(r.msg.RequestID)
		return nil, err
	}
	return pub, nil
}

// Reject declines the subscription with SUBSCRIBE_ERROR. A rejected
// subscribe ID retires immediately: it was never admitted into
// s.publishers, so nothing else will ever retire it on this session's
// behalf.
func (r *SubscribeRequest) Reject(code uint64, reason string) error {
	if !r.markReplied() {
		return apiError("subscribe request already replied to")
	}
	err := r.sess.sendControl(wire.MsgSubscribeError, wire.SerializeSubscribeError(wire.SubscribeError{
		RequestID: r.msg.RequestID, ErrorCode: code, ReasonPhrase: reason,
	}))
	r.sess.retireSubscribe()
	return err
}

// FetchRequest is delivered when the peer sends FETCH for a track this
// session might serve as a standalone range read. Exactly one of Accept
// or Reject must be called.
type FetchRequest struct {
	sess          *Session
	msg           wire.Fetch
	fullTrackName wire.FullTrackName

	mu      sync.Mutex
	replied bool
}

func (*FetchRequest) isEvent() {}

func (r *FetchRequest) FullTrackName() wire.FullTrackName { return r.fullTrackName }
func (r *FetchRequest) FetchID() uint64                    { return r.msg.RequestID }
func (r *FetchRequest) FetchType() uint64                  { return r.msg.FetchType }
func (r *FetchRequest) Priority() byte                     { return r.msg.Priority }
func (r *FetchRequest) GroupOrder() GroupOrder             { return wireGroupOrderToSession(r.msg.GroupOrder) }
func (r *FetchRequest) StartGroup() uint64                 { return r.msg.StartGroup }
func (r *FetchRequest) StartObject() uint64                { return r.msg.StartObj }
func (r *FetchRequest) EndGroup() uint64                   { return r.msg.EndGroup }
func (r *FetchRequest) EndObject() uint64                  { return r.msg.EndObj }

func (r *FetchRequest) markReplied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replied {
		return false
	}
	r.replied = true
	return true
}

// Accept admits the fetch, sends FETCH_OK, and returns a publish handle
// whose BeginFetch opens the single response stream.
func (r *FetchRequest) Accept(endOfTrack bool, largestGroup, largestObj uint64) (*fetchPublisher, error) {
	if !r.markReplied() {
		return nil, apiError("fetch request already replied to")
	}

	pub := newFetchPublisher(r.sess, r.msg.RequestID, r.msg.Priority)

	r.sess.mu.Lock()
	r.sess.publishers[r.msg.RequestID] = &publisherEntry{kind: publisherKindFetch, fetch: pub}
	r.sess.mu.Unlock()
	r.sess.Stats.FetchesActive.Add(1)

	err := r.sess.sendControl(wire.MsgFetchOK, wire.SerializeFetchOK(wire.FetchOK{
		RequestID:    r.msg.RequestID,
		GroupOrder:   r.msg.GroupOrder,
		EndOfTrack:   endOfTrack,
		LargestGroup: largestGroup,
		LargestObj:   largestObj,
	}))
	if err != nil {
		r.sess.removePublisher(r.msg.RequestID)
		return nil, err
	}
	return pub, nil
}

// Reject declines the fetch with FETCH_ERROR.
func (r *FetchRequest) Reject(code uint64, reason string) error {
	if !r.markReplied() {
		return apiError("fetch request already replied to")
	}
	return r.sess.sendControl(wire.MsgFetchError, wire.SerializeFetchError(wire.FetchError{
		RequestID: r.msg.RequestID, ErrorCode: code, ReasonPhrase: reason,
	}))
}

// AnnounceEvent is delivered when the peer sends ANNOUNCE for a
// namespace. Exactly one of Accept or Reject must be called.
type AnnounceEvent struct {
	sess *Session
	msg  wire.Announce

	mu      sync.Mutex
	replied bool
}

func (*AnnounceEvent) isEvent() {}

func (e *AnnounceEvent) Namespace() []string { return e.msg.Namespace }

func (e *AnnounceEvent) markReplied() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.replied {
		return false
	}
	e.replied = true
	return true
}

func (e *AnnounceEvent) Accept() error {
	if !e.markReplied() {
		return apiError("announce already replied to")
	}
	return e.sess.sendControl(wire.MsgAnnounceOK, wire.SerializeAnnounceOK(wire.AnnounceOK{RequestID: e.msg.RequestID}))
}

func (e *AnnounceEvent) Reject(code uint64, reason string) error {
	if !e.markReplied() {
		return apiError("announce already replied to")
	}
	return e.sess.sendControl(wire.MsgAnnounceError, wire.SerializeAnnounceError(wire.AnnounceError{
		RequestID: e.msg.RequestID, ErrorCode: code, ReasonPhrase: reason,
	}))
}

// SubscribeAnnouncesRequest is delivered when the peer sends
// SUBSCRIBE_ANNOUNCES for a namespace prefix. Exactly one of Accept or
// Reject must be called.
type SubscribeAnnouncesRequest struct {
	sess *Session
	msg  wire.SubscribeAnnounces

	mu      sync.Mutex
	replied bool
}

func (*SubscribeAnnouncesRequest) isEvent() {}

func (r *SubscribeAnnouncesRequest) NamespacePrefix() []string { return r.msg.NamespacePrefix }

func (r *SubscribeAnnouncesRequest) markReplied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replied {
		return false
	}
	r.replied = true
	return true
}

func (r *SubscribeAnnouncesRequest) Accept() error {
	if !r.markReplied() {
		return apiError("subscribe_announces already replied to")
	}
	return r.sess.sendControl(wire.MsgSubscribeAnnouncesOK, wire.SerializeSubscribeAnnouncesOK(wire.SubscribeAnnouncesOK{RequestID: r.msg.RequestID}))
}

func (r *SubscribeAnnouncesRequest) Reject(code uint64, reason string) error {
	if !r.markReplied() {
		return apiError("subscribe_announces already replied to")
	}
	return r.sess.sendControl(wire.MsgSubscribeAnnouncesError, wire.SerializeSubscribeAnnouncesError(wire.SubscribeAnnouncesError{
		RequestID: r.msg.RequestID, ErrorCode: code, ReasonPhrase: reason,
	}))
}

// TrackStatusRequestEvent is delivered when the peer sends
// TRACK_STATUS_REQUEST. Reply sends the TRACK_STATUS response.
type TrackStatusRequestEvent struct {
	sess *Session
	msg  wire.TrackStatusRequest
}

func (*TrackStatusRequestEvent) isEvent() {}

func (e *TrackStatusRequestEvent) FullTrackName() wire.FullTrackName {
	return wire.FullTrackName{Namespace: e.msg.Namespace, Name: e.msg.TrackName}
}

func (e *TrackStatusRequestEvent) Reply(statusCode, largestGroup, largestObj uint64) error {
	return e.sess.sendControl(wire.MsgTrackStatus, wire.SerializeTrackStatus(wire.TrackStatus{
		Namespace:    e.msg.Namespace,
		TrackName:    e.msg.TrackName,
		StatusCode:   statusCode,
		LargestGroup: largestGroup,
		LargestObj:   largestObj,
	}))
}

// UnannounceEvent notifies the application that the peer withdrew a
// previously announced namespace. No reply is expected.
type UnannounceEvent struct{ Namespace []string }

func (UnannounceEvent) isEvent() {}

// AnnounceCancelEvent notifies the application that the peer cancelled
// (rather than ever confirmed) an announce it had sent. No reply is
// expected.
type AnnounceCancelEvent struct {
	Namespace    []string
	Code         uint64
	ReasonPhrase string
}

func (AnnounceCancelEvent) isEvent() {}

// UnsubscribeAnnouncesEvent notifies the application that the peer no
// longer wants ANNOUNCE traffic for a namespace prefix. No reply is
// expected.
type UnsubscribeAnnouncesEvent struct{ NamespacePrefix []string }

func (UnsubscribeAnnouncesEvent) isEvent() {}

// TrackStatusEvent carries an unsolicited TRACK_STATUS push. No reply is
// expected.
type TrackStatusEvent struct {
	FullTrackName wire.FullTrackName
	StatusCode    uint64
	LargestGroup  uint64
	LargestObj    uint64
}

func (TrackStatusEvent) isEvent() {}

// GoAwayEvent notifies the application that the peer wants this session
// to migrate (possibly to NewSessionURI) and wind down. The application
// decides when to call Session.Drain.
type GoAwayEvent struct{ NewSessionURI string }

func (GoAwayEvent) isEvent() {}
