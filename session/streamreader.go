package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/moqsession/transport"
	"github.com/zsiec/moqsession/wire"
)

// streamReader drives one inbound unidirectional stream from its
// SUBGROUP_HEADER or FETCH_HEADER through to end-of-stream, dispatching
// decoded object frames to whichever receive state's consumer the header
// identifies. The two roles differ only in header shape and a handful of
// method names, so dispatch is two small functions switching on object
// status rather than an interface hierarchy.
type streamReader struct {
	sess   *Session
	stream transport.RecvStream
}

func newStreamReader(sess *Session, stream transport.RecvStream) *streamReader {
	return &streamReader{sess: sess, stream: stream}
}

// run is the entire lifetime of one accepted unidirectional stream. It
// never returns an error to its caller: protocol violations close the
// session directly, and anything else (peer reset, unsubscribe mid-flight,
// consumer-reported error) just ends this one stream's goroutine.
func (r *streamReader) run() {
	streamType, err := wire.ReadStreamType(r.stream)
	if err != nil {
		// Peer reset the stream before a header arrived; nothing to
		// dispatch and nothing abnormal about it.
		return
	}

	switch streamType {
	case wire.StreamTypeSubgroup, wire.StreamTypeSubgroupExt:
		r.runSubgroup()
	case wire.StreamTypeFetch:
		r.runFetch()
	default:
		r.sess.Close(CloseProtocolViolation, fmt.Sprintf("unknown stream type %#x", streamType))
	}
}

func (r *streamReader) runSubgroup() {
	h, err := wire.ReadSubgroupHeader(r.stream)
	if err != nil {
		r.sess.Close(CloseProtocolViolation, "malformed subgroup header")
		return
	}

	state := r.sess.subscribeStateByAlias(h.TrackAlias)
	if state == nil {
		r.stream.CancelRead(transport.StreamErrorCode(ResetCancelled))
		return
	}

	consumer, err := state.beginSubgroup(h.Group, h.Subgroup, h.Priority)
	if err != nil {
		r.stream.CancelRead(transport.StreamErrorCode(ResetCancelled))
		return
	}
	if consumer == nil {
		// Released (unsubscribed) between lookup and dispatch: drop the
		// stream silently.
		r.stream.CancelRead(transport.StreamErrorCode(ResetCancelled))
		return
	}

	done := make(chan struct{})
	defer close(done)
	go watchCancellation(state.ctx, r.stream, done)

	for {
		oh, payload, err := wire.ReadSubgroupObject(r.stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = consumer.EndOfSubgroup()
			}
			return
		}
		if oh.Status == wire.StatusGroupNotExist {
			state.consumer.GroupNotExists(oh.Group)
			continue
		}
		if err := dispatchSubgroupObject(consumer, oh, payload); err != nil {
			r.stream.CancelRead(transport.StreamErrorCode(ResetCancelled))
			return
		}
		if oh.Status == wire.StatusEndOfSubgroup || oh.Status == wire.StatusEndOfTrackAndGroup {
			return
		}
	}
}

func (r *streamReader) runFetch() {
	h, err := wire.ReadFetchHeader(r.stream)
	if err != nil {
		r.sess.Close(CloseProtocolViolation, "malformed fetch header")
		return
	}

	state := r.sess.fetchState(h.RequestID)
	if state == nil || state.released() {
		r.stream.CancelRead(transport.StreamErrorCode(ResetCancelled))
		return
	}
	consumer := state.consumer

	done := make(chan struct{})
	defer close(done)
	go watchCancellation(state.ctx, r.stream, done)

	for {
		oh, payload, err := wire.ReadFetchObject(r.stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.sess.removeFetchReceiveState(h.RequestID)
				r.sess.checkDrainComplete()
			}
			return
		}
		if err := dispatchFetchObject(consumer, oh, payload); err != nil {
			r.stream.CancelRead(transport.StreamErrorCode(ResetCancelled))
			return
		}
		if oh.Status == wire.StatusEndOfTrackAndGroup {
			r.sess.removeFetchReceiveState(h.RequestID)
			r.sess.checkDrainComplete()
			return
		}
	}
}

// dispatchSubgroupObject maps one decoded subgroup object frame onto the
// matching SubgroupConsumer method by status.
func dispatchSubgroupObject(c SubgroupConsumer, h wire.ObjectHeader, payload []byte) error {
	switch h.Status {
	case wire.StatusNormal:
		return c.Object(h.ID, payload, false)
	case wire.StatusObjectNotExist:
		return c.ObjectNotExists(h.ID)
	case wire.StatusEndOfGroup:
		return c.EndOfGroup(h.ID)
	case wire.StatusEndOfTrackAndGroup:
		return c.EndOfTrackAndGroup(h.ID)
	case wire.StatusEndOfSubgroup:
		return c.EndOfSubgroup()
	default:
		return apiError(fmt.Sprintf("unknown object status %d", h.Status))
	}
}

// dispatchFetchObject maps one decoded fetch object frame onto the matching
// FetchConsumer method by status. Only NORMAL, OBJECT_NOT_EXIST, and the
// terminal END_OF_TRACK_AND_GROUP status that fetchStreamWriter.EndOfFetch
// writes are dispatched; any other status, including the END_OF_GROUP and
// GROUP_NOT_EXIST objects fetchStreamWriter can also write, returns an error.
func dispatchFetchObject(c FetchConsumer, h wire.ObjectHeader, payload []byte) error {
	switch h.Status {
	case wire.StatusNormal:
		return c.Object(h.Group, h.Subgroup, h.ID, payload, false)
	case wire.StatusObjectNotExist:
		return c.ObjectNotExists(h.Group, h.Subgroup, h.ID)
	case wire.StatusEndOfTrackAndGroup:
		return c.EndOfFetch()
	default:
		return apiError(fmt.Sprintf("unexpected status %d on fetch stream", h.Status))
	}
}

// watchCancellation calls stream.CancelRead when ctx is cancelled before
// the stream's own goroutine finishes (done closes), unblocking a pending
// Read with a transport-level error rather than requiring a cancellable
// read primitive. This is how session close or a local unsubscribe
// propagates into a blocked stream reader goroutine.
func watchCancellation(ctx context.Context, stream transport.RecvStream, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		stream.CancelRead(transport.StreamErrorCode(ResetSessionClosed))
	case <-done:
	}
}
