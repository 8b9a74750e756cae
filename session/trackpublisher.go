package session

import (
	"context"
	"sync"

	"github.com/zsiec/moqsession/transport"
	"github.com/zsiec/moqsession/wire"
)

// subgroupKey identifies one open subgroup stream within a track.
type subgroupKey struct {
	group    uint64
	subgroup uint64
}

// trackPublisher is the publish-side handle for one SUBSCRIBE this session
// accepted: it fans a track out to per-subgroup unidirectional streams, the
// datagram path, and the terminal SUBSCRIBE_DONE.
type trackPublisher struct {
	sess        *Session
	subscribeID uint64
	trackAlias  uint64
	subPriority byte
	groupOrder  GroupOrder

	mu        sync.Mutex
	subgroups map[subgroupKey]*subgroupStreamWriter
	done      bool
}

func newTrackPublisher(sess *Session, subscribeID, trackAlias uint64, subPriority byte, groupOrder GroupOrder) *trackPublisher {
	return &trackPublisher{
		sess:        sess,
		subscribeID: subscribeID,
		trackAlias:  trackAlias,
		subPriority: subPriority,
		groupOrder:  groupOrder,
		subgroups:   make(map[subgroupKey]*subgroupStreamWriter),
	}
}

// BeginSubgroup opens a new unidirectional stream for (group, subgroup) at
// the given publisher priority and returns a writer for its objects.
// Returns a BLOCKED error if the transport refuses a new stream for
// flow-control reasons; the caller should await stream credit and retry.
func (p *trackPublisher) BeginSubgroup(ctx context.Context, group, subgroup uint64, pubPriority byte) (*subgroupStreamWriter, error) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil, apiError("beginSubgroup after subscribeDone")
	}
	key := subgroupKey{group, subgroup}
	if _, exists := p.subgroups[key]; exists {
		p.mu.Unlock()
		return nil, apiError("subgroup already open")
	}
	p.mu.Unlock()

	out, err := p.sess.openUniStreamSync(ctx)
	if err != nil {
		return nil, blockedError("no stream credit available")
	}
	pri := streamPriority(group, subgroup, p.subPriority, pubPriority, p.groupOrder)
	applyStreamPriority(out, pri)

	w, err := newSubgroupStreamWriter(out, p.trackAlias, group, subgroup, pubPriority)
	if err != nil {
		return nil, err
	}
	w.base.onClose = func() { p.closeSubgroup(group, subgroup) }

	p.mu.Lock()
	p.subgroups[key] = w
	p.mu.Unlock()

	return w, nil
}

// closeSubgroup removes a completed or reset subgroup writer from the open
// set. Called back by the writer's onClose hook on stream completion.
func (p *trackPublisher) closeSubgroup(group, subgroup uint64) {
	p.mu.Lock()
	delete(p.subgroups, subgroupKey{group, subgroup})
	p.mu.Unlock()
}

// Datagram sends a single framed object via the transport's unreliable
// datagram channel, bypassing stream ordering entirely.
func (p *trackPublisher) Datagram(h wire.ObjectHeader, payload []byte) error {
	dh := wire.DatagramHeader{
		TrackAlias: p.trackAlias,
		Group:      h.Group,
		ID:         h.ID,
		Priority:   h.Priority,
		Status:     h.Status,
	}
	return p.sess.sendDatagram(wire.EncodeDatagram(dh, payload))
}

// SubscribeDone writes SUBSCRIBE_DONE on the control stream and removes
// this publisher from the session's bookkeeping. Idempotent: a second call
// after the first is a no-op, so callers don't need to track whether
// they've already released a subscription.
func (p *trackPublisher) SubscribeDone(statusCode uint64, reason string) error {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return nil
	}
	p.done = true
	p.mu.Unlock()

	err := p.sess.sendControl(wire.MsgSubscribeDone, wire.SerializeSubscribeDone(wire.SubscribeDone{
		RequestID:    p.subscribeID,
		StatusCode:   statusCode,
		ReasonPhrase: reason,
	}))
	p.sess.removePublisher(p.subscribeID)
	p.sess.retireSubscribe()
	return err
}

// Reset resets every open subgroup writer, e.g. on session close or an
// application-level abort of the whole subscription.
func (p *trackPublisher) Reset(code transport.StreamErrorCode) {
	p.mu.Lock()
	writers := make([]*subgroupStreamWriter, 0, len(p.subgroups))
	for _, w := range p.subgroups {
		writers = append(writers, w)
	}
	p.mu.Unlock()

	for _, w := range writers {
		w.Reset(code)
	}
}
