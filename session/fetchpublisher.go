package session

import (
	"context"
	"sync"

	"github.com/zsiec/moqsession/transport"
)

// fetchPublisher is the publish-side handle for one FETCH this session
// accepted: a single-stream variant of trackPublisher, since a fetch
// response is exactly one unidirectional stream.
type fetchPublisher struct {
	sess        *Session
	subscribeID uint64
	subPriority byte

	mu     sync.Mutex
	stream *fetchStreamWriter
}

func newFetchPublisher(sess *Session, subscribeID uint64, subPriority byte) *fetchPublisher {
	return &fetchPublisher{sess: sess, subscribeID: subscribeID, subPriority: subPriority}
}

// BeginFetch opens the single unidirectional stream a FETCH response is
// served on, at streamPriority(0, 0, subPri, 0, groupOrder) — publisher priority
// is fixed at 0 for fetch responses, which have no per-object publisher
// priority of their own to carry.
func (p *fetchPublisher) BeginFetch(ctx context.Context, groupOrder GroupOrder) (*fetchStreamWriter, error) {
	p.mu.Lock()
	if p.stream != nil {
		p.mu.Unlock()
		return nil, apiError("fetch stream already begun")
	}
	p.mu.Unlock()

	out, err := p.sess.openUniStreamSync(ctx)
	if err != nil {
		return nil, blockedError("no stream credit available")
	}
	pri := streamPriority(0, 0, p.subPriority, 0, groupOrder)
	applyStreamPriority(out, pri)

	w, err := newFetchStreamWriter(out, p.subscribeID, groupOrder)
	if err != nil {
		return nil, err
	}
	w.base.onClose = func() {
		p.sess.removePublisher(p.subscribeID)
		p.sess.retireSubscribe()
	}

	p.mu.Lock()
	p.stream = w
	p.mu.Unlock()

	return w, nil
}

// Reset resets the in-flight fetch stream, if one has been opened.
func (p *fetchPublisher) Reset(code transport.StreamErrorCode) {
	p.mu.Lock()
	w := p.stream
	p.mu.Unlock()
	if w != nil {
		w.Reset(code)
	}
}
