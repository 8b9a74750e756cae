package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/moqsession/transport"
	"github.com/zsiec/moqsession/wire"
)

// blockingRecvStream serves data.Bytes() up front, then blocks any further
// Read until CancelRead is called, for exercising watchCancellation's
// unblock-a-pending-Read path.
type blockingRecvStream struct {
	mu        sync.Mutex
	r         *bytes.Reader
	cancelled bool
	blockCh   chan struct{}
}

func newBlockingRecvStream(data []byte) *blockingRecvStream {
	return &blockingRecvStream{r: bytes.NewReader(data), blockCh: make(chan struct{})}
}

func (s *blockingRecvStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.r.Len() > 0 {
		n, err := s.r.Read(p)
		s.mu.Unlock()
		return n, err
	}
	s.mu.Unlock()
	<-s.blockCh
	return 0, errors.New("stream cancelled")
}

func (s *blockingRecvStream) CancelRead(code transport.StreamErrorCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	s.cancelled = true
	close(s.blockCh)
}

func (s *blockingRecvStream) SetReadDeadline(t time.Time) error { return nil }
func (s *blockingRecvStream) StreamID() uint64                  { return 99 }
func (s *blockingRecvStream) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// capturingSubgroupConsumer records every call streamReader dispatches to
// it, for asserting the object/status sequence a subgroup stream produced.
type capturingSubgroupConsumer struct {
	objects      []uint64
	endOfSubGrp  bool
	endOfGrp     bool
	notExistsIDs []uint64
}

func (c *capturingSubgroupConsumer) Object(objectID uint64, payload []byte, finSubgroup bool) error {
	c.objects = append(c.objects, objectID)
	return nil
}
func (c *capturingSubgroupConsumer) ObjectNotExists(objectID uint64) error {
	c.notExistsIDs = append(c.notExistsIDs, objectID)
	return nil
}
func (c *capturingSubgroupConsumer) BeginObject(objectID uint64, length uint64, initialPayload []byte) error {
	return nil
}
func (c *capturingSubgroupConsumer) ObjectPayload(payload []byte, finSubgroup bool) (writeResult, error) {
	return ResultDone, nil
}
func (c *capturingSubgroupConsumer) EndOfGroup(objectID uint64) error { c.endOfGrp = true; return nil }
func (c *capturingSubgroupConsumer) EndOfTrackAndGroup(objectID uint64) error {
	c.endOfGrp = true
	return nil
}
func (c *capturingSubgroupConsumer) EndOfSubgroup() error {
	c.endOfSubGrp = true
	return nil
}
func (c *capturingSubgroupConsumer) Reset(code transport.StreamErrorCode) error { return nil }
func (c *capturingSubgroupConsumer) AwaitReadyToConsume(ctx context.Context) error { return nil }

type subgroupOfferingTrackConsumer struct {
	consumer *capturingSubgroupConsumer
}

func (c *subgroupOfferingTrackConsumer) BeginSubgroup(group, subgroup uint64, priority byte) (SubgroupConsumer, error) {
	return c.consumer, nil
}
func (c *subgroupOfferingTrackConsumer) ObjectStream(group, subgroup uint64) (SubgroupConsumer, error) {
	return c.consumer, nil
}
func (c *subgroupOfferingTrackConsumer) Datagram(h wire.ObjectHeader, payload []byte) error { return nil }
func (c *subgroupOfferingTrackConsumer) GroupNotExists(group uint64)                        {}
func (c *subgroupOfferingTrackConsumer) SubscribeDone(statusCode uint64, reason string)     {}
func (c *subgroupOfferingTrackConsumer) AwaitStreamCredit(ctx context.Context) error         { return nil }

func TestStreamReaderDispatchesSubgroupObjects(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := wire.WriteSubgroupHeader(&buf, wire.SubgroupHeader{TrackAlias: 42, Group: 1, Subgroup: 0, Priority: 3}); err != nil {
		t.Fatalf("WriteSubgroupHeader: %v", err)
	}
	if err := wire.WriteSubgroupObject(&buf, wire.ObjectHeader{ID: 0, Status: wire.StatusNormal}, []byte("frame0")); err != nil {
		t.Fatalf("WriteSubgroupObject: %v", err)
	}
	if err := wire.WriteSubgroupObject(&buf, wire.ObjectHeader{ID: 1, Status: wire.StatusEndOfSubgroup}, nil); err != nil {
		t.Fatalf("WriteSubgroupObject end: %v", err)
	}

	control := newFakeStream(nil)
	sess, _ := newTestSession(t, RoleServer, control, Config{})
	sess.setState(StateEstablished)

	consumer := &capturingSubgroupConsumer{}
	sctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	state := &subscribeReceiveState{
		subscribeID: 0,
		trackAlias:  42,
		hasAlias:    true,
		consumer:    &subgroupOfferingTrackConsumer{consumer: consumer},
		ctx:         sctx,
		cancel:      cancel,
	}
	sess.mu.Lock()
	sess.subscribeByAlias[42] = state
	sess.mu.Unlock()

	rs := newStreamReader(sess, newFakeRecvStream(buf.Bytes()))
	rs.run()

	if len(consumer.objects) != 1 || consumer.objects[0] != 0 {
		t.Fatalf("objects = %v, want [0]", consumer.objects)
	}
	if !consumer.endOfSubGrp {
		t.Fatal("expected EndOfSubgroup to have been called")
	}
}

func TestStreamReaderDropsSubgroupForUnknownAlias(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := wire.WriteSubgroupHeader(&buf, wire.SubgroupHeader{TrackAlias: 7, Group: 0, Subgroup: 0, Priority: 0}); err != nil {
		t.Fatalf("WriteSubgroupHeader: %v", err)
	}

	control := newFakeStream(nil)
	sess, _ := newTestSession(t, RoleServer, control, Config{})
	sess.setState(StateEstablished)

	recv := newFakeRecvStream(buf.Bytes())
	rs := newStreamReader(sess, recv)
	rs.run()

	if !recv.cancelled {
		t.Fatal("expected the stream to be cancelled for an unknown track alias")
	}
}

func TestStreamReaderCancelsOnContextDone(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := wire.WriteSubgroupHeader(&buf, wire.SubgroupHeader{TrackAlias: 1, Group: 0, Subgroup: 0, Priority: 0}); err != nil {
		t.Fatalf("WriteSubgroupHeader: %v", err)
	}
	// No objects follow: runSubgroup will block on ReadSubgroupObject until
	// the context cancellation unblocks it via CancelRead.

	control := newFakeStream(nil)
	sess, _ := newTestSession(t, RoleServer, control, Config{})
	sess.setState(StateEstablished)

	consumer := &capturingSubgroupConsumer{}
	sctx, cancel := context.WithCancel(context.Background())
	state := &subscribeReceiveState{
		subscribeID: 0,
		trackAlias:  1,
		hasAlias:    true,
		consumer:    &subgroupOfferingTrackConsumer{consumer: consumer},
		ctx:         sctx,
		cancel:      cancel,
	}
	sess.mu.Lock()
	sess.subscribeByAlias[1] = state
	sess.mu.Unlock()

	recv := newBlockingRecvStream(buf.Bytes())
	rs := newStreamReader(sess, recv)

	done := make(chan struct{})
	go func() {
		rs.run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for streamReader to unwind after cancellation")
	}
	if !recv.wasCancelled() {
		t.Fatal("expected CancelRead to have been called")
	}
}
