package session

import (
	"bufio"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/zsiec/moqsession/wire"
)

// newTestSession builds a Session over a fakeSession/fakeStream pair. Tests
// drive each side independently against fixed byte fixtures rather than a
// real pipe.
func newTestSession(t *testing.T, role Role, control *fakeStream, cfg Config) (*Session, *fakeSession) {
	t.Helper()
	cfg.Role = role
	if cfg.InitialMaxSubscribeID == 0 {
		cfg.InitialMaxSubscribeID = 10
	}
	sess := newFakeSession(control)
	return NewSession(sess, control, cfg), sess
}

func TestClientSetupHandshake(t *testing.T) {
	t.Parallel()

	serverSetup := wire.SerializeServerSetup(wire.ServerSetup{SelectedVersion: wire.Version, MaxSubscribeID: 50})
	var inbound []byte
	inbound = appendControlFrame(inbound, wire.MsgServerSetup, serverSetup)

	control := newFakeStream(inbound)
	s, _ := newTestSession(t, RoleClient, control, Config{})

	if err := s.runSetup(); err != nil {
		t.Fatalf("runSetup: %v", err)
	}

	sent := control.fakeSendStream.bytes()
	msgType, payload, rest := readOneFrame(t, sent)
	if msgType != wire.MsgClientSetup {
		t.Fatalf("first outbound message = %#x, want CLIENT_SETUP", msgType)
	}
	cs, err := wire.ParseClientSetup(payload)
	if err != nil {
		t.Fatalf("parse CLIENT_SETUP: %v", err)
	}
	if len(cs.Versions) != 1 || cs.Versions[0] != wire.Version {
		t.Fatalf("CLIENT_SETUP versions = %v", cs.Versions)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes after CLIENT_SETUP: %d", len(rest))
	}

	s.mu.Lock()
	peerMax := s.credit.peerMaxSubscribeID
	s.mu.Unlock()
	if peerMax != 50 {
		t.Fatalf("peerMaxSubscribeID = %d, want 50", peerMax)
	}
}

func TestServerSetupHandshake(t *testing.T) {
	t.Parallel()

	clientSetup := wire.SerializeClientSetup(wire.ClientSetup{Versions: []uint64{wire.Version}, MaxSubscribeID: 30})
	var inbound []byte
	inbound = appendControlFrame(inbound, wire.MsgClientSetup, clientSetup)

	control := newFakeStream(inbound)
	s, _ := newTestSession(t, RoleServer, control, Config{})

	if err := s.runSetup(); err != nil {
		t.Fatalf("runSetup: %v", err)
	}

	sent := control.fakeSendStream.bytes()
	msgType, payload, _ := readOneFrame(t, sent)
	if msgType != wire.MsgServerSetup {
		t.Fatalf("outbound message = %#x, want SERVER_SETUP", msgType)
	}
	ss, err := wire.ParseServerSetup(payload)
	if err != nil {
		t.Fatalf("parse SERVER_SETUP: %v", err)
	}
	if ss.SelectedVersion != wire.Version {
		t.Fatalf("selected version = %#x, want %#x", ss.SelectedVersion, wire.Version)
	}

	s.mu.Lock()
	peerMax := s.credit.peerMaxSubscribeID
	s.mu.Unlock()
	if peerMax != 30 {
		t.Fatalf("peerMaxSubscribeID = %d, want 30", peerMax)
	}
}

func TestSubscribeAcceptPublishesSubscribeOK(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleServer, control, Config{})
	s.setState(StateEstablished)

	msg := wire.Subscribe{RequestID: 0, Namespace: []string{"live"}, TrackName: "cam1", Priority: 5, GroupOrder: wire.GroupOrderAscending}
	if err := s.handleSubscribe(wire.SerializeSubscribe(msg)); err != nil {
		t.Fatalf("handleSubscribe: %v", err)
	}

	var ev Event
	select {
	case ev = <-s.events:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SubscribeRequest event")
	}
	req, ok := ev.(*SubscribeRequest)
	if !ok {
		t.Fatalf("event type = %T, want *SubscribeRequest", ev)
	}
	if req.SubscribeID() != 0 {
		t.Fatalf("SubscribeID() = %d, want 0", req.SubscribeID())
	}

	pub, err := req.Accept(7, 0, false, 0, 0)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if pub == nil {
		t.Fatal("Accept returned nil publisher")
	}

	sent := control.fakeSendStream.bytes()
	msgType, payload, _ := readOneFrame(t, sent)
	if msgType != wire.MsgSubscribeOK {
		t.Fatalf("outbound message = %#x, want SUBSCRIBE_OK", msgType)
	}
	ok2, err := wire.ParseSubscribeOK(payload)
	if err != nil {
		t.Fatalf("parse SUBSCRIBE_OK: %v", err)
	}
	if ok2.TrackAlias != 7 {
		t.Fatalf("TrackAlias = %d, want 7", ok2.TrackAlias)
	}

	// A second Accept/Reject must fail: exactly-once reply.
	if _, err := req.Accept(7, 0, false, 0, 0); err == nil {
		t.Fatal("expected second Accept to fail")
	}
}

func TestSubscribeRejectedOverCredit(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleServer, control, Config{InitialMaxSubscribeID: 1})
	s.setState(StateEstablished)

	msg := wire.Subscribe{RequestID: 5, Namespace: []string{"live"}, TrackName: "cam1"}
	if err := s.handleSubscribe(wire.SerializeSubscribe(msg)); err == nil {
		t.Fatal("expected handleSubscribe to reject an id beyond maxSubscribeID")
	}
}

// TestSubscribeRejectRetiresCredit verifies that declining an inbound
// SUBSCRIBE with SUBSCRIBE_ERROR still retires that subscribe ID's credit:
// a rejected subscribe never enters s.publishers, so Reject is the only
// place that will ever retire it.
func TestSubscribeRejectRetiresCredit(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleServer, control, Config{InitialMaxSubscribeID: 4})
	s.setState(StateEstablished)

	msg := wire.Subscribe{RequestID: 0, Namespace: []string{"live"}, TrackName: "cam1"}
	if err := s.handleSubscribe(wire.SerializeSubscribe(msg)); err != nil {
		t.Fatalf("handleSubscribe: %v", err)
	}

	var ev Event
	select {
	case ev = <-s.events:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SubscribeRequest event")
	}
	req := ev.(*SubscribeRequest)

	if err := req.Reject(404, "no such track"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	s.mu.Lock()
	closed := s.credit.closedSubscribes
	s.mu.Unlock()
	if closed != 1 {
		t.Fatalf("closedSubscribes = %d, want 1", closed)
	}
}

func TestOutboundSubscribeResolvesOnSubscribeOK(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleClient, control, Config{})
	s.setState(StateEstablished)

	s.mu.Lock()
	_ = s.credit.setPeerMaxSubscribeID(100)
	s.mu.Unlock()

	consumer := &recordingTrackConsumer{}
	resultCh := make(chan struct {
		ok  wire.SubscribeOK
		err error
	}, 1)
	go func() {
		ok, err := s.Subscribe(context.Background(), wire.FullTrackName{Namespace: []string{"live"}, Name: "cam1"}, 1, GroupOrderOldestFirst, true, 0, 0, 0, 0, consumer)
		resultCh <- struct {
			ok  wire.SubscribeOK
			err error
		}{ok, err}
	}()

	// Give Subscribe a chance to register state before the OK arrives.
	time.Sleep(10 * time.Millisecond)

	if err := s.handleSubscribeOK(wire.SerializeSubscribeOK(wire.SubscribeOK{RequestID: 0, TrackAlias: 99})); err != nil {
		t.Fatalf("handleSubscribeOK: %v", err)
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Subscribe returned error: %v", res.err)
		}
		if res.ok.TrackAlias != 99 {
			t.Fatalf("TrackAlias = %d, want 99", res.ok.TrackAlias)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Subscribe to resolve")
	}

	s.mu.Lock()
	_, stillPresent := s.subscribeByID[0]
	aliased := s.subscribeByAlias[99]
	s.mu.Unlock()
	if !stillPresent {
		t.Fatal("expected subscribeByID entry to remain after OK, pending Unsubscribe")
	}
	if aliased == nil {
		t.Fatal("expected subscribeByAlias to be populated from SUBSCRIBE_OK")
	}
}

func TestOutboundSubscribeResolvesOnSubscribeError(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleClient, control, Config{})
	s.setState(StateEstablished)

	s.mu.Lock()
	_ = s.credit.setPeerMaxSubscribeID(100)
	s.mu.Unlock()

	consumer := &recordingTrackConsumer{}
	resultCh := make(chan error, 1)
	go func() {
		_, err := s.Subscribe(context.Background(), wire.FullTrackName{Namespace: []string{"live"}, Name: "cam1"}, 1, GroupOrderOldestFirst, true, 0, 0, 0, 0, consumer)
		resultCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	if err := s.handleSubscribeError(wire.SerializeSubscribeError(wire.SubscribeError{RequestID: 0, ErrorCode: 404, ReasonPhrase: "no such track"})); err != nil {
		t.Fatalf("handleSubscribeError: %v", err)
	}

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected Subscribe to return an error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Subscribe to resolve")
	}
}

// TestSubscribeErrorAfterOKDeliversSubscribeDone covers a SUBSCRIBE_ERROR
// that arrives after SUBSCRIBE_OK already resolved the subscribe: the okFuture
// can't be failed twice, so the consumer must be told through SubscribeDone,
// with the session-closed code and reason, instead of the error being
// silently dropped.
func TestSubscribeErrorAfterOKDeliversSubscribeDone(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleClient, control, Config{})
	s.setState(StateEstablished)

	s.mu.Lock()
	_ = s.credit.setPeerMaxSubscribeID(100)
	s.mu.Unlock()

	consumer := &recordingTrackConsumer{}
	resultCh := make(chan error, 1)
	go func() {
		_, err := s.Subscribe(context.Background(), wire.FullTrackName{Namespace: []string{"live"}, Name: "cam1"}, 1, GroupOrderOldestFirst, true, 0, 0, 0, 0, consumer)
		resultCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	ok := wire.SerializeSubscribeOK(wire.SubscribeOK{RequestID: 0, TrackAlias: 99})
	if err := s.handleSubscribeOK(ok); err != nil {
		t.Fatalf("handleSubscribeOK: %v", err)
	}

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("Subscribe returned error after SUBSCRIBE_OK: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Subscribe to resolve")
	}

	se := wire.SerializeSubscribeError(wire.SubscribeError{RequestID: 0, ErrorCode: 404, ReasonPhrase: "too late"})
	if err := s.handleSubscribeError(se); err != nil {
		t.Fatalf("handleSubscribeError: %v", err)
	}

	if consumer.doneCode != sessionClosedCode {
		t.Fatalf("SubscribeDone code = %d, want %d", consumer.doneCode, sessionClosedCode)
	}
	if consumer.doneReason != sessionClosedReason {
		t.Fatalf("SubscribeDone reason = %q, want %q", consumer.doneReason, sessionClosedReason)
	}
}

func TestCloseFailsPendingSubscribeFuture(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleClient, control, Config{})
	s.setState(StateEstablished)

	s.mu.Lock()
	_ = s.credit.setPeerMaxSubscribeID(100)
	s.mu.Unlock()

	consumer := &recordingTrackConsumer{}
	resultCh := make(chan error, 1)
	go func() {
		_, err := s.Subscribe(context.Background(), wire.FullTrackName{Namespace: []string{"live"}, Name: "cam1"}, 1, GroupOrderOldestFirst, true, 0, 0, 0, 0, consumer)
		resultCh <- err
	}()
	time.Sleep(10 * time.Millisecond)

	s.Close(CloseNoError, "test teardown")

	select {
	case err := <-resultCh:
		if err == nil {
			t.Fatal("expected Subscribe to fail once the session closes")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Subscribe to resolve after Close")
	}
}

func TestRetireSubscribeSendsMaxSubscribeIDAtThreshold(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleServer, control, Config{InitialMaxSubscribeID: 10})
	s.setState(StateEstablished)

	for i := 0; i < 5; i++ {
		s.retireSubscribe()
	}

	sent := control.fakeSendStream.bytes()
	if len(sent) == 0 {
		t.Fatal("expected a MAX_SUBSCRIBE_ID message to have been sent")
	}
	msgType, payload, _ := readOneFrame(t, sent)
	if msgType != wire.MsgMaxSubscribeID {
		t.Fatalf("outbound message = %#x, want MAX_SUBSCRIBE_ID", msgType)
	}
	m, err := wire.ParseMaxSubscribeID(payload)
	if err != nil {
		t.Fatalf("parse MAX_SUBSCRIBE_ID: %v", err)
	}
	if m.SubscribeID != 15 {
		t.Fatalf("new MaxSubscribeID = %d, want 15", m.SubscribeID)
	}
}

// TestDrainIgnoresPublishers verifies that an outbound publisher with no
// local fetches or subscribes outstanding does not block Drain from closing
// the session immediately: draining waits for what this side is waiting on,
// not what it is still serving to the peer.
func TestDrainIgnoresPublishers(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleServer, control, Config{})
	s.setState(StateEstablished)

	s.mu.Lock()
	s.publishers[1] = &publisherEntry{kind: publisherKindTrack, track: newTrackPublisher(s, 1, 7, 0, GroupOrderOldestFirst)}
	s.mu.Unlock()

	s.Drain()

	if got := s.State(); got != StateClosed {
		t.Fatalf("session state = %v, want Closed", got)
	}
}

// TestDrainWaitsForReceivers verifies that Drain does not close the session
// while a subscribe receiver is still outstanding, and that the session
// closes once that receiver is removed and checkDrainComplete is reached.
func TestDrainWaitsForReceivers(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleServer, control, Config{})
	s.setState(StateEstablished)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.mu.Lock()
	s.subscribeByID[1] = &subscribeReceiveState{subscribeID: 1, okFuture: newFuture[wire.SubscribeOK](), ctx: ctx, cancel: cancel}
	s.mu.Unlock()

	s.Drain()

	if got := s.State(); got != StateDraining {
		t.Fatalf("session state = %v, want Draining", got)
	}

	s.removeSubscribeReceiveState(1)
	s.checkDrainComplete()

	if got := s.State(); got != StateClosed {
		t.Fatalf("session state after removing last receiver = %v, want Closed", got)
	}
}

// TestDrainClosesOnFetchError verifies that a session draining on an
// outstanding fetch (no subscribes pending) closes as soon as
// handleFetchError removes that fetch's receive state, mirroring
// TestDrainWaitsForReceivers on the fetch side.
func TestDrainClosesOnFetchError(t *testing.T) {
	t.Parallel()

	control := newFakeStream(nil)
	s, _ := newTestSession(t, RoleClient, control, Config{})
	s.setState(StateEstablished)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.mu.Lock()
	s.fetchReceivers[1] = &fetchReceiveState{subscribeID: 1, okFuture: newFuture[wire.FetchOK](), ctx: ctx, cancel: cancel}
	s.mu.Unlock()

	s.Drain()

	if got := s.State(); got != StateDraining {
		t.Fatalf("session state = %v, want Draining", got)
	}

	fe := wire.SerializeFetchError(wire.FetchError{RequestID: 1, ErrorCode: 404, ReasonPhrase: "gone"})
	if err := s.handleFetchError(fe); err != nil {
		t.Fatalf("handleFetchError: %v", err)
	}

	if got := s.State(); got != StateClosed {
		t.Fatalf("session state after fetch error = %v, want Closed", got)
	}
}

// recordingTrackConsumer is a minimal TrackConsumer for tests that only
// exercise control-plane correlation, never the data plane.
type recordingTrackConsumer struct {
	doneCode   uint64
	doneReason string
}

func (c *recordingTrackConsumer) BeginSubgroup(group, subgroup uint64, priority byte) (SubgroupConsumer, error) {
	return nil, apiError("not implemented in test fake")
}
func (c *recordingTrackConsumer) ObjectStream(group, subgroup uint64) (SubgroupConsumer, error) {
	return nil, apiError("not implemented in test fake")
}
func (c *recordingTrackConsumer) Datagram(h wire.ObjectHeader, payload []byte) error { return nil }
func (c *recordingTrackConsumer) GroupNotExists(group uint64)                        {}
func (c *recordingTrackConsumer) SubscribeDone(statusCode uint64, reason string) {
	c.doneCode = statusCode
	c.doneReason = reason
}
func (c *recordingTrackConsumer) AwaitStreamCredit(ctx context.Context) error { return nil }

// appendControlFrame appends one control frame in wire.WriteControlMsg's
// shape by calling it against a scratch buffer.
func appendControlFrame(buf []byte, msgType uint64, payload []byte) []byte {
	var scratch bytes.Buffer
	if err := wire.WriteControlMsg(&scratch, msgType, payload); err != nil {
		panic(err)
	}
	return append(buf, scratch.Bytes()...)
}

// readOneFrame parses exactly one control frame off the front of buf using
// wire.ReadControlMsg, and returns whatever remains unread.
func readOneFrame(t *testing.T, buf []byte) (msgType uint64, payload []byte, rest []byte) {
	t.Helper()
	r := bytes.NewReader(buf)
	br := bufio.NewReader(r)
	msgType, payload, err := wire.ReadControlMsg(br)
	if err != nil {
		t.Fatalf("ReadControlMsg: %v", err)
	}
	remaining := br.Buffered()
	restStart := len(buf) - remaining
	return msgType, payload, buf[restStart:]
}
