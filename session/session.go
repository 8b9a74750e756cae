package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/moqsession/transport"
	"github.com/zsiec/moqsession/wire"
)

// Role distinguishes which side of the CLIENT_SETUP/SERVER_SETUP exchange a
// Session plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// State is the session lifecycle state machine: Init -> SetupInFlight ->
// Established -> Draining -> Closed.
type State int32

const (
	StateInit State = iota
	StateSetupInFlight
	StateEstablished
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSetupInFlight:
		return "setup_in_flight"
	case StateEstablished:
		return "established"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const setupTimeout = 5 * time.Second

// Config constructs a Session: built by the embedding application, not
// read from a file or environment.
type Config struct {
	Role Role

	// InitialMaxSubscribeID is the MAX_SUBSCRIBE_ID we advertise to the
	// peer at setup, and the threshold creditTracker uses to decide when
	// to raise it further as subscriptions close.
	InitialMaxSubscribeID uint64

	// Path is sent as the CLIENT_SETUP PATH parameter; ignored for
	// RoleServer.
	Path string

	// ServerSetupCallback resolves an inbound CLIENT_SETUP into the
	// ServerSetup to reply with; required for RoleServer, ignored for
	// RoleClient.
	ServerSetupCallback ServerSetupCallback

	// EventBuffer sizes the channel Events() returns. Zero uses a small
	// default.
	EventBuffer int

	Logger *slog.Logger
}

type publisherKind int

const (
	publisherKindTrack publisherKind = iota
	publisherKindFetch
)

// publisherEntry is the tagged-variant publisher state: Go has no sum
// types, so this is a kind tag plus two nil-able pointers, mutually
// exclusive by invariant rather than by the type system.
type publisherEntry struct {
	kind  publisherKind
	track *trackPublisher
	fetch *fetchPublisher
}

type announceWait struct {
	namespace []string
	fut       *future[wire.AnnounceOK]
}

type subAnnouncesWait struct {
	prefix []string
	fut    *future[wire.SubscribeAnnouncesOK]
}

// Stats holds the handful of counters read cross-goroutine for
// observability. Everything else the session tracks lives behind mu and
// is only ever touched synchronously.
type Stats struct {
	BytesSent        atomic.Int64
	BytesReceived    atomic.Int64
	SubscribesActive atomic.Int64
	FetchesActive    atomic.Int64
}

type setupOutcome struct {
	peerMaxSubscribeID uint64
}

// Session multiplexes the control-plane request/response protocol and the
// per-object data-plane stream state machines for one MoQ-over-WebTransport
// connection. One Session per accepted or dialed transport.Session.
type Session struct {
	cfg Config
	log *slog.Logger

	conn          transport.Session
	control       transport.Stream
	controlReader *bufio.Reader
	controlMu     sync.Mutex

	mu                  sync.Mutex
	state               State
	credit              *creditTracker
	nextTrackAlias      uint64
	publishers          map[uint64]*publisherEntry
	subscribeByID       map[uint64]*subscribeReceiveState
	subscribeByAlias    map[uint64]*subscribeReceiveState
	fetchReceivers      map[uint64]*fetchReceiveState
	pendingAnnounces    map[uint64]*announceWait
	pendingSubAnnounces map[uint64]*subAnnouncesWait

	setupFuture *future[setupOutcome]

	events chan Event

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	Stats Stats
}

// NewSession wraps an established transport.Session and its MoQ control
// stream. control must already be open: the caller opened it (client) or
// accepted it (server) before constructing the Session.
func NewSession(conn transport.Session, control transport.Stream, cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.InitialMaxSubscribeID == 0 {
		cfg.InitialMaxSubscribeID = 100
	}
	eventBuf := cfg.EventBuffer
	if eventBuf == 0 {
		eventBuf = 64
	}

	ctx, cancel := context.WithCancel(context.Background())
	control.SetPriority(0, 0, false)

	return &Session{
		cfg:                 cfg,
		log:                 log,
		conn:                conn,
		control:             control,
		controlReader:       bufio.NewReader(control),
		credit:              newCreditTracker(cfg.InitialMaxSubscribeID),
		publishers:          make(map[uint64]*publisherEntry),
		subscribeByID:       make(map[uint64]*subscribeReceiveState),
		subscribeByAlias:    make(map[uint64]*subscribeReceiveState),
		fetchReceivers:      make(map[uint64]*fetchReceiveState),
		pendingAnnounces:    make(map[uint64]*announceWait),
		pendingSubAnnounces: make(map[uint64]*subAnnouncesWait),
		setupFuture:         newFuture[setupOutcome](),
		events:              make(chan Event, eventBuf),
		ctx:                 ctx,
		cancel:              cancel,
	}
}

// Events returns the channel carrying control messages the application
// must react to rather than ones the session correlates to a pending
// request on its own: inbound SUBSCRIBE/FETCH/ANNOUNCE offers and the
// catch-all TRACK_STATUS/TRACK_STATUS_REQUEST/GOAWAY/UNANNOUNCE group.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run performs the setup handshake and then drives the session until ctx
// is cancelled, the transport fails, or Close is called. It returns the
// terminating error, nil for a graceful close.
func (s *Session) Run(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Close(CloseNoError, "context cancelled")
		case <-s.ctx.Done():
		}
	}()

	if err := s.runSetup(); err != nil {
		s.Close(CloseInternalError, err.Error())
		return err
	}
	s.setState(StateEstablished)

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.readLoop() })
	g.Go(func() error { return s.acceptUniLoop(gctx) })
	g.Go(func() error { return s.datagramLoop(gctx) })

	err := g.Wait()
	if err != nil && s.ctx.Err() == nil {
		s.Close(CloseInternalError, err.Error())
	}
	if s.ctx.Err() != nil {
		return nil
	}
	return err
}

// runSetup performs the CLIENT_SETUP/SERVER_SETUP exchange under a
// 5-second deadline.
func (s *Session) runSetup() error {
	s.setState(StateSetupInFlight)
	ctx, cancel := context.WithTimeout(s.ctx, setupTimeout)
	defer cancel()

	if s.cfg.Role == RoleClient {
		return s.runClientSetup(ctx)
	}
	return s.runServerSetup(ctx)
}

func (s *Session) runClientSetup(ctx context.Context) error {
	cs := wire.ClientSetup{
		Versions:       []uint64{wire.Version},
		MaxSubscribeID: s.cfg.InitialMaxSubscribeID,
		Path:           s.cfg.Path,
		HasPath:        s.cfg.Path != "",
	}
	if err := s.writeControlDirect(wire.MsgClientSetup, wire.SerializeClientSetup(cs)); err != nil {
		return fmt.Errorf("write CLIENT_SETUP: %w", err)
	}

	type result struct {
		ss  wire.ServerSetup
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		msgType, payload, err := wire.ReadControlMsg(s.controlReader)
		if err != nil {
			resCh <- result{err: fmt.Errorf("read SERVER_SETUP: %w", err)}
			return
		}
		if msgType != wire.MsgServerSetup {
			resCh <- result{err: fmt.Errorf("expected SERVER_SETUP (0x%x), got 0x%x", wire.MsgServerSetup, msgType)}
			return
		}
		ss, err := wire.ParseServerSetup(payload)
		if err != nil {
			resCh <- result{err: fmt.Errorf("parse SERVER_SETUP: %w", err)}
			return
		}
		resCh <- result{ss: ss}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return res.err
		}
		if res.ss.SelectedVersion != wire.Version {
			return fmt.Errorf("%w: server selected %#x", wire.ErrVersionMismatch, res.ss.SelectedVersion)
		}
		s.mu.Lock()
		err := s.credit.setPeerMaxSubscribeID(res.ss.MaxSubscribeID)
		s.mu.Unlock()
		if err != nil {
			return err
		}
		_ = s.setupFuture.fulfill(setupOutcome{peerMaxSubscribeID: res.ss.MaxSubscribeID})
		return nil
	}
}

func (s *Session) runServerSetup(ctx context.Context) error {
	type result struct {
		cs  wire.ClientSetup
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		msgType, payload, err := wire.ReadControlMsg(s.controlReader)
		if err != nil {
			resCh <- result{err: fmt.Errorf("read CLIENT_SETUP: %w", err)}
			return
		}
		if msgType != wire.MsgClientSetup {
			resCh <- result{err: fmt.Errorf("expected CLIENT_SETUP (0x%x), got 0x%x", wire.MsgClientSetup, msgType)}
			return
		}
		cs, err := wire.ParseClientSetup(payload)
		if err != nil {
			resCh <- result{err: fmt.Errorf("parse CLIENT_SETUP: %w", err)}
			return
		}
		resCh <- result{cs: cs}
	}()

	var cs wire.ClientSetup
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resCh:
		if res.err != nil {
			return res.err
		}
		cs = res.cs
	}

	versionOK := false
	for _, v := range cs.Versions {
		if v == wire.Version {
			versionOK = true
			break
		}
	}
	if !versionOK {
		return fmt.Errorf("%w (client offered %v)", wire.ErrVersionMismatch, cs.Versions)
	}

	ss := wire.ServerSetup{SelectedVersion: wire.Version, MaxSubscribeID: s.cfg.InitialMaxSubscribeID}
	var err error
	if s.cfg.ServerSetupCallback != nil {
		ss, err = s.cfg.ServerSetupCallback(cs)
		if err != nil {
			return fmt.Errorf("server setup callback: %w", err)
		}
	}

	if err := s.writeControlDirect(wire.MsgServerSetup, wire.SerializeServerSetup(ss)); err != nil {
		return fmt.Errorf("write SERVER_SETUP: %w", err)
	}

	s.mu.Lock()
	err = s.credit.setPeerMaxSubscribeID(cs.MaxSubscribeID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_ = s.setupFuture.fulfill(setupOutcome{peerMaxSubscribeID: cs.MaxSubscribeID})
	return nil
}

// AwaitSetup blocks until the setup handshake completes or fails.
func (s *Session) AwaitSetup(ctx context.Context) error {
	_, err := s.setupFuture.wait(ctx.Done())
	return err
}

// sendControl serializes and writes one control message, guarded by
// controlMu so concurrent callers never interleave partial frames.
// WriteControlMsg's single Write call is atomic on its own; the mutex
// only serializes multiple callers' turns, the same shape as the
// teacher's controlMu.Lock()/WriteControlMsg/controlMu.Unlock() pattern.
func (s *Session) sendControl(msgType uint64, payload []byte) error {
	return s.writeControlDirect(msgType, payload)
}

func (s *Session) writeControlDirect(msgType uint64, payload []byte) error {
	s.controlMu.Lock()
	defer s.controlMu.Unlock()
	if err := wire.WriteControlMsg(s.control, msgType, payload); err != nil {
		return writeError("write control message", err)
	}
	s.Stats.BytesSent.Add(int64(len(payload)))
	return nil
}

// readLoop reads and dispatches control messages until the stream fails or
// the session closes. A codec/dispatch failure is fatal: it closes the
// session with PROTOCOL_VIOLATION, except a subscribe-id-space overrun
// (ErrSubscribeIDExceeded), which closes with TOO_MANY_SUBSCRIBES.
func (s *Session) readLoop() error {
	for {
		msgType, payload, err := wire.ReadControlMsg(s.controlReader)
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return writeError("control read failed", err)
		}
		s.Stats.BytesReceived.Add(int64(len(payload)))

		if err := s.dispatchControl(msgType, payload); err != nil {
			closeCode := transport.SessionErrorCode(CloseProtocolViolation)
			if errors.Is(err, ErrSubscribeIDExceeded) {
				closeCode = CloseTooManySubscribes
			}
			s.log.Warn("control dispatch failed, closing session", "msgType", msgType, "error", err)
			s.Close(closeCode, err.Error())
			return err
		}
	}
}

func (s *Session) dispatchControl(msgType uint64, payload []byte) error {
	switch msgType {
	case wire.MsgSubscribe:
		return s.handleSubscribe(payload)
	case wire.MsgSubscribeOK:
		return s.handleSubscribeOK(payload)
	case wire.MsgSubscribeError:
		return s.handleSubscribeError(payload)
	case wire.MsgSubscribeDone:
		return s.handleSubscribeDone(payload)
	case wire.MsgUnsubscribe:
		return s.handleUnsubscribe(payload)
	case wire.MsgFetch:
		return s.handleFetch(payload)
	case wire.MsgFetchOK:
		return s.handleFetchOK(payload)
	case wire.MsgFetchError:
		return s.handleFetchError(payload)
	case wire.MsgFetchCancel:
		return s.handleFetchCancel(payload)
	case wire.MsgAnnounce:
		return s.handleAnnounce(payload)
	case wire.MsgAnnounceOK:
		return s.handleAnnounceOK(payload)
	case wire.MsgAnnounceError:
		return s.handleAnnounceError(payload)
	case wire.MsgUnannounce:
		return s.handleUnannounce(payload)
	case wire.MsgAnnounceCancel:
		return s.handleAnnounceCancel(payload)
	case wire.MsgSubscribeAnnounces:
		return s.handleSubscribeAnnounces(payload)
	case wire.MsgSubscribeAnnouncesOK:
		return s.handleSubscribeAnnouncesOK(payload)
	case wire.MsgSubscribeAnnouncesError:
		return s.handleSubscribeAnnouncesError(payload)
	case wire.MsgUnsubscribeAnnounces:
		return s.handleUnsubscribeAnnounces(payload)
	case wire.MsgMaxSubscribeID:
		return s.handleMaxSubscribeID(payload)
	case wire.MsgTrackStatusRequest:
		return s.handleTrackStatusRequest(payload)
	case wire.MsgTrackStatus:
		return s.handleTrackStatus(payload)
	case wire.MsgGoAway:
		return s.handleGoAway(payload)
	default:
		return fmt.Errorf("unknown control message type %#x", msgType)
	}
}

// acceptUniLoop accepts inbound unidirectional data streams and hands each
// to its own streamReader goroutine.
func (s *Session) acceptUniLoop(ctx context.Context) error {
	for {
		stream, err := s.conn.AcceptUniStream(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go newStreamReader(s, stream).run()
	}
}

// datagramLoop receives and dispatches OBJECT_DATAGRAMs.
func (s *Session) datagramLoop(ctx context.Context) error {
	for {
		data, err := s.conn.ReceiveDatagram(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.handleDatagram(data); err != nil {
			s.log.Warn("datagram dispatch failed, closing session", "error", err)
			s.Close(CloseProtocolViolation, err.Error())
			return err
		}
	}
}

// handleDatagram decodes an OBJECT_DATAGRAM and routes it to the
// subscription its TrackAlias identifies. DecodeDatagram checks the leading
// stream-type tag and the header's declared length against what's actually
// in the datagram; either mismatch is a protocol violation here just like a
// bad control message.
func (s *Session) handleDatagram(data []byte) error {
	h, payload, err := wire.DecodeDatagram(data)
	if err != nil {
		return fmt.Errorf("decode OBJECT_DATAGRAM: %w", err)
	}

	s.mu.Lock()
	state := s.subscribeByAlias[h.TrackAlias]
	s.mu.Unlock()
	if state == nil || state.released() {
		return nil
	}
	oh := wire.ObjectHeader{Group: h.Group, ID: h.ID, Priority: h.Priority, Status: h.Status}
	return state.consumer.Datagram(oh, payload)
}

// openUniStreamSync opens a new unidirectional stream, blocking on flow
// control.
func (s *Session) openUniStreamSync(ctx context.Context) (transport.SendStream, error) {
	return s.conn.OpenUniStreamSync(ctx)
}

// applyStreamPriority projects a packed 64-bit stream priority onto the
// transport's (urgency, order, incremental) knobs. Urgency is fixed at 1
// for every data-plane stream (0 is reserved for the control stream); bits
// 50-57 of the packed priority — subscriber priority, which dominates
// the packing in priority.go — becomes the order byte, a lossy but
// order-preserving projection onto whatever coarser scheme the transport
// exposes.
func applyStreamPriority(stream transport.SendStream, pri uint64) {
	stream.SetPriority(1, byte(pri>>50), false)
}

// sendDatagram sends a pre-encoded OBJECT_DATAGRAM.
func (s *Session) sendDatagram(buf []byte) error {
	if err := s.conn.SendDatagram(buf); err != nil {
		return writeError("send datagram", err)
	}
	s.Stats.BytesSent.Add(int64(len(buf)))
	return nil
}

// removePublisher drops a publisher entry (SUBSCRIBE_DONE sent, FETCH
// stream exhausted, or the subscription/fetch was cancelled) and checks
// whether that completes a pending drain.
func (s *Session) removePublisher(subscribeID uint64) {
	s.mu.Lock()
	entry, exists := s.publishers[subscribeID]
	if exists {
		delete(s.publishers, subscribeID)
	}
	s.mu.Unlock()
	if exists {
		if entry.kind == publisherKindTrack {
			s.Stats.SubscribesActive.Add(-1)
		} else {
			s.Stats.FetchesActive.Add(-1)
		}
	}
	s.checkDrainComplete()
}

// retireSubscribe accounts for one completed subscribe/fetch against the
// credit window and advances MAX_SUBSCRIBE_ID to the peer once the
// retirement threshold is crossed.
func (s *Session) retireSubscribe() {
	s.mu.Lock()
	newMax, shouldSend := s.credit.retire()
	s.mu.Unlock()
	if !shouldSend {
		return
	}
	if err := s.sendControl(wire.MsgMaxSubscribeID, wire.SerializeMaxSubscribeID(newMax)); err != nil {
		s.log.Warn("failed to send MAX_SUBSCRIBE_ID", "error", err)
	}
}

func (s *Session) subscribeStateByAlias(alias uint64) *subscribeReceiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeByAlias[alias]
}

func (s *Session) fetchState(subscribeID uint64) *fetchReceiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchReceivers[subscribeID]
}

func (s *Session) removeFetchReceiveState(subscribeID uint64) *fetchReceiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.fetchReceivers[subscribeID]
	if !ok {
		return nil
	}
	delete(s.fetchReceivers, subscribeID)
	return state
}

func (s *Session) removeSubscribeReceiveState(subscribeID uint64) *subscribeReceiveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.subscribeByID[subscribeID]
	if !ok {
		return nil
	}
	delete(s.subscribeByID, subscribeID)
	if state.hasAlias {
		delete(s.subscribeByAlias, state.trackAlias)
	}
	return state
}

// wireGroupOrderToSession maps the three-valued wire GROUP_ORDER byte
// (default/ascending/descending) onto the two-valued scheduling order
// streamPriority packs. GroupOrderDefault defers to the publisher's own
// choice, which this session has no opinion on, so it degrades to
// OldestFirst.
func wireGroupOrderToSession(b byte) GroupOrder {
	if b == wire.GroupOrderDescending {
		return GroupOrderNewestFirst
	}
	return GroupOrderOldestFirst
}

func sessionGroupOrderToWire(o GroupOrder) byte {
	if o == GroupOrderNewestFirst {
		return wire.GroupOrderDescending
	}
	return wire.GroupOrderAscending
}

func forwardByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Close transitions the session directly to Closed: it resets every open
// publisher, fails every pending receive future and announce with
// "session closed", detaches the transport with code, and cancels the
// session's root context so every stream-reader and control loop
// goroutine unwinds. Idempotent.
func (s *Session) Close(code transport.SessionErrorCode, reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)

		s.mu.Lock()
		publishers := make([]*publisherEntry, 0, len(s.publishers))
		for _, p := range s.publishers {
			publishers = append(publishers, p)
		}
		subs := make([]*subscribeReceiveState, 0, len(s.subscribeByID))
		for _, st := range s.subscribeByID {
			subs = append(subs, st)
		}
		fetches := make([]*fetchReceiveState, 0, len(s.fetchReceivers))
		for _, st := range s.fetchReceivers {
			fetches = append(fetches, st)
		}
		pendingAnnounces := s.pendingAnnounces
		pendingSubAnnounces := s.pendingSubAnnounces
		s.publishers = make(map[uint64]*publisherEntry)
		s.subscribeByID = make(map[uint64]*subscribeReceiveState)
		s.subscribeByAlias = make(map[uint64]*subscribeReceiveState)
		s.fetchReceivers = make(map[uint64]*fetchReceiveState)
		s.pendingAnnounces = make(map[uint64]*announceWait)
		s.pendingSubAnnounces = make(map[uint64]*subAnnouncesWait)
		s.mu.Unlock()

		for _, p := range publishers {
			if p.kind == publisherKindTrack {
				p.track.Reset(transport.StreamErrorCode(ResetSessionClosed))
			} else {
				p.fetch.Reset(transport.StreamErrorCode(ResetSessionClosed))
			}
		}
		for _, st := range subs {
			consumer := st.consumer
			st.release()
			if st.cancel != nil {
				st.cancel()
			}
			if st.okFuture != nil {
				_ = st.okFuture.fail(&SubscribeError{SubscribeID: st.subscribeID, Code: sessionClosedCode, ReasonPhrase: sessionClosedReason})
			}
			if consumer != nil {
				consumer.SubscribeDone(sessionClosedCode, sessionClosedReason)
			}
		}
		for _, st := range fetches {
			st.release()
			if st.cancel != nil {
				st.cancel()
			}
			if st.okFuture != nil {
				_ = st.okFuture.fail(&FetchError{SubscribeID: st.subscribeID, Code: sessionClosedCode, ReasonPhrase: sessionClosedReason})
			}
		}
		for _, p := range pendingAnnounces {
			_ = p.fut.fail(&AnnounceError{Namespace: p.namespace, Code: sessionClosedCode, ReasonPhrase: sessionClosedReason})
		}
		for _, p := range pendingSubAnnounces {
			_ = p.fut.fail(&SubscribeAnnouncesError{NamespacePrefix: p.prefix, Code: sessionClosedCode, ReasonPhrase: sessionClosedReason})
		}
		_ = s.setupFuture.fail(ErrSessionClosed)

		_ = s.conn.CloseWithError(code, reason)
		s.cancel()
		close(s.events)
	})
}

// Drain enters the Draining state: once every fetch and subscribe this
// session holds outstanding on the receiving side finishes, the session
// transitions to Closed(NO_ERROR) on its own. Outbound publishers are not
// part of this condition: draining waits for what this side is waiting
// on, not what it is still serving to the peer.
func (s *Session) Drain() {
	s.mu.Lock()
	s.state = StateDraining
	empty := len(s.fetchReceivers) == 0 && len(s.subscribeByID) == 0
	s.mu.Unlock()
	if empty {
		s.Close(CloseNoError, "drained")
	}
}

// checkDrainComplete transitions Draining -> Closed once the fetch and
// subscribe receiver maps have both emptied out.
func (s *Session) checkDrainComplete() {
	s.mu.Lock()
	draining := s.state == StateDraining
	empty := len(s.fetchReceivers) == 0 && len(s.subscribeByID) == 0
	s.mu.Unlock()
	if draining && empty {
		s.Close(CloseNoError, "drained")
	}
}
