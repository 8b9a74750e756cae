package session

import (
	"context"

	"github.com/quic-go/quic-go/quicvarint"

	"github.com/zsiec/moqsession/transport"
	"github.com/zsiec/moqsession/wire"
)

// writeResult reports whether an in-progress multi-chunk object write has
// completed.
type writeResult int

const (
	ResultInProgress writeResult = iota
	ResultDone
)

// baseWriter holds the validation state common to both subgroup and fetch
// stream writers: the monotonic object-ID sentinel, the partial-object
// accounting for beginObject/objectPayload, and the terminal/cancelled
// flags that make every operation idempotent-to-error once the stream is
// done.
type baseWriter struct {
	out transport.SendStream

	hasLastObjectID        bool
	lastObjectID            uint64
	inProgress              bool
	currentLengthRemaining  uint64

	finalized bool
	cancelled bool

	// onClose, if set, is invoked exactly once when the stream reaches a
	// terminal state (clean finish or reset) so the owning publisher can
	// drop its map entry. Captured as a closure rather than a parent
	// pointer to keep the writer testable standalone.
	onClose    func()
	closedOnce bool
}

func (b *baseWriter) notifyClosed() {
	if b.closedOnce {
		return
	}
	b.closedOnce = true
	if b.onClose != nil {
		b.onClose()
	}
}

func (b *baseWriter) checkWritable() error {
	if b.cancelled {
		return cancelledError("stream writer cancelled")
	}
	if b.finalized {
		return apiError("stream writer already finalized")
	}
	return nil
}

func (b *baseWriter) checkNewObjectID(id uint64) error {
	if b.inProgress {
		return apiError("object already in progress")
	}
	if b.hasLastObjectID && id <= b.lastObjectID {
		return apiError("object id does not strictly increase")
	}
	return nil
}

func (b *baseWriter) recordObjectID(id uint64) {
	b.hasLastObjectID = true
	b.lastObjectID = id
}

func (b *baseWriter) writeRaw(buf []byte) error {
	if _, err := b.out.Write(buf); err != nil {
		b.cancelled = true
		return writeError("stream write failed", err)
	}
	return nil
}

func (b *baseWriter) writeFunc(fn func() error) error {
	if err := fn(); err != nil {
		b.cancelled = true
		return writeError("stream write failed", err)
	}
	return nil
}

func (b *baseWriter) resetOnViolation(code transport.StreamErrorCode) {
	b.out.CancelWrite(code)
	b.finalized = true
	b.notifyClosed()
}

// awaitReadyToConsume returns nil at once unless ctx is already done; it
// does not wait on any transport writable signal, since the transport
// interface in this module has no explicit writable-future. Callers supply the
// deadline via ctx and rely on the next Write call blocking/erroring per
// the underlying stream's flow control.
func (b *baseWriter) awaitReadyToConsume(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return cancelledError("awaitReadyToConsume cancelled")
	default:
		return nil
	}
}

// subgroupStreamWriter writes one SUBGROUP_HEADER followed by a sequence of
// objects sharing (trackAlias, group, subgroup) to a single unidirectional
// stream.
type subgroupStreamWriter struct {
	base baseWriter

	trackAlias uint64
	group      uint64
	subgroup   uint64
}

// newSubgroupStreamWriter writes the SUBGROUP_HEADER immediately and
// returns a writer ready to accept objects.
func newSubgroupStreamWriter(out transport.SendStream, trackAlias, group, subgroup uint64, priority byte) (*subgroupStreamWriter, error) {
	w := &subgroupStreamWriter{base: baseWriter{out: out}, trackAlias: trackAlias, group: group, subgroup: subgroup}
	if err := wire.WriteSubgroupHeader(out, wire.SubgroupHeader{
		TrackAlias: trackAlias,
		Group:      group,
		Subgroup:   subgroup,
		Priority:   priority,
	}); err != nil {
		w.base.cancelled = true
		return nil, writeError("write subgroup header", err)
	}
	return w, nil
}

// Object writes a single-shot NORMAL object.
func (w *subgroupStreamWriter) Object(objectID uint64, payload []byte, finStream bool) error {
	if err := w.base.checkWritable(); err != nil {
		return err
	}
	if err := w.base.checkNewObjectID(objectID); err != nil {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return err
	}
	h := wire.ObjectHeader{ID: objectID, Status: wire.StatusNormal}
	if err := w.base.writeFunc(func() error { return wire.WriteSubgroupObject(w.base.out, h, payload) }); err != nil {
		return err
	}
	w.base.recordObjectID(objectID)
	if finStream {
		return w.finishStream()
	}
	return nil
}

func (w *subgroupStreamWriter) writeStatusOnly(objectID uint64, status wire.ObjectStatus, finStream bool) error {
	if err := w.base.checkWritable(); err != nil {
		return err
	}
	if status != wire.StatusEndOfSubgroup {
		if err := w.base.checkNewObjectID(objectID); err != nil {
			w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
			return err
		}
	} else if w.base.inProgress {
		return apiError("endOfSubgroup with a partial object outstanding")
	}
	h := wire.ObjectHeader{ID: objectID, Status: status}
	if err := w.base.writeFunc(func() error { return wire.WriteSubgroupObject(w.base.out, h, nil) }); err != nil {
		return err
	}
	if status != wire.StatusEndOfSubgroup {
		w.base.recordObjectID(objectID)
	}
	if finStream || status == wire.StatusEndOfSubgroup || status == wire.StatusEndOfTrackAndGroup {
		return w.finishStream()
	}
	return nil
}

// ObjectNotExists writes an OBJECT_NOT_EXIST status object.
func (w *subgroupStreamWriter) ObjectNotExists(objectID uint64, finStream bool) error {
	return w.writeStatusOnly(objectID, wire.StatusObjectNotExist, finStream)
}

// EndOfGroup writes an END_OF_GROUP status object.
func (w *subgroupStreamWriter) EndOfGroup(objectID uint64) error {
	return w.writeStatusOnly(objectID, wire.StatusEndOfGroup, false)
}

// EndOfTrackAndGroup writes an END_OF_TRACK_AND_GROUP status object and
// finalizes the stream.
func (w *subgroupStreamWriter) EndOfTrackAndGroup(objectID uint64) error {
	return w.writeStatusOnly(objectID, wire.StatusEndOfTrackAndGroup, false)
}

// GroupNotExists writes a GROUP_NOT_EXIST status object.
func (w *subgroupStreamWriter) GroupNotExists(objectID uint64) error {
	return w.writeStatusOnly(objectID, wire.StatusGroupNotExist, false)
}

// EndOfSubgroup finalizes the stream cleanly. It fails if a partial object
// is outstanding.
func (w *subgroupStreamWriter) EndOfSubgroup() error {
	nextID := uint64(0)
	if w.base.hasLastObjectID {
		nextID = w.base.lastObjectID + 1
	}
	return w.writeStatusOnly(nextID, wire.StatusEndOfSubgroup, false)
}

// BeginObject starts a multi-chunk object write.
func (w *subgroupStreamWriter) BeginObject(objectID uint64, length uint64, initialPayload []byte) error {
	if err := w.base.checkWritable(); err != nil {
		return err
	}
	if err := w.base.checkNewObjectID(objectID); err != nil {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return err
	}
	if uint64(len(initialPayload)) > length {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return apiError("beginObject initial payload exceeds length")
	}

	var buf []byte
	buf = quicvarint.Append(buf, objectID)
	buf = quicvarint.Append(buf, length)
	buf = append(buf, initialPayload...)
	if err := w.base.writeRaw(buf); err != nil {
		return err
	}

	w.base.recordObjectID(objectID)
	w.base.inProgress = length-uint64(len(initialPayload)) > 0
	w.base.currentLengthRemaining = length - uint64(len(initialPayload))
	return nil
}

// ObjectPayload appends to the in-progress object.
func (w *subgroupStreamWriter) ObjectPayload(payload []byte, finStream bool) (writeResult, error) {
	if err := w.base.checkWritable(); err != nil {
		return ResultInProgress, err
	}
	if !w.base.inProgress {
		return ResultInProgress, apiError("objectPayload with no object in progress")
	}
	if uint64(len(payload)) > w.base.currentLengthRemaining {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return ResultInProgress, apiError("objectPayload exceeds declared length")
	}
	if finStream && w.base.currentLengthRemaining-uint64(len(payload)) > 0 {
		return ResultInProgress, apiError("finStream while object remaining > 0")
	}

	if err := w.base.writeRaw(payload); err != nil {
		return ResultInProgress, err
	}
	w.base.currentLengthRemaining -= uint64(len(payload))
	if w.base.currentLengthRemaining == 0 {
		w.base.inProgress = false
		if finStream {
			if err := w.finishStream(); err != nil {
				return ResultDone, err
			}
		}
		return ResultDone, nil
	}
	return ResultInProgress, nil
}

// Reset transitions to the terminal state and resets the underlying
// stream.
func (w *subgroupStreamWriter) Reset(code transport.StreamErrorCode) {
	w.base.resetOnViolation(code)
	w.base.cancelled = true
}

// AwaitReadyToConsume returns nil unless ctx is already done; see
// baseWriter.awaitReadyToConsume.
func (w *subgroupStreamWriter) AwaitReadyToConsume(ctx context.Context) error {
	return w.base.awaitReadyToConsume(ctx)
}

func (w *subgroupStreamWriter) finishStream() error {
	w.base.finalized = true
	w.base.notifyClosed()
	return w.base.out.Close()
}

// fetchStreamWriter writes one FETCH_HEADER followed by a sequence of
// objects that may span multiple groups, in the order agreed at FETCH_OK.
type fetchStreamWriter struct {
	base       baseWriter
	requestID  uint64
	groupOrder GroupOrder

	hasLastGroup bool
	lastGroup    uint64

	// curGroup/curSubgroup hold the (group, subgroup) of the in-progress
	// BeginObject call, since ObjectPayload itself carries no positional
	// parameters.
	curGroup    uint64
	curSubgroup uint64
}

// newFetchStreamWriter writes the FETCH_HEADER immediately.
func newFetchStreamWriter(out transport.SendStream, requestID uint64, order GroupOrder) (*fetchStreamWriter, error) {
	w := &fetchStreamWriter{base: baseWriter{out: out}, requestID: requestID, groupOrder: order}
	if err := wire.WriteFetchHeader(out, wire.FetchHeader{RequestID: requestID}); err != nil {
		w.base.cancelled = true
		return nil, writeError("write fetch header", err)
	}
	return w, nil
}

// checkGroup enforces that a group number never regresses on the stream,
// whatever group order was agreed: groups must be written in ascending
// order. A group advance
// resets the per-stream lastObjectID sentinel, per §4.2.
func (w *fetchStreamWriter) checkGroup(group uint64) error {
	if !w.hasLastGroup {
		w.hasLastGroup = true
		w.lastGroup = group
		return nil
	}
	if group == w.lastGroup {
		return nil
	}
	if group < w.lastGroup {
		// TODO: newest-first fetch group order would accept a regression
		// here; the spec leaves that variant unresolved and this adopts
		// the strict monotone policy.
		return apiError("fetch stream group regressed")
	}
	w.lastGroup = group
	w.base.hasLastObjectID = false
	return nil
}

// Object writes a single-shot NORMAL object on the fetch stream.
func (w *fetchStreamWriter) Object(group, subgroup, objectID uint64, payload []byte, finStream bool) error {
	if err := w.base.checkWritable(); err != nil {
		return err
	}
	if err := w.checkGroup(group); err != nil {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return err
	}
	if err := w.base.checkNewObjectID(objectID); err != nil {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return err
	}
	h := wire.ObjectHeader{Group: group, Subgroup: subgroup, ID: objectID, Status: wire.StatusNormal}
	if err := w.base.writeFunc(func() error { return wire.WriteFetchObject(w.base.out, h, payload) }); err != nil {
		return err
	}
	w.base.recordObjectID(objectID)
	if finStream {
		return w.finishStream()
	}
	return nil
}

func (w *fetchStreamWriter) writeStatusOnly(group, subgroup, objectID uint64, status wire.ObjectStatus) error {
	if err := w.base.checkWritable(); err != nil {
		return err
	}
	if err := w.checkGroup(group); err != nil {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return err
	}
	if err := w.base.checkNewObjectID(objectID); err != nil {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return err
	}
	h := wire.ObjectHeader{Group: group, Subgroup: subgroup, ID: objectID, Status: status}
	if err := w.base.writeFunc(func() error { return wire.WriteFetchObject(w.base.out, h, nil) }); err != nil {
		return err
	}
	w.base.recordObjectID(objectID)
	return nil
}

// ObjectNotExists writes an OBJECT_NOT_EXIST status object on the fetch
// stream.
func (w *fetchStreamWriter) ObjectNotExists(group, subgroup, objectID uint64, finStream bool) error {
	if err := w.writeStatusOnly(group, subgroup, objectID, wire.StatusObjectNotExist); err != nil {
		return err
	}
	if finStream {
		return w.finishStream()
	}
	return nil
}

// EndOfGroup writes an END_OF_GROUP status object on the fetch stream.
func (w *fetchStreamWriter) EndOfGroup(group, subgroup, objectID uint64) error {
	return w.writeStatusOnly(group, subgroup, objectID, wire.StatusEndOfGroup)
}

// GroupNotExists writes a GROUP_NOT_EXIST status object on the fetch
// stream.
func (w *fetchStreamWriter) GroupNotExists(group, subgroup, objectID uint64) error {
	return w.writeStatusOnly(group, subgroup, objectID, wire.StatusGroupNotExist)
}

// BeginObject starts a multi-chunk object write on the fetch stream.
func (w *fetchStreamWriter) BeginObject(group, subgroup, objectID uint64, length uint64, initialPayload []byte) error {
	if err := w.base.checkWritable(); err != nil {
		return err
	}
	if err := w.checkGroup(group); err != nil {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return err
	}
	if err := w.base.checkNewObjectID(objectID); err != nil {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return err
	}
	if uint64(len(initialPayload)) > length {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return apiError("beginObject initial payload exceeds length")
	}

	var buf []byte
	buf = quicvarint.Append(buf, group)
	buf = quicvarint.Append(buf, subgroup)
	buf = quicvarint.Append(buf, objectID)
	buf = append(buf, 0) // priority byte, unused per object on a fetch stream
	buf = quicvarint.Append(buf, length)
	buf = append(buf, initialPayload...)
	if err := w.base.writeRaw(buf); err != nil {
		return err
	}

	w.base.recordObjectID(objectID)
	w.curGroup, w.curSubgroup = group, subgroup
	w.base.inProgress = length-uint64(len(initialPayload)) > 0
	w.base.currentLengthRemaining = length - uint64(len(initialPayload))
	return nil
}

// ObjectPayload appends to the in-progress object on the fetch stream.
func (w *fetchStreamWriter) ObjectPayload(payload []byte, finStream bool) (writeResult, error) {
	if err := w.base.checkWritable(); err != nil {
		return ResultInProgress, err
	}
	if !w.base.inProgress {
		return ResultInProgress, apiError("objectPayload with no object in progress")
	}
	if uint64(len(payload)) > w.base.currentLengthRemaining {
		w.base.resetOnViolation(transport.StreamErrorCode(ResetInternalError))
		return ResultInProgress, apiError("objectPayload exceeds declared length")
	}
	if finStream && w.base.currentLengthRemaining-uint64(len(payload)) > 0 {
		return ResultInProgress, apiError("finStream while object remaining > 0")
	}

	if err := w.base.writeRaw(payload); err != nil {
		return ResultInProgress, err
	}
	w.base.currentLengthRemaining -= uint64(len(payload))
	if w.base.currentLengthRemaining == 0 {
		w.base.inProgress = false
		if finStream {
			if err := w.finishStream(); err != nil {
				return ResultDone, err
			}
		}
		return ResultDone, nil
	}
	return ResultInProgress, nil
}

// EndOfFetch finalizes the fetch stream cleanly.
func (w *fetchStreamWriter) EndOfFetch(group, subgroup, objectID uint64) error {
	if err := w.base.checkWritable(); err != nil {
		return err
	}
	h := wire.ObjectHeader{Group: group, Subgroup: subgroup, ID: objectID, Status: wire.StatusEndOfTrackAndGroup}
	if err := w.base.writeFunc(func() error { return wire.WriteFetchObject(w.base.out, h, nil) }); err != nil {
		return err
	}
	return w.finishStream()
}

// Reset transitions to the terminal state and resets the underlying
// stream.
func (w *fetchStreamWriter) Reset(code transport.StreamErrorCode) {
	w.base.resetOnViolation(code)
	w.base.cancelled = true
}

// AwaitReadyToConsume returns nil unless ctx is already done; see
// baseWriter.awaitReadyToConsume.
func (w *fetchStreamWriter) AwaitReadyToConsume(ctx context.Context) error {
	return w.base.awaitReadyToConsume(ctx)
}

func (w *fetchStreamWriter) finishStream() error {
	w.base.finalized = true
	w.base.notifyClosed()
	return w.base.out.Close()
}
