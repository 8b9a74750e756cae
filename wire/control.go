package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// MoQ Transport control message type IDs.
const (
	MsgSubscribe               uint64 = 0x03
	MsgSubscribeOK             uint64 = 0x04
	MsgSubscribeError          uint64 = 0x05
	MsgAnnounce                uint64 = 0x06
	MsgAnnounceOK              uint64 = 0x07
	MsgAnnounceError           uint64 = 0x08
	MsgUnannounce              uint64 = 0x09
	MsgUnsubscribe             uint64 = 0x0a
	MsgSubscribeDone           uint64 = 0x0b
	MsgAnnounceCancel          uint64 = 0x0c
	MsgTrackStatusRequest      uint64 = 0x0d
	MsgTrackStatus             uint64 = 0x0e
	MsgGoAway                  uint64 = 0x10
	MsgSubscribeAnnounces      uint64 = 0x11
	MsgSubscribeAnnouncesOK    uint64 = 0x12
	MsgSubscribeAnnouncesError uint64 = 0x13
	MsgUnsubscribeAnnounces    uint64 = 0x14
	MsgMaxSubscribeID          uint64 = 0x15
	MsgFetch                   uint64 = 0x16
	MsgFetchCancel             uint64 = 0x17
	MsgFetchOK                 uint64 = 0x18
	MsgFetchError              uint64 = 0x19
	MsgClientSetup             uint64 = 0x20
	MsgServerSetup             uint64 = 0x21
)

// Version is the MoQ Transport version this codec speaks.
const Version uint64 = 0xff00000f

// Setup parameter keys.
const (
	ParamPath         uint64 = 0x01 // odd -> length-prefixed byte string
	ParamMaxSubscribeID uint64 = 0x02 // even -> varint value
)

// Subscribe filter types.
const (
	FilterNextGroupStart uint64 = 0x01
	FilterLatestObject   uint64 = 0x02
	FilterAbsoluteStart  uint64 = 0x03
	FilterAbsoluteRange  uint64 = 0x04
)

// Group order values.
const (
	GroupOrderDefault    byte = 0x00
	GroupOrderAscending  byte = 0x01
	GroupOrderDescending byte = 0x02
)

// Fetch types.
const (
	FetchTypeStandalone uint64 = 0x01
	FetchTypeRelative   uint64 = 0x02
	FetchTypeAbsolute   uint64 = 0x03
)

// ClientSetup is the first message sent by a MoQ client.
type ClientSetup struct {
	Versions        []uint64
	Path            string
	MaxSubscribeID  uint64
	HasPath         bool
}

// ServerSetup is the response to a ClientSetup.
type ServerSetup struct {
	SelectedVersion uint64
	MaxSubscribeID  uint64
}

// Subscribe requests delivery of a track.
type Subscribe struct {
	RequestID  uint64
	Namespace  []string
	TrackName  string
	Priority   byte
	GroupOrder byte
	Forward    byte
	FilterType uint64
	StartGroup uint64 // AbsoluteStart / AbsoluteRange
	StartObj   uint64 // AbsoluteStart / AbsoluteRange
	EndGroup   uint64 // AbsoluteRange
}

// SubscribeOK confirms a subscription.
type SubscribeOK struct {
	RequestID     uint64
	TrackAlias    uint64
	Expires       uint64
	GroupOrder    byte
	ContentExists bool
	LargestGroup  uint64
	LargestObj    uint64
}

// SubscribeError rejects a subscription.
type SubscribeError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

// SubscribeDone announces that a publisher is done serving a subscription.
type SubscribeDone struct {
	RequestID    uint64
	StatusCode   uint64
	ReasonPhrase string
}

// Unsubscribe cancels a subscription.
type Unsubscribe struct {
	RequestID uint64
}

// Fetch requests a bounded range of objects from a track.
type Fetch struct {
	RequestID  uint64
	FetchType  uint64
	Namespace  []string
	TrackName  string
	Priority   byte
	GroupOrder byte
	StartGroup uint64
	StartObj   uint64
	EndGroup   uint64
	EndObj     uint64
}

// FetchOK confirms a fetch and announces the agreed group order.
type FetchOK struct {
	RequestID    uint64
	GroupOrder   byte
	EndOfTrack   bool
	LargestGroup uint64
	LargestObj   uint64
}

// FetchError rejects a fetch.
type FetchError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

// FetchCancel aborts an in-flight fetch.
type FetchCancel struct {
	RequestID uint64
}

// Announce advertises a namespace to the peer.
type Announce struct {
	RequestID uint64
	Namespace []string
}

// AnnounceOK acknowledges an Announce.
type AnnounceOK struct {
	RequestID uint64
}

// AnnounceError rejects an Announce.
type AnnounceError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

// Unannounce withdraws a previously announced namespace.
type Unannounce struct {
	Namespace []string
}

// AnnounceCancel tells a subscriber an announcement is no longer valid.
type AnnounceCancel struct {
	Namespace    []string
	ErrorCode    uint64
	ReasonPhrase string
}

// SubscribeAnnounces expresses interest in announcements under a namespace
// prefix.
type SubscribeAnnounces struct {
	RequestID       uint64
	NamespacePrefix []string
}

// SubscribeAnnouncesOK acknowledges a SubscribeAnnounces.
type SubscribeAnnouncesOK struct {
	RequestID uint64
}

// SubscribeAnnouncesError rejects a SubscribeAnnounces.
type SubscribeAnnouncesError struct {
	RequestID    uint64
	ErrorCode    uint64
	ReasonPhrase string
}

// UnsubscribeAnnounces withdraws interest in a namespace prefix.
type UnsubscribeAnnounces struct {
	NamespacePrefix []string
}

// MaxSubscribeIDMsg updates the peer's subscribe-ID quota.
type MaxSubscribeIDMsg struct {
	SubscribeID uint64
}

// GoAway signals a graceful session shutdown.
type GoAway struct {
	NewSessionURI string
}

// TrackStatusRequest asks the peer for the current status of a track.
type TrackStatusRequest struct {
	Namespace []string
	TrackName string
}

// TrackStatus reports the current status of a track.
type TrackStatus struct {
	Namespace    []string
	TrackName    string
	StatusCode   uint64
	LargestGroup uint64
	LargestObj   uint64
}

// ReadControlMsg reads a MoQ control message from the control stream.
// Wire format: [message_type (varint)] [message_length (uint16 big-endian)] [payload].
//
// Callers that read more than one message from the same stream must pass a
// reader that already implements io.ByteReader (e.g. bufio.Reader) so that
// quicvarint's one-byte-at-a-time reads don't get re-buffered and dropped
// between calls.
func ReadControlMsg(r io.Reader) (uint64, []byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		bufr := bufio.NewReader(r)
		br = bufr
		r = bufr
	}
	msgType, err := quicvarint.Read(br)
	if err != nil {
		return 0, nil, fmt.Errorf("read message type: %w", err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("read message length: %w", err)
	}
	length := binary.BigEndian.Uint16(lenBuf[:])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return 0, nil, fmt.Errorf("read message payload: %w", err)
		}
	}

	return msgType, payload, nil
}

// WriteControlMsg writes a MoQ control message to the control stream as a
// single Write call to ensure atomicity even without external
// synchronization.
func WriteControlMsg(w io.Writer, msgType uint64, payload []byte) error {
	var buf []byte
	buf = quicvarint.Append(buf, msgType)

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ParseClientSetup parses a CLIENT_SETUP payload.
func ParseClientSetup(data []byte) (ClientSetup, error) {
	r := newBufReader(data)
	var cs ClientSetup

	numVersions, err := r.readVarint()
	if err != nil {
		return cs, &ParseError{Message: "CLIENT_SETUP", Field: "num_versions", Err: err}
	}

	cs.Versions = make([]uint64, numVersions)
	for i := uint64(0); i < numVersions; i++ {
		v, err := r.readVarint()
		if err != nil {
			return cs, &ParseError{Message: "CLIENT_SETUP", Field: "version", Err: err}
		}
		cs.Versions[i] = v
	}

	numParams, err := r.readVarint()
	if err != nil {
		return cs, &ParseError{Message: "CLIENT_SETUP", Field: "num_params", Err: err}
	}

	for i := uint64(0); i < numParams; i++ {
		key, err := r.readVarint()
		if err != nil {
			return cs, &ParseError{Message: "CLIENT_SETUP", Field: "param_key", Err: err}
		}

		if key%2 == 1 {
			val, err := r.readVarIntBytes()
			if err != nil {
				return cs, &ParseError{Message: "CLIENT_SETUP", Field: "param_value", Err: err}
			}
			if key == ParamPath {
				cs.Path = string(val)
				cs.HasPath = true
			}
		} else {
			val, err := r.readVarint()
			if err != nil {
				return cs, &ParseError{Message: "CLIENT_SETUP", Field: "param_value", Err: err}
			}
			if key == ParamMaxSubscribeID {
				cs.MaxSubscribeID = val
			}
		}
	}

	return cs, nil
}

// ParseServerSetup parses a SERVER_SETUP payload.
func ParseServerSetup(data []byte) (ServerSetup, error) {
	r := newBufReader(data)
	var ss ServerSetup

	var err error
	ss.SelectedVersion, err = r.readVarint()
	if err != nil {
		return ss, &ParseError{Message: "SERVER_SETUP", Field: "selected_version", Err: err}
	}

	numParams, err := r.readVarint()
	if err != nil {
		return ss, &ParseError{Message: "SERVER_SETUP", Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		key, err := r.readVarint()
		if err != nil {
			return ss, &ParseError{Message: "SERVER_SETUP", Field: "param_key", Err: err}
		}
		if key%2 == 1 {
			if _, err := r.readVarIntBytes(); err != nil {
				return ss, &ParseError{Message: "SERVER_SETUP", Field: "param_value", Err: err}
			}
		} else {
			val, err := r.readVarint()
			if err != nil {
				return ss, &ParseError{Message: "SERVER_SETUP", Field: "param_value", Err: err}
			}
			if key == ParamMaxSubscribeID {
				ss.MaxSubscribeID = val
			}
		}
	}
	return ss, nil
}

// SerializeClientSetup serializes a CLIENT_SETUP payload.
func SerializeClientSetup(cs ClientSetup) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, uint64(len(cs.Versions)))
	for _, v := range cs.Versions {
		buf = quicvarint.Append(buf, v)
	}

	numParams := uint64(0)
	if cs.HasPath {
		numParams++
	}
	if cs.MaxSubscribeID > 0 {
		numParams++
	}
	buf = quicvarint.Append(buf, numParams)

	if cs.HasPath {
		buf = quicvarint.Append(buf, ParamPath)
		buf = appendVarIntBytes(buf, []byte(cs.Path))
	}
	if cs.MaxSubscribeID > 0 {
		buf = quicvarint.Append(buf, ParamMaxSubscribeID)
		buf = quicvarint.Append(buf, cs.MaxSubscribeID)
	}
	return buf
}

// SerializeServerSetup serializes a SERVER_SETUP payload.
func SerializeServerSetup(ss ServerSetup) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, ss.SelectedVersion)
	buf = quicvarint.Append(buf, 1)
	buf = quicvarint.Append(buf, ParamMaxSubscribeID)
	buf = quicvarint.Append(buf, ss.MaxSubscribeID)
	return buf
}

// ParseSubscribe parses a SUBSCRIBE payload.
func ParseSubscribe(data []byte) (Subscribe, error) {
	r := newBufReader(data)
	var s Subscribe

	var err error
	s.RequestID, err = r.readVarint()
	if err != nil {
		return s, &ParseError{Message: "SUBSCRIBE", Field: "request_id", Err: err}
	}

	s.Namespace, err = parseNamespaceTuple(r)
	if err != nil {
		return s, &ParseError{Message: "SUBSCRIBE", Field: "namespace", Err: err}
	}

	trackNameBytes, err := r.readVarIntBytes()
	if err != nil {
		return s, &ParseError{Message: "SUBSCRIBE", Field: "track_name", Err: err}
	}
	s.TrackName = string(trackNameBytes)

	s.Priority, err = r.readByte()
	if err != nil {
		return s, &ParseError{Message: "SUBSCRIBE", Field: "priority", Err: err}
	}

	s.GroupOrder, err = r.readByte()
	if err != nil {
		return s, &ParseError{Message: "SUBSCRIBE", Field: "group_order", Err: err}
	}

	s.Forward, err = r.readByte()
	if err != nil {
		return s, &ParseError{Message: "SUBSCRIBE", Field: "forward", Err: err}
	}

	s.FilterType, err = r.readVarint()
	if err != nil {
		return s, &ParseError{Message: "SUBSCRIBE", Field: "filter_type", Err: err}
	}

	switch s.FilterType {
	case FilterAbsoluteStart:
		if s.StartGroup, err = r.readVarint(); err != nil {
			return s, &ParseError{Message: "SUBSCRIBE", Field: "start_group", Err: err}
		}
		if s.StartObj, err = r.readVarint(); err != nil {
			return s, &ParseError{Message: "SUBSCRIBE", Field: "start_object", Err: err}
		}
	case FilterAbsoluteRange:
		if s.StartGroup, err = r.readVarint(); err != nil {
			return s, &ParseError{Message: "SUBSCRIBE", Field: "start_group", Err: err}
		}
		if s.StartObj, err = r.readVarint(); err != nil {
			return s, &ParseError{Message: "SUBSCRIBE", Field: "start_object", Err: err}
		}
		if s.EndGroup, err = r.readVarint(); err != nil {
			return s, &ParseError{Message: "SUBSCRIBE", Field: "end_group", Err: err}
		}
	}

	return s, nil
}

// SerializeSubscribe serializes a SUBSCRIBE payload.
func SerializeSubscribe(s Subscribe) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, s.RequestID)
	buf = appendNamespaceTuple(buf, s.Namespace)
	buf = appendVarIntBytes(buf, []byte(s.TrackName))
	buf = append(buf, s.Priority, s.GroupOrder, s.Forward)
	buf = quicvarint.Append(buf, s.FilterType)

	switch s.FilterType {
	case FilterAbsoluteStart:
		buf = quicvarint.Append(buf, s.StartGroup)
		buf = quicvarint.Append(buf, s.StartObj)
	case FilterAbsoluteRange:
		buf = quicvarint.Append(buf, s.StartGroup)
		buf = quicvarint.Append(buf, s.StartObj)
		buf = quicvarint.Append(buf, s.EndGroup)
	}

	buf = quicvarint.Append(buf, 0) // NumParams
	return buf
}

// ParseUnsubscribe parses an UNSUBSCRIBE payload.
func ParseUnsubscribe(data []byte) (Unsubscribe, error) {
	r := newBufReader(data)
	reqID, err := r.readVarint()
	if err != nil {
		return Unsubscribe{}, &ParseError{Message: "UNSUBSCRIBE", Field: "request_id", Err: err}
	}
	return Unsubscribe{RequestID: reqID}, nil
}

// SerializeUnsubscribe serializes an UNSUBSCRIBE payload.
func SerializeUnsubscribe(u Unsubscribe) []byte {
	return quicvarint.Append(nil, u.RequestID)
}

// ParseSubscribeOK parses a SUBSCRIBE_OK payload.
func ParseSubscribeOK(data []byte) (SubscribeOK, error) {
	r := newBufReader(data)
	var sok SubscribeOK
	var err error

	if sok.RequestID, err = r.readVarint(); err != nil {
		return sok, &ParseError{Message: "SUBSCRIBE_OK", Field: "request_id", Err: err}
	}
	if sok.TrackAlias, err = r.readVarint(); err != nil {
		return sok, &ParseError{Message: "SUBSCRIBE_OK", Field: "track_alias", Err: err}
	}
	if sok.Expires, err = r.readVarint(); err != nil {
		return sok, &ParseError{Message: "SUBSCRIBE_OK", Field: "expires", Err: err}
	}
	if sok.GroupOrder, err = r.readByte(); err != nil {
		return sok, &ParseError{Message: "SUBSCRIBE_OK", Field: "group_order", Err: err}
	}
	contentExists, err := r.readByte()
	if err != nil {
		return sok, &ParseError{Message: "SUBSCRIBE_OK", Field: "content_exists", Err: err}
	}
	sok.ContentExists = contentExists != 0
	if sok.ContentExists {
		if sok.LargestGroup, err = r.readVarint(); err != nil {
			return sok, &ParseError{Message: "SUBSCRIBE_OK", Field: "largest_group", Err: err}
		}
		if sok.LargestObj, err = r.readVarint(); err != nil {
			return sok, &ParseError{Message: "SUBSCRIBE_OK", Field: "largest_object", Err: err}
		}
	}
	return sok, nil
}

// SerializeSubscribeOK serializes a SUBSCRIBE_OK payload.
func SerializeSubscribeOK(sok SubscribeOK) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, sok.RequestID)
	buf = quicvarint.Append(buf, sok.TrackAlias)
	buf = quicvarint.Append(buf, sok.Expires)
	buf = append(buf, sok.GroupOrder)

	if sok.ContentExists {
		buf = append(buf, 1)
		buf = quicvarint.Append(buf, sok.LargestGroup)
		buf = quicvarint.Append(buf, sok.LargestObj)
	} else {
		buf = append(buf, 0)
	}

	buf = quicvarint.Append(buf, 0) // NumParams
	return buf
}

// ParseSubscribeError parses a SUBSCRIBE_ERROR payload.
func ParseSubscribeError(data []byte) (SubscribeError, error) {
	r := newBufReader(data)
	var se SubscribeError
	var err error
	if se.RequestID, err = r.readVarint(); err != nil {
		return se, &ParseError{Message: "SUBSCRIBE_ERROR", Field: "request_id", Err: err}
	}
	if se.ErrorCode, err = r.readVarint(); err != nil {
		return se, &ParseError{Message: "SUBSCRIBE_ERROR", Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return se, &ParseError{Message: "SUBSCRIBE_ERROR", Field: "reason_phrase", Err: err}
	}
	se.ReasonPhrase = string(reason)
	return se, nil
}

// SerializeSubscribeError serializes a SUBSCRIBE_ERROR payload.
func SerializeSubscribeError(se SubscribeError) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, se.RequestID)
	buf = quicvarint.Append(buf, se.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(se.ReasonPhrase))
	return buf
}

// ParseSubscribeDone parses a SUBSCRIBE_DONE payload.
func ParseSubscribeDone(data []byte) (SubscribeDone, error) {
	r := newBufReader(data)
	var sd SubscribeDone
	var err error
	if sd.RequestID, err = r.readVarint(); err != nil {
		return sd, &ParseError{Message: "SUBSCRIBE_DONE", Field: "request_id", Err: err}
	}
	if sd.StatusCode, err = r.readVarint(); err != nil {
		return sd, &ParseError{Message: "SUBSCRIBE_DONE", Field: "status_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return sd, &ParseError{Message: "SUBSCRIBE_DONE", Field: "reason_phrase", Err: err}
	}
	sd.ReasonPhrase = string(reason)
	return sd, nil
}

// SerializeSubscribeDone serializes a SUBSCRIBE_DONE payload.
func SerializeSubscribeDone(sd SubscribeDone) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, sd.RequestID)
	buf = quicvarint.Append(buf, sd.StatusCode)
	buf = appendVarIntBytes(buf, []byte(sd.ReasonPhrase))
	return buf
}

// ParseFetch parses a FETCH payload (standalone form only; any other fetch
// type is rejected with a ParseError wrapping ErrUnsupportedFilter).
func ParseFetch(data []byte) (Fetch, error) {
	r := newBufReader(data)
	var f Fetch
	var err error

	if f.RequestID, err = r.readVarint(); err != nil {
		return f, &ParseError{Message: "FETCH", Field: "request_id", Err: err}
	}
	if f.Priority, err = r.readByte(); err != nil {
		return f, &ParseError{Message: "FETCH", Field: "priority", Err: err}
	}
	if f.GroupOrder, err = r.readByte(); err != nil {
		return f, &ParseError{Message: "FETCH", Field: "group_order", Err: err}
	}
	if f.FetchType, err = r.readVarint(); err != nil {
		return f, &ParseError{Message: "FETCH", Field: "fetch_type", Err: err}
	}

	switch f.FetchType {
	case FetchTypeStandalone:
		f.Namespace, err = parseNamespaceTuple(r)
		if err != nil {
			return f, &ParseError{Message: "FETCH", Field: "namespace", Err: err}
		}
		name, err := r.readVarIntBytes()
		if err != nil {
			return f, &ParseError{Message: "FETCH", Field: "track_name", Err: err}
		}
		f.TrackName = string(name)
	default:
		return f, &ParseError{Message: "FETCH", Field: "fetch_type", Err: ErrUnsupportedFilter}
	}

	if f.StartGroup, err = r.readVarint(); err != nil {
		return f, &ParseError{Message: "FETCH", Field: "start_group", Err: err}
	}
	if f.StartObj, err = r.readVarint(); err != nil {
		return f, &ParseError{Message: "FETCH", Field: "start_object", Err: err}
	}
	if f.EndGroup, err = r.readVarint(); err != nil {
		return f, &ParseError{Message: "FETCH", Field: "end_group", Err: err}
	}
	if f.EndObj, err = r.readVarint(); err != nil {
		return f, &ParseError{Message: "FETCH", Field: "end_object", Err: err}
	}
	return f, nil
}

// SerializeFetch serializes a standalone FETCH payload.
func SerializeFetch(f Fetch) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, f.RequestID)
	buf = append(buf, f.Priority, f.GroupOrder)
	buf = quicvarint.Append(buf, FetchTypeStandalone)
	buf = appendNamespaceTuple(buf, f.Namespace)
	buf = appendVarIntBytes(buf, []byte(f.TrackName))
	buf = quicvarint.Append(buf, f.StartGroup)
	buf = quicvarint.Append(buf, f.StartObj)
	buf = quicvarint.Append(buf, f.EndGroup)
	buf = quicvarint.Append(buf, f.EndObj)
	buf = quicvarint.Append(buf, 0) // NumParams
	return buf
}

// ParseFetchOK parses a FETCH_OK payload.
func ParseFetchOK(data []byte) (FetchOK, error) {
	r := newBufReader(data)
	var fok FetchOK
	var err error
	if fok.RequestID, err = r.readVarint(); err != nil {
		return fok, &ParseError{Message: "FETCH_OK", Field: "request_id", Err: err}
	}
	if fok.GroupOrder, err = r.readByte(); err != nil {
		return fok, &ParseError{Message: "FETCH_OK", Field: "group_order", Err: err}
	}
	endOfTrack, err := r.readByte()
	if err != nil {
		return fok, &ParseError{Message: "FETCH_OK", Field: "end_of_track", Err: err}
	}
	fok.EndOfTrack = endOfTrack != 0
	if fok.LargestGroup, err = r.readVarint(); err != nil {
		return fok, &ParseError{Message: "FETCH_OK", Field: "largest_group", Err: err}
	}
	if fok.LargestObj, err = r.readVarint(); err != nil {
		return fok, &ParseError{Message: "FETCH_OK", Field: "largest_object", Err: err}
	}
	return fok, nil
}

// SerializeFetchOK serializes a FETCH_OK payload.
func SerializeFetchOK(fok FetchOK) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, fok.RequestID)
	buf = append(buf, fok.GroupOrder)
	if fok.EndOfTrack {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = quicvarint.Append(buf, fok.LargestGroup)
	buf = quicvarint.Append(buf, fok.LargestObj)
	buf = quicvarint.Append(buf, 0) // NumParams
	return buf
}

// ParseFetchError parses a FETCH_ERROR payload.
func ParseFetchError(data []byte) (FetchError, error) {
	r := newBufReader(data)
	var fe FetchError
	var err error
	if fe.RequestID, err = r.readVarint(); err != nil {
		return fe, &ParseError{Message: "FETCH_ERROR", Field: "request_id", Err: err}
	}
	if fe.ErrorCode, err = r.readVarint(); err != nil {
		return fe, &ParseError{Message: "FETCH_ERROR", Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return fe, &ParseError{Message: "FETCH_ERROR", Field: "reason_phrase", Err: err}
	}
	fe.ReasonPhrase = string(reason)
	return fe, nil
}

// SerializeFetchError serializes a FETCH_ERROR payload.
func SerializeFetchError(fe FetchError) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, fe.RequestID)
	buf = quicvarint.Append(buf, fe.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(fe.ReasonPhrase))
	return buf
}

// ParseFetchCancel parses a FETCH_CANCEL payload.
func ParseFetchCancel(data []byte) (FetchCancel, error) {
	r := newBufReader(data)
	reqID, err := r.readVarint()
	if err != nil {
		return FetchCancel{}, &ParseError{Message: "FETCH_CANCEL", Field: "request_id", Err: err}
	}
	return FetchCancel{RequestID: reqID}, nil
}

// SerializeFetchCancel serializes a FETCH_CANCEL payload.
func SerializeFetchCancel(fc FetchCancel) []byte {
	return quicvarint.Append(nil, fc.RequestID)
}

// ParseAnnounce parses an ANNOUNCE payload.
func ParseAnnounce(data []byte) (Announce, error) {
	r := newBufReader(data)
	var a Announce
	var err error
	if a.RequestID, err = r.readVarint(); err != nil {
		return a, &ParseError{Message: "ANNOUNCE", Field: "request_id", Err: err}
	}
	a.Namespace, err = parseNamespaceTuple(r)
	if err != nil {
		return a, &ParseError{Message: "ANNOUNCE", Field: "namespace", Err: err}
	}
	numParams, err := r.readVarint()
	if err != nil {
		return a, &ParseError{Message: "ANNOUNCE", Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		if _, err := r.readVarint(); err != nil {
			return a, &ParseError{Message: "ANNOUNCE", Field: "param_key", Err: err}
		}
		if _, err := r.readVarIntBytes(); err != nil {
			return a, &ParseError{Message: "ANNOUNCE", Field: "param_value", Err: err}
		}
	}
	return a, nil
}

// SerializeAnnounce serializes an ANNOUNCE payload.
func SerializeAnnounce(a Announce) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, a.RequestID)
	buf = appendNamespaceTuple(buf, a.Namespace)
	buf = quicvarint.Append(buf, 0) // NumParams
	return buf
}

// ParseAnnounceOK parses an ANNOUNCE_OK payload.
func ParseAnnounceOK(data []byte) (AnnounceOK, error) {
	r := newBufReader(data)
	reqID, err := r.readVarint()
	if err != nil {
		return AnnounceOK{}, &ParseError{Message: "ANNOUNCE_OK", Field: "request_id", Err: err}
	}
	return AnnounceOK{RequestID: reqID}, nil
}

// SerializeAnnounceOK serializes an ANNOUNCE_OK payload.
func SerializeAnnounceOK(ok AnnounceOK) []byte {
	return quicvarint.Append(nil, ok.RequestID)
}

// ParseAnnounceError parses an ANNOUNCE_ERROR payload.
func ParseAnnounceError(data []byte) (AnnounceError, error) {
	r := newBufReader(data)
	var ae AnnounceError
	var err error
	if ae.RequestID, err = r.readVarint(); err != nil {
		return ae, &ParseError{Message: "ANNOUNCE_ERROR", Field: "request_id", Err: err}
	}
	if ae.ErrorCode, err = r.readVarint(); err != nil {
		return ae, &ParseError{Message: "ANNOUNCE_ERROR", Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return ae, &ParseError{Message: "ANNOUNCE_ERROR", Field: "reason_phrase", Err: err}
	}
	ae.ReasonPhrase = string(reason)
	return ae, nil
}

// SerializeAnnounceError serializes an ANNOUNCE_ERROR payload.
func SerializeAnnounceError(ae AnnounceError) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, ae.RequestID)
	buf = quicvarint.Append(buf, ae.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(ae.ReasonPhrase))
	return buf
}

// ParseUnannounce parses an UNANNOUNCE payload.
func ParseUnannounce(data []byte) (Unannounce, error) {
	r := newBufReader(data)
	ns, err := parseNamespaceTuple(r)
	if err != nil {
		return Unannounce{}, &ParseError{Message: "UNANNOUNCE", Field: "namespace", Err: err}
	}
	return Unannounce{Namespace: ns}, nil
}

// SerializeUnannounce serializes an UNANNOUNCE payload.
func SerializeUnannounce(u Unannounce) []byte {
	return appendNamespaceTuple(nil, u.Namespace)
}

// ParseAnnounceCancel parses an ANNOUNCE_CANCEL payload.
func ParseAnnounceCancel(data []byte) (AnnounceCancel, error) {
	r := newBufReader(data)
	var ac AnnounceCancel
	var err error
	ac.Namespace, err = parseNamespaceTuple(r)
	if err != nil {
		return ac, &ParseError{Message: "ANNOUNCE_CANCEL", Field: "namespace", Err: err}
	}
	if ac.ErrorCode, err = r.readVarint(); err != nil {
		return ac, &ParseError{Message: "ANNOUNCE_CANCEL", Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return ac, &ParseError{Message: "ANNOUNCE_CANCEL", Field: "reason_phrase", Err: err}
	}
	ac.ReasonPhrase = string(reason)
	return ac, nil
}

// SerializeAnnounceCancel serializes an ANNOUNCE_CANCEL payload.
func SerializeAnnounceCancel(ac AnnounceCancel) []byte {
	var buf []byte
	buf = appendNamespaceTuple(buf, ac.Namespace)
	buf = quicvarint.Append(buf, ac.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(ac.ReasonPhrase))
	return buf
}

// ParseSubscribeAnnounces parses a SUBSCRIBE_ANNOUNCES payload.
func ParseSubscribeAnnounces(data []byte) (SubscribeAnnounces, error) {
	r := newBufReader(data)
	var sa SubscribeAnnounces
	var err error
	if sa.RequestID, err = r.readVarint(); err != nil {
		return sa, &ParseError{Message: "SUBSCRIBE_ANNOUNCES", Field: "request_id", Err: err}
	}
	sa.NamespacePrefix, err = parseNamespaceTuple(r)
	if err != nil {
		return sa, &ParseError{Message: "SUBSCRIBE_ANNOUNCES", Field: "namespace_prefix", Err: err}
	}
	numParams, err := r.readVarint()
	if err != nil {
		return sa, &ParseError{Message: "SUBSCRIBE_ANNOUNCES", Field: "num_params", Err: err}
	}
	for i := uint64(0); i < numParams; i++ {
		if _, err := r.readVarint(); err != nil {
			return sa, &ParseError{Message: "SUBSCRIBE_ANNOUNCES", Field: "param_key", Err: err}
		}
		if _, err := r.readVarIntBytes(); err != nil {
			return sa, &ParseError{Message: "SUBSCRIBE_ANNOUNCES", Field: "param_value", Err: err}
		}
	}
	return sa, nil
}

// SerializeSubscribeAnnounces serializes a SUBSCRIBE_ANNOUNCES payload.
func SerializeSubscribeAnnounces(sa SubscribeAnnounces) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, sa.RequestID)
	buf = appendNamespaceTuple(buf, sa.NamespacePrefix)
	buf = quicvarint.Append(buf, 0) // NumParams
	return buf
}

// ParseSubscribeAnnouncesOK parses a SUBSCRIBE_ANNOUNCES_OK payload.
func ParseSubscribeAnnouncesOK(data []byte) (SubscribeAnnouncesOK, error) {
	r := newBufReader(data)
	reqID, err := r.readVarint()
	if err != nil {
		return SubscribeAnnouncesOK{}, &ParseError{Message: "SUBSCRIBE_ANNOUNCES_OK", Field: "request_id", Err: err}
	}
	return SubscribeAnnouncesOK{RequestID: reqID}, nil
}

// SerializeSubscribeAnnouncesOK serializes a SUBSCRIBE_ANNOUNCES_OK payload.
func SerializeSubscribeAnnouncesOK(ok SubscribeAnnouncesOK) []byte {
	return quicvarint.Append(nil, ok.RequestID)
}

// ParseSubscribeAnnouncesError parses a SUBSCRIBE_ANNOUNCES_ERROR payload.
func ParseSubscribeAnnouncesError(data []byte) (SubscribeAnnouncesError, error) {
	r := newBufReader(data)
	var sae SubscribeAnnouncesError
	var err error
	if sae.RequestID, err = r.readVarint(); err != nil {
		return sae, &ParseError{Message: "SUBSCRIBE_ANNOUNCES_ERROR", Field: "request_id", Err: err}
	}
	if sae.ErrorCode, err = r.readVarint(); err != nil {
		return sae, &ParseError{Message: "SUBSCRIBE_ANNOUNCES_ERROR", Field: "error_code", Err: err}
	}
	reason, err := r.readVarIntBytes()
	if err != nil {
		return sae, &ParseError{Message: "SUBSCRIBE_ANNOUNCES_ERROR", Field: "reason_phrase", Err: err}
	}
	sae.ReasonPhrase = string(reason)
	return sae, nil
}

// SerializeSubscribeAnnouncesError serializes a SUBSCRIBE_ANNOUNCES_ERROR payload.
func SerializeSubscribeAnnouncesError(sae SubscribeAnnouncesError) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, sae.RequestID)
	buf = quicvarint.Append(buf, sae.ErrorCode)
	buf = appendVarIntBytes(buf, []byte(sae.ReasonPhrase))
	return buf
}

// ParseUnsubscribeAnnounces parses an UNSUBSCRIBE_ANNOUNCES payload.
func ParseUnsubscribeAnnounces(data []byte) (UnsubscribeAnnounces, error) {
	r := newBufReader(data)
	prefix, err := parseNamespaceTuple(r)
	if err != nil {
		return UnsubscribeAnnounces{}, &ParseError{Message: "UNSUBSCRIBE_ANNOUNCES", Field: "namespace_prefix", Err: err}
	}
	return UnsubscribeAnnounces{NamespacePrefix: prefix}, nil
}

// SerializeUnsubscribeAnnounces serializes an UNSUBSCRIBE_ANNOUNCES payload.
func SerializeUnsubscribeAnnounces(u UnsubscribeAnnounces) []byte {
	return appendNamespaceTuple(nil, u.NamespacePrefix)
}

// ParseMaxSubscribeID parses a MAX_SUBSCRIBE_ID payload.
func ParseMaxSubscribeID(data []byte) (MaxSubscribeIDMsg, error) {
	r := newBufReader(data)
	id, err := r.readVarint()
	if err != nil {
		return MaxSubscribeIDMsg{}, &ParseError{Message: "MAX_SUBSCRIBE_ID", Field: "subscribe_id", Err: err}
	}
	return MaxSubscribeIDMsg{SubscribeID: id}, nil
}

// SerializeMaxSubscribeID serializes a MAX_SUBSCRIBE_ID payload.
func SerializeMaxSubscribeID(id uint64) []byte {
	return quicvarint.Append(nil, id)
}

// ParseGoAway parses a GOAWAY payload.
func ParseGoAway(data []byte) (GoAway, error) {
	r := newBufReader(data)
	if r.atEOF() {
		return GoAway{}, nil
	}
	uri, err := r.readVarIntBytes()
	if err != nil {
		return GoAway{}, &ParseError{Message: "GOAWAY", Field: "new_session_uri", Err: err}
	}
	return GoAway{NewSessionURI: string(uri)}, nil
}

// SerializeGoAway serializes a GOAWAY payload.
func SerializeGoAway(ga GoAway) []byte {
	return appendVarIntBytes(nil, []byte(ga.NewSessionURI))
}

// ParseTrackStatusRequest parses a TRACK_STATUS_REQUEST payload.
func ParseTrackStatusRequest(data []byte) (TrackStatusRequest, error) {
	r := newBufReader(data)
	var tsr TrackStatusRequest
	var err error
	tsr.Namespace, err = parseNamespaceTuple(r)
	if err != nil {
		return tsr, &ParseError{Message: "TRACK_STATUS_REQUEST", Field: "namespace", Err: err}
	}
	name, err := r.readVarIntBytes()
	if err != nil {
		return tsr, &ParseError{Message: "TRACK_STATUS_REQUEST", Field: "track_name", Err: err}
	}
	tsr.TrackName = string(name)
	return tsr, nil
}

// SerializeTrackStatusRequest serializes a TRACK_STATUS_REQUEST payload.
func SerializeTrackStatusRequest(tsr TrackStatusRequest) []byte {
	var buf []byte
	buf = appendNamespaceTuple(buf, tsr.Namespace)
	buf = appendVarIntBytes(buf, []byte(tsr.TrackName))
	return buf
}

// ParseTrackStatus parses a TRACK_STATUS payload.
func ParseTrackStatus(data []byte) (TrackStatus, error) {
	r := newBufReader(data)
	var ts TrackStatus
	var err error
	ts.Namespace, err = parseNamespaceTuple(r)
	if err != nil {
		return ts, &ParseError{Message: "TRACK_STATUS", Field: "namespace", Err: err}
	}
	name, err := r.readVarIntBytes()
	if err != nil {
		return ts, &ParseError{Message: "TRACK_STATUS", Field: "track_name", Err: err}
	}
	ts.TrackName = string(name)
	if ts.StatusCode, err = r.readVarint(); err != nil {
		return ts, &ParseError{Message: "TRACK_STATUS", Field: "status_code", Err: err}
	}
	if ts.LargestGroup, err = r.readVarint(); err != nil {
		return ts, &ParseError{Message: "TRACK_STATUS", Field: "largest_group", Err: err}
	}
	if ts.LargestObj, err = r.readVarint(); err != nil {
		return ts, &ParseError{Message: "TRACK_STATUS", Field: "largest_object", Err: err}
	}
	return ts, nil
}

// SerializeTrackStatus serializes a TRACK_STATUS payload.
func SerializeTrackStatus(ts TrackStatus) []byte {
	var buf []byte
	buf = appendNamespaceTuple(buf, ts.Namespace)
	buf = appendVarIntBytes(buf, []byte(ts.TrackName))
	buf = quicvarint.Append(buf, ts.StatusCode)
	buf = quicvarint.Append(buf, ts.LargestGroup)
	buf = quicvarint.Append(buf, ts.LargestObj)
	return buf
}
