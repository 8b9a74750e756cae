package wire

import (
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// Unidirectional data-stream type IDs, sent as the first varint on a stream
// opened for object delivery.
const (
	StreamTypeSubgroup       uint64 = 0x04 // subgroup header, no extensions
	StreamTypeSubgroupExt    uint64 = 0x05 // subgroup header, with object extensions
	StreamTypeFetch          uint64 = 0x06 // fetch header, request-id keyed
	StreamTypeObjectDatagram uint64 = 0x01 // leading tag on every OBJECT_DATAGRAM
)

// SubgroupHeader is the header of a SUBGROUP_HEADER unidirectional stream.
// Every object on the stream shares TrackAlias, Group, and Subgroup; each
// object frame only carries its own ID, length, and payload.
type SubgroupHeader struct {
	TrackAlias uint64
	Group      uint64
	Subgroup   uint64
	Priority   byte
}

// FetchHeader is the header of a FETCH_HEADER unidirectional stream. Objects
// on a fetch stream carry their own Group/Subgroup/ID since a fetch can span
// multiple groups.
type FetchHeader struct {
	RequestID uint64
}

// WriteSubgroupHeader writes a SUBGROUP_HEADER to a newly opened
// unidirectional stream.
func WriteSubgroupHeader(w io.Writer, h SubgroupHeader) error {
	var buf []byte
	buf = quicvarint.Append(buf, StreamTypeSubgroup)
	buf = quicvarint.Append(buf, h.TrackAlias)
	buf = quicvarint.Append(buf, h.Group)
	buf = quicvarint.Append(buf, h.Subgroup)
	buf = append(buf, h.Priority)
	_, err := w.Write(buf)
	return err
}

// ReadSubgroupHeader reads a SUBGROUP_HEADER. streamType must already have
// been consumed by the caller (it determines which header shape to parse).
func ReadSubgroupHeader(r io.Reader) (SubgroupHeader, error) {
	br := newStreamReader(r)
	var h SubgroupHeader
	var err error
	if h.TrackAlias, err = br.readVarint(); err != nil {
		return h, &ParseError{Message: "SUBGROUP_HEADER", Field: "track_alias", Err: err}
	}
	if h.Group, err = br.readVarint(); err != nil {
		return h, &ParseError{Message: "SUBGROUP_HEADER", Field: "group", Err: err}
	}
	if h.Subgroup, err = br.readVarint(); err != nil {
		return h, &ParseError{Message: "SUBGROUP_HEADER", Field: "subgroup", Err: err}
	}
	if h.Priority, err = br.readByte(); err != nil {
		return h, &ParseError{Message: "SUBGROUP_HEADER", Field: "priority", Err: err}
	}
	return h, nil
}

// WriteFetchHeader writes a FETCH_HEADER to a newly opened unidirectional
// stream.
func WriteFetchHeader(w io.Writer, h FetchHeader) error {
	buf := quicvarint.Append(nil, StreamTypeFetch)
	buf = quicvarint.Append(buf, h.RequestID)
	_, err := w.Write(buf)
	return err
}

// ReadFetchHeader reads a FETCH_HEADER.
func ReadFetchHeader(r io.Reader) (FetchHeader, error) {
	br := newStreamReader(r)
	reqID, err := br.readVarint()
	if err != nil {
		return FetchHeader{}, &ParseError{Message: "FETCH_HEADER", Field: "request_id", Err: err}
	}
	return FetchHeader{RequestID: reqID}, nil
}

// ReadStreamType reads the leading stream-type varint that distinguishes a
// SUBGROUP_HEADER stream from a FETCH_HEADER stream.
func ReadStreamType(r io.Reader) (uint64, error) {
	br := newStreamReader(r)
	t, err := br.readVarint()
	if err != nil {
		return 0, &ParseError{Message: "STREAM_TYPE", Field: "type", Err: err}
	}
	return t, nil
}

// WriteSubgroupObject writes one object frame to a subgroup stream. The
// caller has already written the SubgroupHeader once; this is called once
// per object on that stream.
//
// On a subgroup stream, only Status == StatusNormal carries a payload; any
// other status is written as a zero length followed by the status varint,
// with no payload.
func WriteSubgroupObject(w io.Writer, h ObjectHeader, payload []byte) error {
	var buf []byte
	buf = quicvarint.Append(buf, h.ID)

	if h.Status == StatusNormal {
		buf = quicvarint.Append(buf, uint64(len(payload)))
		buf = append(buf, payload...)
	} else {
		buf = quicvarint.Append(buf, 0)
		buf = quicvarint.Append(buf, uint64(h.Status))
	}

	_, err := w.Write(buf)
	return err
}

// ReadSubgroupObject reads one object frame from a subgroup stream. Group,
// Subgroup, and TrackIdentifier must be filled in by the caller from the
// stream's SubgroupHeader since they're not repeated per object.
func ReadSubgroupObject(r io.Reader) (ObjectHeader, []byte, error) {
	br := newStreamReader(r)
	var h ObjectHeader

	var err error
	if h.ID, err = br.readVarint(); err != nil {
		if err == io.EOF {
			return h, nil, io.EOF
		}
		return h, nil, &ParseError{Message: "OBJECT", Field: "object_id", Err: err}
	}

	length, err := br.readVarint()
	if err != nil {
		return h, nil, &ParseError{Message: "OBJECT", Field: "length", Err: err}
	}

	if length == 0 {
		status, err := br.readVarint()
		if err != nil {
			return h, nil, &ParseError{Message: "OBJECT", Field: "status", Err: err}
		}
		h.Status = ObjectStatus(status)
		return h, nil, nil
	}

	h.Status = StatusNormal
	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		return h, nil, &ParseError{Message: "OBJECT", Field: "payload", Err: err}
	}
	return h, payload, nil
}

// WriteFetchObject writes one object frame to a fetch stream. Fetch objects
// repeat Group/Subgroup/ID on every frame since a fetch can span groups.
func WriteFetchObject(w io.Writer, h ObjectHeader, payload []byte) error {
	var buf []byte
	buf = quicvarint.Append(buf, h.Group)
	buf = quicvarint.Append(buf, h.Subgroup)
	buf = quicvarint.Append(buf, h.ID)
	buf = append(buf, h.Priority)

	if h.Status == StatusNormal {
		buf = quicvarint.Append(buf, uint64(len(payload)))
		buf = append(buf, payload...)
	} else {
		buf = quicvarint.Append(buf, 0)
		buf = quicvarint.Append(buf, uint64(h.Status))
	}

	_, err := w.Write(buf)
	return err
}

// ReadFetchObject reads one object frame from a fetch stream.
func ReadFetchObject(r io.Reader) (ObjectHeader, []byte, error) {
	br := newStreamReader(r)
	var h ObjectHeader

	var err error
	if h.Group, err = br.readVarint(); err != nil {
		if err == io.EOF {
			return h, nil, io.EOF
		}
		return h, nil, &ParseError{Message: "FETCH_OBJECT", Field: "group", Err: err}
	}
	if h.Subgroup, err = br.readVarint(); err != nil {
		return h, nil, &ParseError{Message: "FETCH_OBJECT", Field: "subgroup", Err: err}
	}
	if h.ID, err = br.readVarint(); err != nil {
		return h, nil, &ParseError{Message: "FETCH_OBJECT", Field: "object_id", Err: err}
	}
	if h.Priority, err = br.readByte(); err != nil {
		return h, nil, &ParseError{Message: "FETCH_OBJECT", Field: "priority", Err: err}
	}

	length, err := br.readVarint()
	if err != nil {
		return h, nil, &ParseError{Message: "FETCH_OBJECT", Field: "length", Err: err}
	}

	if length == 0 {
		status, err := br.readVarint()
		if err != nil {
			return h, nil, &ParseError{Message: "FETCH_OBJECT", Field: "status", Err: err}
		}
		h.Status = ObjectStatus(status)
		return h, nil, nil
	}

	h.Status = StatusNormal
	payload := make([]byte, length)
	if _, err := io.ReadFull(br, payload); err != nil {
		return h, nil, &ParseError{Message: "FETCH_OBJECT", Field: "payload", Err: err}
	}
	return h, payload, nil
}

// DatagramHeader is the fixed portion of an OBJECT_DATAGRAM, sent whole as a
// single unreliable QUIC datagram together with its payload.
type DatagramHeader struct {
	TrackAlias uint64
	Group      uint64
	ID         uint64
	Priority   byte
	Status     ObjectStatus
}

// EncodeDatagram serializes an OBJECT_DATAGRAM: a leading stream-type tag,
// the header, and the payload in one contiguous buffer. Status carries an
// explicit length like WriteSubgroupObject/WriteFetchObject do, so a
// receiver can tell a status-only datagram from a short normal one and
// catch truncation instead of guessing.
func EncodeDatagram(h DatagramHeader, payload []byte) []byte {
	var buf []byte
	buf = quicvarint.Append(buf, StreamTypeObjectDatagram)
	buf = quicvarint.Append(buf, h.TrackAlias)
	buf = quicvarint.Append(buf, h.Group)
	buf = quicvarint.Append(buf, h.ID)
	buf = append(buf, h.Priority)

	if h.Status == StatusNormal {
		buf = quicvarint.Append(buf, uint64(len(payload)))
		buf = append(buf, payload...)
	} else {
		buf = quicvarint.Append(buf, 0)
		buf = quicvarint.Append(buf, uint64(h.Status))
	}
	return buf
}

// DecodeDatagram parses an OBJECT_DATAGRAM received as a single unreliable
// datagram payload: it checks the leading stream-type tag and validates
// that the header's declared length matches what's actually left in the
// datagram. Both a wrong tag and a length mismatch are treated the same
// way callers do elsewhere in this codec: a *ParseError the session closes
// PROTOCOL_VIOLATION over.
func DecodeDatagram(data []byte) (DatagramHeader, []byte, error) {
	r := newBufReader(data)
	var h DatagramHeader

	streamType, err := r.readVarint()
	if err != nil {
		return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "stream_type", Err: err}
	}
	if streamType != StreamTypeObjectDatagram {
		return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "stream_type", Err: errUnexpectedStreamType}
	}

	if h.TrackAlias, err = r.readVarint(); err != nil {
		return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "track_alias", Err: err}
	}
	if h.Group, err = r.readVarint(); err != nil {
		return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "group", Err: err}
	}
	if h.ID, err = r.readVarint(); err != nil {
		return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "object_id", Err: err}
	}
	if h.Priority, err = r.readByte(); err != nil {
		return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "priority", Err: err}
	}

	length, err := r.readVarint()
	if err != nil {
		return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "length", Err: err}
	}

	if length == 0 {
		status, err := r.readVarint()
		if err != nil {
			return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "status", Err: err}
		}
		h.Status = ObjectStatus(status)
		if len(r.remaining()) != 0 {
			return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "length", Err: errDatagramLengthMismatch}
		}
		return h, nil, nil
	}

	h.Status = StatusNormal
	payload := r.remaining()
	if uint64(len(payload)) != length {
		return h, nil, &ParseError{Message: "OBJECT_DATAGRAM", Field: "length", Err: errDatagramLengthMismatch}
	}
	return h, payload, nil
}

// streamReader adapts an io.Reader (typically a webtransport receive
// stream) to the varint/byte reading primitives bufReader offers over a
// byte slice, without requiring the whole stream be buffered up front.
type streamReader struct {
	r io.Reader
}

func newStreamReader(r io.Reader) *streamReader {
	return &streamReader{r: r}
}

func (s *streamReader) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *streamReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(s.r, b[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			err = io.EOF
		}
		return 0, err
	}
	return b[0], nil
}

func (s *streamReader) readVarint() (uint64, error) {
	return quicvarint.Read(s)
}

func (s *streamReader) readByte() (byte, error) {
	return s.ReadByte()
}
