package session

import (
	"bytes"
	"testing"

	"github.com/zsiec/moqsession/wire"
)

func TestSubgroupWriterObjectSequence(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newSubgroupStreamWriter(out, 7, 3, 0, 128)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Object(0, []byte("a"), false); err != nil {
		t.Fatal(err)
	}
	if err := w.Object(1, []byte("b"), true); err != nil {
		t.Fatal(err)
	}

	// Parse back: header then two objects.
	r := bytes.NewReader(out.bytes())
	streamType, err := wire.ReadStreamType(r)
	if err != nil {
		t.Fatal(err)
	}
	if streamType != wire.StreamTypeSubgroup {
		t.Fatalf("streamType = %#x", streamType)
	}
	if _, err := wire.ReadSubgroupHeader(r); err != nil {
		t.Fatal(err)
	}
	h0, p0, err := wire.ReadSubgroupObject(r)
	if err != nil {
		t.Fatal(err)
	}
	if h0.ID != 0 || string(p0) != "a" {
		t.Fatalf("first object = %+v %q", h0, p0)
	}
	h1, p1, err := wire.ReadSubgroupObject(r)
	if err != nil {
		t.Fatal(err)
	}
	if h1.ID != 1 || string(p1) != "b" {
		t.Fatalf("second object = %+v %q", h1, p1)
	}
}

func TestSubgroupWriterRejectsNonIncreasingObjectID(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newSubgroupStreamWriter(out, 7, 3, 0, 128)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Object(5, []byte("x"), false); err != nil {
		t.Fatal(err)
	}
	if err := w.Object(5, []byte("y"), false); err == nil {
		t.Fatal("expected rejection of non-increasing object id")
	}
	if !out.isCancelled() {
		t.Fatal("expected stream to be reset on violation")
	}
}

func TestSubgroupWriterBeginObjectThenPayloadToDone(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newSubgroupStreamWriter(out, 1, 0, 0, 128)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.BeginObject(0, 6, []byte("ab")); err != nil {
		t.Fatal(err)
	}
	res, err := w.ObjectPayload([]byte("cd"), false)
	if err != nil {
		t.Fatal(err)
	}
	if res != ResultInProgress {
		t.Fatalf("res = %v, want in progress", res)
	}
	res, err = w.ObjectPayload([]byte("ef"), true)
	if err != nil {
		t.Fatal(err)
	}
	if res != ResultDone {
		t.Fatalf("res = %v, want done", res)
	}
}

func TestSubgroupWriterBeginObjectExceedingLengthRejected(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newSubgroupStreamWriter(out, 1, 0, 0, 128)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.BeginObject(0, 2, []byte("abc")); err == nil {
		t.Fatal("expected rejection of initial payload exceeding declared length")
	}
}

func TestSubgroupWriterPayloadExceedsRemainingRejected(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newSubgroupStreamWriter(out, 1, 0, 0, 128)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.BeginObject(0, 2, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.ObjectPayload([]byte("abc"), false); err == nil {
		t.Fatal("expected rejection of payload exceeding declared length")
	}
}

func TestSubgroupWriterFinStreamWithRemainingRejected(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newSubgroupStreamWriter(out, 1, 0, 0, 128)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.BeginObject(0, 10, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := w.ObjectPayload([]byte("short"), true); err == nil {
		t.Fatal("expected rejection of finStream with remaining > 0")
	}
}

func TestSubgroupWriterEndOfSubgroupRejectsWithPartialObject(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newSubgroupStreamWriter(out, 1, 0, 0, 128)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.BeginObject(0, 10, []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if err := w.EndOfSubgroup(); err == nil {
		t.Fatal("expected rejection of endOfSubgroup with partial object outstanding")
	}
}

func TestSubgroupWriterOperationsFailAfterFinalization(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newSubgroupStreamWriter(out, 1, 0, 0, 128)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Object(0, []byte("x"), true); err != nil {
		t.Fatal(err)
	}
	if err := w.Object(1, []byte("y"), false); err == nil {
		t.Fatal("expected API_ERROR after stream finalized")
	}
}

func TestFetchWriterRejectsGroupRegression(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newFetchStreamWriter(out, 9, GroupOrderOldestFirst)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Object(5, 0, 0, []byte("x"), false); err != nil {
		t.Fatal(err)
	}
	if err := w.Object(3, 0, 1, []byte("y"), false); err == nil {
		t.Fatal("expected rejection of group regression")
	}
}

func TestFetchWriterAllowsGroupAdvanceAndResetsObjectSentinel(t *testing.T) {
	t.Parallel()
	out := &fakeSendStream{}
	w, err := newFetchStreamWriter(out, 9, GroupOrderOldestFirst)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Object(1, 0, 5, []byte("x"), false); err != nil {
		t.Fatal(err)
	}
	// New group: object id may restart from 0 even though the previous
	// group's last id was 5.
	if err := w.Object(2, 0, 0, []byte("y"), false); err != nil {
		t.Fatal(err)
	}
}
