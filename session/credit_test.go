package session

import "testing"

func TestCreditAcceptsBelowMax(t *testing.T) {
	t.Parallel()
	c := newCreditTracker(4)
	if !c.accepts(3) {
		t.Fatal("expected id 3 to be accepted under maxSubscribeID=4")
	}
	if c.accepts(4) {
		t.Fatal("expected id 4 to be rejected: maxSubscribeID is exclusive")
	}
}

func TestCreditRetirementCrossesThreshold(t *testing.T) {
	t.Parallel()
	// S4: maxConcurrentSubscribes=10, initial maxSubscribeID=10. After 5
	// terminations closedSubscribes crosses 10/2=5, issuing
	// MAX_SUBSCRIBE_ID=15 and resetting the counter.
	c := newCreditTracker(10)

	var lastMax uint64
	var sent bool
	for i := 0; i < 5; i++ {
		lastMax, sent = c.retire()
	}
	if !sent {
		t.Fatal("expected retirement threshold to be crossed on the 5th close")
	}
	if lastMax != 15 {
		t.Fatalf("new maxSubscribeID = %d, want 15", lastMax)
	}
	if c.closedSubscribes != 0 {
		t.Fatalf("closedSubscribes = %d, want 0 after reset", c.closedSubscribes)
	}
}

func TestCreditRetirementBelowThresholdDoesNotSend(t *testing.T) {
	t.Parallel()
	c := newCreditTracker(10)
	for i := 0; i < 4; i++ {
		_, sent := c.retire()
		if sent {
			t.Fatalf("retirement %d should not cross threshold yet", i+1)
		}
	}
}

func TestPeerMaxSubscribeIDMustStrictlyIncrease(t *testing.T) {
	t.Parallel()
	c := newCreditTracker(10)
	if err := c.setPeerMaxSubscribeID(50); err != nil {
		t.Fatal(err)
	}
	if err := c.setPeerMaxSubscribeID(50); err == nil {
		t.Fatal("expected regression error on equal value")
	}
	if err := c.setPeerMaxSubscribeID(40); err == nil {
		t.Fatal("expected regression error on lower value")
	}
	if err := c.setPeerMaxSubscribeID(51); err != nil {
		t.Fatalf("expected strictly greater value to be accepted, got %v", err)
	}
}

func TestAllocateRespectsPeerMaxSubscribeID(t *testing.T) {
	t.Parallel()
	c := newCreditTracker(10)
	if err := c.setPeerMaxSubscribeID(2); err != nil {
		t.Fatal(err)
	}

	id0, ok := c.allocate()
	if !ok || id0 != 0 {
		t.Fatalf("id0 = %d, ok = %v, want 0, true", id0, ok)
	}
	id1, ok := c.allocate()
	if !ok || id1 != 1 {
		t.Fatalf("id1 = %d, ok = %v, want 1, true", id1, ok)
	}
	if _, ok := c.allocate(); ok {
		t.Fatal("expected allocate to fail once nextSubscribeID reaches peerMaxSubscribeID")
	}
}
