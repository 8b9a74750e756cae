package session

// creditTracker implements the sliding-window subscription-ID credit
// protocol: a session authorizes the peer to use subscribe/fetch IDs up to
// maxSubscribeID (exclusive), and periodically raises that bound as
// outstanding subscriptions close, grounded on moxygen's
// retireSubscribeId/sendMaxSubscribeID.
type creditTracker struct {
	maxSubscribeID          uint64
	maxConcurrentSubscribes uint64
	closedSubscribes        uint64

	peerMaxSubscribeID uint64
	nextSubscribeID    uint64
}

func newCreditTracker(initialMaxSubscribeID uint64) *creditTracker {
	return &creditTracker{
		maxSubscribeID:          initialMaxSubscribeID,
		maxConcurrentSubscribes: initialMaxSubscribeID,
	}
}

// accepts reports whether an inbound subscribeID from the peer is within
// the bound we've authorized. Equality is a violation: the bound is
// exclusive.
func (c *creditTracker) accepts(id uint64) bool {
	return id < c.maxSubscribeID
}

// allocate returns the next locally-assigned subscribeID, or false if the
// peer's advertised bound has been exhausted and the caller must wait for
// MAX_SUBSCRIBE_ID to advance.
func (c *creditTracker) allocate() (uint64, bool) {
	if c.nextSubscribeID >= c.peerMaxSubscribeID {
		return 0, false
	}
	id := c.nextSubscribeID
	c.nextSubscribeID++
	return id, true
}

// setPeerMaxSubscribeID applies an inbound MAX_SUBSCRIBE_ID. The value must
// strictly exceed the prior bound; a regression is a protocol violation the
// caller must act on (close the session).
func (c *creditTracker) setPeerMaxSubscribeID(id uint64) error {
	if id <= c.peerMaxSubscribeID {
		return ErrMaxSubscribeIDRegression
	}
	c.peerMaxSubscribeID = id
	return nil
}

// retire accounts for one locally-completed subscribe/fetch (DONE, ERROR
// during reply, or fetch-stream termination). It returns the new
// maxSubscribeID and true if the threshold was crossed and a new
// MAX_SUBSCRIBE_ID must be sent to the peer.
func (c *creditTracker) retire() (newMax uint64, shouldSend bool) {
	c.closedSubscribes++
	if c.closedSubscribes >= c.maxConcurrentSubscribes/2 {
		c.maxSubscribeID += c.closedSubscribes
		c.closedSubscribes = 0
		return c.maxSubscribeID, true
	}
	return 0, false
}
