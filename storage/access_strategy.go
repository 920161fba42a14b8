package storage

// AccessStrategyType classifies a caller's page access pattern. Non-normal
// types confine the caller to a small ring of frames so a bulk scan cannot
// evict the whole pool.
type AccessStrategyType int

const (
	// BASNormal uses the default replacement path, no ring
	BASNormal AccessStrategyType = iota
	// BASBulkRead is a large read-only scan
	BASBulkRead
	// BASBulkWrite is a large multi-block write (COPY in, bulk load)
	BASBulkWrite
	// BASVacuum is the vacuum scanner
	BASVacuum
)

// Ring byte budgets per access type. Ring sizes are the budget divided by
// the page size, capped at an eighth of the pool.
const (
	bulkReadRingBytes  = 256 * 1024
	bulkWriteRingBytes = 16 * 1024 * 1024
	vacuumRingBytes    = 256 * 1024
)

// AccessStrategy is per-caller private state managing a ring of buffers to
// re-use: a bounded rotating window over the pool. Slots are filled lazily
// as the caller allocates victims through the ring.
type AccessStrategy struct {
	sc    *StrategyControl
	btype AccessStrategyType

	// Number of elements in buffers
	ringSize int

	// Index of the "current" slot: the one most recently returned by
	// bufferFromRing.
	current int

	// True if the buffer just returned by GetVictim had been in the ring
	// already.
	currentWasInRing bool

	// Stored buffer numbers are frameID+1; zero marks a slot that has not
	// been filled yet.
	buffers []int
}

// GetAccessStrategy creates an AccessStrategy object for an access type.
// BASNormal gets no ring: the caller uses the default path directly and
// receives nil. The object lives in the caller's memory and is not shared.
func (sc *StrategyControl) GetAccessStrategy(btype AccessStrategyType) (*AccessStrategy, error) {
	var ringBytes int
	switch btype {
	case BASNormal:
		// NORMAL gets no strategy object; the caller takes the default path
		return nil, nil
	case BASBulkRead:
		ringBytes = bulkReadRingBytes
	case BASBulkWrite:
		ringBytes = bulkWriteRingBytes
	case BASVacuum:
		ringBytes = vacuumRingBytes
	default:
		return nil, ErrInvalidAccessStrategy("GetAccessStrategy", int(btype))
	}

	ringSize := ringBytes / PageSize

	// Make sure the ring isn't an undue fraction of the pool.
	if max := sc.NBuffers() / 8; ringSize > max {
		ringSize = max
	}
	if ringSize < 1 {
		ringSize = 1
	}

	return &AccessStrategy{
		sc:       sc,
		btype:    btype,
		ringSize: ringSize,
		buffers:  make([]int, ringSize),
	}, nil
}

// FreeAccessStrategy releases an AccessStrategy object. Safe to call on the
// nil strategy handed out for BASNormal.
func FreeAccessStrategy(strategy *AccessStrategy) {
	if strategy != nil {
		strategy.buffers = nil
		strategy.ringSize = 0
	}
}

// Type returns the strategy's access type
func (s *AccessStrategy) Type() AccessStrategyType {
	return s.btype
}

// RingSize returns the number of slots in the ring
func (s *AccessStrategy) RingSize() int {
	return s.ringSize
}

// bufferFromRing returns the next ring buffer if it can be re-used, or nil
// to tell the caller to allocate through the normal path and then fill the
// slot via addToRing.
//
// The frame header spinlatch is held on a returned frame.
func (s *AccessStrategy) bufferFromRing() *FrameDesc {
	// Advance to the next ring slot
	s.current++
	if s.current >= s.ringSize {
		s.current = 0
	}

	bufnum := s.buffers[s.current]
	if bufnum == 0 {
		s.currentWasInRing = false
		return nil
	}

	// A pinned buffer cannot be used under any circumstances. Usage count
	// 0 or 1 is fair game: our own previous use of the slot left it at 1,
	// though the clock sweep may have decremented it since. A higher count
	// means somebody else touched the buffer, so it is not re-used.
	buf := &s.sc.frames[bufnum-1]
	buf.LockHdr()
	if buf.refCount == 0 && buf.usageCount <= 1 {
		s.currentWasInRing = true
		return buf
	}
	buf.UnlockHdr()

	s.currentWasInRing = false
	return nil
}

// addToRing stores a buffer in the current ring slot. Called with the
// frame's header spinlatch held, so it had better stay cheap.
func (s *AccessStrategy) addToRing(buf *FrameDesc) {
	s.buffers[s.current] = buf.frameID + 1
}

// RejectBuffer considers rejecting a dirty victim. The buffer manager calls
// this when the frame selected by GetVictim turns out to need a write-out
// that would also force a log flush; for bulk reads it is cheaper to pick
// another victim than to stall the scan.
//
// Returns true if the manager should ask for a new victim, false if the
// buffer should be written and re-used.
func (s *AccessStrategy) RejectBuffer(buf *FrameDesc) bool {
	// Only bulkread scans reject; writers expect to write and re-use.
	if s.btype != BASBulkRead {
		return false
	}

	// Don't muck with the behavior of the normal replacement path.
	if !s.currentWasInRing || s.buffers[s.current] != buf.frameID+1 {
		return false
	}

	// Drop the dirty buffer from the ring; otherwise a ring full of dirty
	// buffers would loop forever.
	s.buffers[s.current] = 0

	return true
}
