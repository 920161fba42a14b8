package storage

// mruVictim walks the Am queue from the tail (most recently unpinned)
// and claims the first frame without pins. Mirror image of lruVictim.
//
// Called with the strategy latch held. On success the victim's header
// spinlatch is held and the strategy latch is still held. On failure the
// strategy latch has been released.
func (sc *StrategyControl) mruVictim() (*FrameDesc, error) {
	for buf := sc.lastUnpinned; buf != nil; buf = buf.prev {
		buf.LockHdr()
		if buf.refCount == 0 {
			return buf, nil
		}
		buf.UnlockHdr()
	}

	sc.latch.Unlock()
	return nil, ErrNoUnpinnedBuffers("mruVictim")
}
