package storage

// lruVictim walks the Am queue from the head (least recently unpinned)
// and claims the first frame without pins. The victim stays on the queue;
// its next unpin re-files it at the tail.
//
// Called with the strategy latch held. On success the victim's header
// spinlatch is held and the strategy latch is still held. On failure the
// strategy latch has been released.
func (sc *StrategyControl) lruVictim() (*FrameDesc, error) {
	for buf := sc.firstUnpinned; buf != nil; buf = buf.next {
		buf.LockHdr()
		if buf.refCount == 0 {
			return buf, nil
		}
		buf.UnlockHdr()
	}

	// Every queued frame was pinned when inspected. Fail rather than wait
	// for a pin to drop.
	sc.latch.Unlock()
	return nil, ErrNoUnpinnedBuffers("lruVictim")
}
