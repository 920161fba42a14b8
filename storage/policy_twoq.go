package storage

// twoQVictim selects a victim for the 2Q policy.
//
// 2Q files first-time unpins on the probationary A1 FIFO and promotes
// repeat unpins to the warm Am queue. Eviction drains A1 while it holds at
// least half the pool (or while Am is empty), otherwise it drains the cold
// end of Am. The victim is unlinked from its queue before being returned.
//
// Deliberately, there is no fallback: if the chosen queue has no unpinned
// frame the call fails even when the other queue has candidates.
//
// Called with the strategy latch held. On success the victim's header
// spinlatch is held and the strategy latch is still held. On failure the
// strategy latch has been released.
func (sc *StrategyControl) twoQVictim() (*FrameDesc, error) {
	thres := len(sc.frames) / 2
	sizeA1 := sc.a1Len()

	if sizeA1 >= thres || sc.firstUnpinned == nil {
		for buf := sc.a1Head; buf != nil; buf = buf.next {
			buf.LockHdr()
			if buf.refCount == 0 {
				sc.unlinkA1(buf)
				return buf, nil
			}
			buf.UnlockHdr()
		}
	} else {
		for buf := sc.firstUnpinned; buf != nil; buf = buf.next {
			buf.LockHdr()
			if buf.refCount == 0 {
				sc.unlinkAm(buf)
				return buf, nil
			}
			buf.UnlockHdr()
		}
	}

	sc.latch.Unlock()
	return nil, ErrNoUnpinnedBuffers("twoQVictim")
}

// a1Len counts the A1 queue. Caller must hold the strategy latch.
// A1 carries no length field; the walk is bounded by the pool size.
func (sc *StrategyControl) a1Len() int {
	n := 0
	for buf := sc.a1Head; buf != nil; buf = buf.next {
		n++
	}
	return n
}
