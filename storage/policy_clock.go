package storage

// clockVictim runs the clock sweep: the hand advances over the frame array,
// giving every touched frame a second chance by decrementing its usage
// count, and claims the first unpinned frame whose count has reached zero.
//
// Called with the strategy latch held. On success the victim's header
// spinlatch is held and the strategy latch is still held. On failure the
// strategy latch has been released.
func (sc *StrategyControl) clockVictim(strategy *AccessStrategy) (*FrameDesc, error) {
	trycounter := len(sc.frames)
	for {
		buf := &sc.frames[sc.nextVictim]

		// If the hand has reached the end of the pool, start back at the
		// beginning.
		sc.nextVictim++
		if sc.nextVictim >= len(sc.frames) {
			sc.nextVictim = 0
			sc.completePasses++
		}

		// A pinned frame or one with a nonzero usage count cannot be
		// used; decrement the usage count (unless pinned) and keep
		// scanning.
		buf.LockHdr()
		if buf.refCount == 0 {
			if buf.usageCount > 0 {
				buf.usageCount--
				trycounter = len(sc.frames)
			} else {
				// Found a usable buffer
				if strategy != nil {
					strategy.addToRing(buf)
				}
				return buf, nil
			}
		} else {
			trycounter--
			if trycounter == 0 {
				// The hand swept the whole pool without making any state
				// change, so every frame was pinned when inspected.
				// Failing beats risking an infinite loop waiting for a
				// pin to drop.
				buf.UnlockHdr()
				sc.latch.Unlock()
				return nil, ErrNoUnpinnedBuffers("clockVictim")
			}
		}
		buf.UnlockHdr()
	}
}
