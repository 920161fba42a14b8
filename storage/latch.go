package storage

import (
	"runtime"
	"sync/atomic"
)

// RWLatch is a lock-free reader-writer latch implementation using atomic counters
// It provides better performance than sync.RWMutex for high-contention scenarios
// by avoiding kernel-level locks and using only CPU atomic instructions.
//
// The buffer strategy uses one RWLatch, always in exclusive mode, as the
// pool-wide strategy latch serializing free-list and queue mutations.
//
// Layout of the 64-bit atomic counter:
//
//	Bits 0-30: Reader count (31 bits, max 2^31-1 concurrent readers)
//	Bit 31: Writer flag (1 = writer active/pending)
//	Bits 32-63: Writer waiting count (for fairness)
const (
	readerMask        uint64 = 0x7FFFFFFF         // Bits 0-30: reader count
	writerFlag        uint64 = 0x80000000         // Bit 31: writer active
	writerWaitingMask uint64 = 0xFFFFFFFF00000000 // Bits 32-63: writers waiting
	writerWaitingInc  uint64 = 0x100000000        // Increment for writer waiting
)

// RWLatch provides lock-free reader-writer synchronization
type RWLatch struct {
	state uint64 // Atomic state: [waiters:32][writer:1][readers:31]
}

// NewRWLatch creates a new lock-free RWLatch
func NewRWLatch() *RWLatch {
	return &RWLatch{state: 0}
}

// RLock acquires a read lock
// Multiple readers can hold the latch simultaneously
func (rw *RWLatch) RLock() {
	backoff := 1
	for {
		state := atomic.LoadUint64(&rw.state)

		// Check if writer is active or waiting
		if state&writerFlag != 0 || state&writerWaitingMask != 0 {
			rw.spin(backoff)
			backoff = increaseBackoff(backoff)
			continue
		}

		// Try to increment reader count
		newState := state + 1
		if atomic.CompareAndSwapUint64(&rw.state, state, newState) {
			return
		}

		rw.spin(backoff)
		backoff = increaseBackoff(backoff)
	}
}

// RUnlock releases a read lock
func (rw *RWLatch) RUnlock() {
	for {
		state := atomic.LoadUint64(&rw.state)
		readerCount := state & readerMask

		if readerCount == 0 {
			panic("RWLatch: RUnlock called without corresponding RLock")
		}

		newState := state - 1
		if atomic.CompareAndSwapUint64(&rw.state, state, newState) {
			return
		}

		runtime.Gosched()
	}
}

// Lock acquires a write lock. Only one writer can hold the latch,
// and no readers can be active.
func (rw *RWLatch) Lock() {
	backoff := 1

	// Announce writer waiting
	for {
		state := atomic.LoadUint64(&rw.state)

		if state&writerFlag != 0 {
			rw.spin(backoff)
			backoff = increaseBackoff(backoff)
			continue
		}

		// Increment writer waiting count and set writer flag
		newState := (state + writerWaitingInc) | writerFlag
		if atomic.CompareAndSwapUint64(&rw.state, state, newState) {
			break
		}

		rw.spin(backoff)
		backoff = increaseBackoff(backoff)
	}

	// Wait for all readers to drain
	backoff = 1
	for {
		state := atomic.LoadUint64(&rw.state)
		if state&readerMask == 0 {
			return
		}

		rw.spin(backoff)
		backoff = increaseBackoff(backoff)
	}
}

// Unlock releases a write lock
func (rw *RWLatch) Unlock() {
	for {
		state := atomic.LoadUint64(&rw.state)

		if state&writerFlag == 0 {
			panic("RWLatch: Unlock called without corresponding Lock")
		}

		// Clear writer flag and decrement writer waiting count
		newState := (state &^ writerFlag) - writerWaitingInc
		if atomic.CompareAndSwapUint64(&rw.state, state, newState) {
			return
		}

		runtime.Gosched()
	}
}

// TryLock attempts to acquire a write lock without blocking
// Returns true if successful, false otherwise
//
// BufferUnpinned depends on this: a contended unpin must not block.
func (rw *RWLatch) TryLock() bool {
	state := atomic.LoadUint64(&rw.state)

	if state&writerFlag != 0 || state&readerMask != 0 {
		return false
	}

	newState := state | writerFlag | writerWaitingInc
	return atomic.CompareAndSwapUint64(&rw.state, state, newState)
}

// IsWriterActive returns true if a writer currently holds the latch (for testing)
func (rw *RWLatch) IsWriterActive() bool {
	state := atomic.LoadUint64(&rw.state)
	return state&writerFlag != 0
}

// GetReaderCount returns the current number of active readers (for testing)
func (rw *RWLatch) GetReaderCount() uint32 {
	state := atomic.LoadUint64(&rw.state)
	return uint32(state & readerMask)
}

// spin performs a busy-wait with exponential backoff
func (rw *RWLatch) spin(iterations int) {
	for i := 0; i < iterations; i++ {
		runtime.Gosched()
	}
}

// increaseBackoff increases the backoff duration exponentially
// with a maximum cap to prevent excessive spinning
func increaseBackoff(current int) int {
	next := current * 2
	if next > 1024 {
		return 1024
	}
	return next
}

// SpinLatch is a test-and-set spinlock guarding a single frame header.
// It protects only the frame's refCount/usageCount/flag fields and is held
// for a handful of instructions, so plain spinning with Gosched backoff
// beats a mutex here.
type SpinLatch struct {
	locked uint32
}

// Lock acquires the spinlatch, spinning until it is free
func (s *SpinLatch) Lock() {
	backoff := 1
	for !atomic.CompareAndSwapUint32(&s.locked, 0, 1) {
		for i := 0; i < backoff; i++ {
			runtime.Gosched()
		}
		backoff = increaseBackoff(backoff)
	}
}

// TryLock attempts to acquire the spinlatch without spinning
func (s *SpinLatch) TryLock() bool {
	return atomic.CompareAndSwapUint32(&s.locked, 0, 1)
}

// Unlock releases the spinlatch
func (s *SpinLatch) Unlock() {
	if atomic.SwapUint32(&s.locked, 0) == 0 {
		panic("SpinLatch: Unlock of unlocked latch")
	}
}

// IsLocked reports whether the latch is currently held (for testing)
func (s *SpinLatch) IsLocked() bool {
	return atomic.LoadUint32(&s.locked) != 0
}
