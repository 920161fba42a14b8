package storage

import (
	"fmt"
	"unsafe"
)

// PolicyKind selects the buffer replacement policy. It is fixed at pool
// creation; there is no runtime switching.
type PolicyKind int

const (
	PolicyClock PolicyKind = iota
	PolicyLRU
	PolicyMRU
	PolicyTwoQ
)

// String returns the canonical short name of the policy
func (p PolicyKind) String() string {
	switch p {
	case PolicyClock:
		return "clock"
	case PolicyLRU:
		return "lru"
	case PolicyMRU:
		return "mru"
	case PolicyTwoQ:
		return "2q"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a configuration string to a PolicyKind
func ParsePolicy(name string) (PolicyKind, error) {
	switch name {
	case "clock":
		return PolicyClock, nil
	case "lru":
		return PolicyLRU, nil
	case "mru":
		return PolicyMRU, nil
	case "2q":
		return PolicyTwoQ, nil
	default:
		return 0, fmt.Errorf("unknown replacement policy %q (want clock, lru, mru or 2q)", name)
	}
}

// NumBufferPartitions is the shard count of the buffer table. The table is
// sized for NBuffers + NumBufferPartitions entries: one per frame plus one
// spare per partition.
const NumBufferPartitions = 128

// StrategyControl is the process-wide shared state of the replacement
// strategy: the free list, the clock hand, the policy queues and the
// bgwriter notification latch.
//
// Every field below latch is protected by latch, held exclusively. The only
// exceptions are the per-frame refCount/usageCount, which live under each
// frame's header spinlatch.
type StrategyControl struct {
	latch  *RWLatch
	frames []FrameDesc
	policy PolicyKind

	// Clock sweep hand: index of next buffer to consider grabbing
	nextVictim int

	// Head and tail of the list of unused buffers. lastFree is undefined
	// while firstFree is -1 (list empty).
	firstFree int
	lastFree  int

	// Statistics, wide enough not to overflow within a bgwriter cycle.
	completePasses uint32 // complete cycles of the clock sweep
	numAllocs      uint32 // victim requests since last SyncStart

	// Notification latch, or nil if none. See NotifyBgWriter.
	bgwriterLatch *Latch

	// Am queue: unpinned frames, least recently unpinned at the head.
	// Used by LRU, MRU and as 2Q's warm tier.
	firstUnpinned *FrameDesc
	lastUnpinned  *FrameDesc

	// A1 queue: 2Q's probationary FIFO of first-time unpins.
	a1Head *FrameDesc
	a1Tail *FrameDesc

	metrics *Metrics
}

// NewStrategyControl initializes the replacement strategy for a frame array.
// All frames are handed to the free list, the clock hand starts at zero and
// every queue is empty. Called exactly once per pool.
func NewStrategyControl(frames []FrameDesc, policy PolicyKind, metrics *Metrics) (*StrategyControl, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("buffer pool must have at least one frame")
	}
	switch policy {
	case PolicyClock, PolicyLRU, PolicyMRU, PolicyTwoQ:
	default:
		return nil, ErrInvalidPolicy("NewStrategyControl", int(policy))
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	// Chain the whole frame array into the free list.
	for i := range frames {
		frames[i].freeNext = i + 1
	}
	frames[len(frames)-1].freeNext = FreeNextEndOfList

	return &StrategyControl{
		latch:     NewRWLatch(),
		frames:    frames,
		policy:    policy,
		firstFree: 0,
		lastFree:  len(frames) - 1,
		metrics:   metrics,
	}, nil
}

// Policy returns the configured replacement policy
func (sc *StrategyControl) Policy() PolicyKind {
	return sc.policy
}

// NBuffers returns the number of frames in the pool
func (sc *StrategyControl) NBuffers() int {
	return len(sc.frames)
}

// Frame returns the descriptor for a frame index
func (sc *StrategyControl) Frame(frameID int) *FrameDesc {
	return &sc.frames[frameID]
}

// Metrics returns the strategy's metrics sink
func (sc *StrategyControl) Metrics() *Metrics {
	return sc.metrics
}

// GetVictim returns the next candidate frame to reuse. The only hard
// requirement is that the selected frame is not pinned by anyone.
//
// The frame is returned with its header spinlatch held, so nobody can pin
// it before the caller does. latchHeld reports whether the pool-wide
// strategy latch is also still held; it is whenever selection went past the
// per-caller ring, and the caller must release it once it drops the
// spinlatch. The latch is handed back held because releasing it may wake
// other backends, and the associated kernel calls must not run under the
// frame spinlatch.
//
// On error the strategy latch has already been released.
func (sc *StrategyControl) GetVictim(strategy *AccessStrategy) (buf *FrameDesc, latchHeld bool, err error) {
	// If given a strategy object, see whether it can select a buffer.
	// Ring access never takes the strategy latch.
	if strategy != nil {
		if buf = strategy.bufferFromRing(); buf != nil {
			sc.metrics.RecordRingHit()
			return buf, false, nil
		}
	}

	sc.latch.Lock()

	// Count allocation requests so the bgwriter can estimate the rate of
	// buffer consumption. Ring-recycled buffers are intentionally not
	// counted here.
	sc.numAllocs++

	// If a bgwriter latch is registered, wake the bgwriter, but not while
	// holding the strategy latch: signaling may make kernel calls. Release,
	// signal, re-acquire. Happens at most once per bgwriter cycle.
	if l := sc.bgwriterLatch; l != nil {
		sc.bgwriterLatch = nil
		sc.latch.Unlock()
		l.Set()
		sc.metrics.RecordBgWriterWakeup()
		sc.latch.Lock()
	}

	// Try the free list first. freeNext fields are protected by the
	// strategy latch, not the frame spinlatches, so they can be rewritten
	// before the header is locked.
	for sc.firstFree >= 0 {
		buf = &sc.frames[sc.firstFree]

		// Unconditionally remove the buffer from the free list
		sc.firstFree = buf.freeNext
		buf.freeNext = FreeNextNotInList

		// A listed frame can still have been pinned or touched since it
		// was freed; such frames are discarded and the drain continues.
		buf.LockHdr()
		if buf.refCount == 0 && buf.usageCount == 0 {
			if strategy != nil {
				strategy.addToRing(buf)
			}
			sc.metrics.RecordFreeListHit()
			return buf, true, nil
		}
		buf.UnlockHdr()
	}

	// Nothing on the free list; run the configured replacement policy.
	switch sc.policy {
	case PolicyClock:
		buf, err = sc.clockVictim(strategy)
	case PolicyLRU:
		buf, err = sc.lruVictim()
	case PolicyMRU:
		buf, err = sc.mruVictim()
	case PolicyTwoQ:
		buf, err = sc.twoQVictim()
	default:
		sc.latch.Unlock()
		return nil, false, ErrInvalidPolicy("GetVictim", int(sc.policy))
	}
	if err != nil {
		// The policy walk released the strategy latch before failing.
		return nil, false, err
	}
	if buf == nil {
		sc.latch.Unlock()
		return nil, false, ErrVictimNotSelected("GetVictim")
	}

	sc.metrics.RecordPolicyVictim()
	return buf, true, nil
}

// ReleaseLatch releases the strategy latch handed back by GetVictim with
// latchHeld == true. Must be called after the frame spinlatch is dropped.
func (sc *StrategyControl) ReleaseLatch() {
	sc.latch.Unlock()
}

// FreeBuffer puts a buffer on the free list. It is possible to be told to
// free something that is already on the list; the list must not be
// corrupted in that case, so the call is idempotent.
func (sc *StrategyControl) FreeBuffer(buf *FrameDesc) {
	sc.latch.Lock()

	if buf.freeNext == FreeNextNotInList {
		buf.freeNext = sc.firstFree
		if buf.freeNext < 0 {
			sc.lastFree = buf.frameID
		}
		sc.firstFree = buf.frameID
	}

	sc.latch.Unlock()
}

// SyncStart tells the background writer where to start syncing: the current
// clock hand, plus the completed-pass count and the number of allocations
// since the previous call. The allocation count is reset after being read.
func (sc *StrategyControl) SyncStart() (start int, completePasses, numAllocs uint32) {
	sc.latch.Lock()
	start = sc.nextVictim
	completePasses = sc.completePasses
	numAllocs = sc.numAllocs
	sc.numAllocs = 0
	sc.latch.Unlock()
	return start, completePasses, numAllocs
}

// NotifyBgWriter sets or clears the allocation notification latch. If latch
// is non-nil, the next GetVictim call will signal it. Passing nil cancels a
// pending notification. Used by the background writer to wake itself from
// hibernation; not meant for anybody else.
func (sc *StrategyControl) NotifyBgWriter(latch *Latch) {
	// The strategy latch is taken just so the store appears atomic to
	// GetVictim. The bgwriter calls this infrequently.
	sc.latch.Lock()
	sc.bgwriterLatch = latch
	sc.latch.Unlock()
}

// ShmemSize estimates the shared memory consumed by the strategy for a pool
// of nBuffers frames: the buffer table sized for concurrent per-partition
// insert-before-delete, plus the aligned control block.
func ShmemSize(nBuffers int) uint64 {
	size := BufTableShmemSize(nBuffers + NumBufferPartitions)
	size += maxAlign(uint64(unsafe.Sizeof(StrategyControl{})))
	return size
}

// maxAlign rounds a size up to the platform's maximum alignment
func maxAlign(size uint64) uint64 {
	const align = 8
	return (size + align - 1) &^ (align - 1)
}
