package storage

import (
	"time"

	"go.uber.org/zap"
)

// BufferPool is the buffer manager: it owns the frame descriptors, the page
// images, the buffer table and the replacement strategy, and drives victim
// selection on page faults.
type BufferPool struct {
	cfg      *Config
	frames   []FrameDesc
	pages    [][]byte // page image per frame
	table    *BufTable
	strategy *StrategyControl
	disk     DiskBackend
	metrics  *Metrics
	logger   *zap.Logger
}

// NewBufferPool creates a buffer pool over a disk backend
func NewBufferPool(cfg *Config, disk DiskBackend, logger *zap.Logger) (*BufferPool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	n := cfg.BufferPoolSize
	frames := NewFrameDescs(n)
	metrics := NewMetrics()

	strategy, err := NewStrategyControl(frames, cfg.Policy(), metrics)
	if err != nil {
		return nil, err
	}

	pages := make([][]byte, n)
	for i := range pages {
		pages[i] = NewPageImage()
	}

	logger.Info("buffer pool initialized",
		zap.Int("frames", n),
		zap.String("policy", cfg.ReplacementPolicy),
		zap.Uint64("shmem_estimate_bytes", ShmemSize(n)),
	)

	return &BufferPool{
		cfg:      cfg,
		frames:   frames,
		pages:    pages,
		table:    NewBufTable(n + NumBufferPartitions),
		strategy: strategy,
		disk:     disk,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Strategy returns the pool's replacement strategy control
func (bp *BufferPool) Strategy() *StrategyControl {
	return bp.strategy
}

// Metrics returns the pool's metrics sink
func (bp *BufferPool) Metrics() *Metrics {
	return bp.metrics
}

// NBuffers returns the number of frames in the pool
func (bp *BufferPool) NBuffers() int {
	return len(bp.frames)
}

// PageData returns the page image of a frame. Only valid while the caller
// holds a pin on the frame.
func (bp *BufferPool) PageData(frameID int) []byte {
	return bp.pages[frameID]
}

// ReadBuffer returns a pinned frame holding the tagged page, faulting it in
// from disk if needed. strategy may be nil for the default replacement
// path. The caller must pair this with ReleaseBuffer.
func (bp *BufferPool) ReadBuffer(tag PageTag, strategy *AccessStrategy) (int, error) {
	if frameID, ok := bp.table.Lookup(tag); ok {
		buf := &bp.frames[frameID]
		buf.LockHdr()
		if buf.valid && buf.tag == tag {
			buf.pinLocked()
			buf.UnlockHdr()
			bp.metrics.RecordCacheHit()
			return frameID, nil
		}
		// The mapping went stale between lookup and lock; fault it in.
		buf.UnlockHdr()
	}

	bp.metrics.RecordCacheMiss()
	return bp.readBufferMiss(tag, strategy)
}

// readBufferMiss allocates a victim frame and reads the tagged block into it
func (bp *BufferPool) readBufferMiss(tag PageTag, strategy *AccessStrategy) (int, error) {
	start := time.Now()
	buf, err := bp.allocVictim(strategy)
	if err != nil {
		return -1, err
	}
	bp.metrics.RecordVictimSearchLatency(time.Since(start))

	readStart := time.Now()
	if err := bp.disk.ReadBlock(tag, bp.pages[buf.frameID]); err != nil {
		// Undo: the frame holds nothing usable, hand it back.
		buf.LockHdr()
		buf.valid = false
		buf.unpinLocked()
		buf.UnlockHdr()
		bp.strategy.FreeBuffer(buf)
		return -1, err
	}
	bp.metrics.RecordBlockReadLatency(time.Since(readStart))

	buf.LockHdr()
	buf.tag = tag
	buf.valid = true
	buf.dirty = false
	buf.UnlockHdr()

	bp.table.Insert(tag, buf.frameID)
	return buf.frameID, nil
}

// allocVictim obtains a pinned, clean frame ready to receive a new page.
// Dirty victims are flushed, or re-rejected through a bulk-read ring; evicted
// pages lose their buffer table mapping.
func (bp *BufferPool) allocVictim(strategy *AccessStrategy) (*FrameDesc, error) {
	for {
		buf, latchHeld, err := bp.strategy.GetVictim(strategy)
		if err != nil {
			return nil, err
		}

		// Pin while the header spinlatch from GetVictim is still held, so
		// nobody can grab the frame in between. A victim fresh off the
		// free list or clock sweep has usage 0; leave it at 1, the value
		// the ring expects from its own prior touch.
		buf.refCount++
		if buf.usageCount == 0 {
			buf.usageCount = 1
		}
		wasDirty := buf.valid && buf.dirty
		oldTag := buf.tag
		oldValid := buf.valid
		buf.UnlockHdr()

		if latchHeld {
			bp.strategy.ReleaseLatch()
		}

		if wasDirty {
			// Writing the victim may be expensive; bulk-read rings would
			// rather take another frame than wait for the write.
			if strategy != nil && strategy.RejectBuffer(buf) {
				bp.metrics.RecordVictimRejection()
				bp.releasePinInternal(buf)
				continue
			}
			if err := bp.flushFrame(buf); err != nil {
				bp.releasePinInternal(buf)
				return nil, err
			}
		}

		if oldValid {
			bp.table.Delete(oldTag)
			buf.LockHdr()
			buf.valid = false
			buf.UnlockHdr()
			bp.metrics.RecordEviction()
		}

		return buf, nil
	}
}

// ReleaseBuffer drops one pin on a frame, optionally marking it dirty.
// When the last pin falls, the replacement strategy is told.
func (bp *BufferPool) ReleaseBuffer(frameID int, dirty bool) {
	buf := &bp.frames[frameID]

	buf.LockHdr()
	if dirty {
		buf.dirty = true
	}
	last := buf.unpinLocked()
	buf.UnlockHdr()

	if last {
		bp.strategy.BufferUnpinned(frameID)
	}
}

// releasePinInternal drops a pin taken by allocVictim
func (bp *BufferPool) releasePinInternal(buf *FrameDesc) {
	buf.LockHdr()
	last := buf.unpinLocked()
	buf.UnlockHdr()

	if last {
		bp.strategy.BufferUnpinned(buf.frameID)
	}
}

// MarkDirty flags a pinned frame's page image as modified
func (bp *BufferPool) MarkDirty(frameID int) {
	buf := &bp.frames[frameID]
	buf.LockHdr()
	buf.dirty = true
	buf.UnlockHdr()
}

// flushFrame writes a frame's page image to disk and clears its dirty flag.
// The caller holds a pin; the header spinlatch is not held across the I/O.
func (bp *BufferPool) flushFrame(buf *FrameDesc) error {
	buf.LockHdr()
	if !buf.valid || !buf.dirty {
		buf.UnlockHdr()
		return nil
	}
	tag := buf.tag
	buf.UnlockHdr()

	start := time.Now()
	if err := bp.disk.WriteBlock(tag, bp.pages[buf.frameID]); err != nil {
		return err
	}
	bp.metrics.RecordBlockWriteLatency(time.Since(start))
	bp.metrics.RecordDirtyFlush()

	buf.LockHdr()
	buf.dirty = false
	buf.UnlockHdr()
	return nil
}

// FlushBuffer writes one frame's page out if it is valid and dirty
func (bp *BufferPool) FlushBuffer(frameID int) error {
	return bp.flushFrame(&bp.frames[frameID])
}

// SyncOne is the background writer's workhorse: if the frame is valid and
// dirty it is pinned, flushed and unpinned. Reports whether a write
// happened.
func (bp *BufferPool) SyncOne(frameID int) (bool, error) {
	buf := &bp.frames[frameID]

	buf.LockHdr()
	if !buf.valid || !buf.dirty {
		buf.UnlockHdr()
		return false, nil
	}
	buf.pinLocked()
	buf.UnlockHdr()

	err := bp.flushFrame(buf)
	bp.releasePinInternal(buf)
	if err != nil {
		return false, err
	}
	return true, nil
}

// FlushAll writes out every dirty frame and syncs the backend
func (bp *BufferPool) FlushAll() error {
	for i := range bp.frames {
		if err := bp.flushFrame(&bp.frames[i]); err != nil {
			return err
		}
	}
	return bp.disk.Sync()
}

// DirtyCount returns the number of dirty frames
func (bp *BufferPool) DirtyCount() int {
	count := 0
	for i := range bp.frames {
		buf := &bp.frames[i]
		buf.LockHdr()
		if buf.valid && buf.dirty {
			count++
		}
		buf.UnlockHdr()
	}
	return count
}

// Close flushes everything and closes the disk backend
func (bp *BufferPool) Close() error {
	if err := bp.FlushAll(); err != nil {
		bp.disk.Close()
		return err
	}
	if bp.cfg.EnableMetrics {
		bp.metrics.LogMetrics(bp.logger)
	}
	return bp.disk.Close()
}
