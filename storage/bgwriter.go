package storage

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Latch is a one-shot wakeup handle. Set never blocks and coalesces with a
// pending signal; Wait consumes one signal or times out. The strategy signals
// the bgwriter's latch from GetVictim with the strategy latch released,
// because the send may schedule the sleeping goroutine.
type Latch struct {
	ch chan struct{}
}

// NewLatch creates a latch with no pending signal
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{}, 1)}
}

// Set signals the latch. Multiple sets before a Wait collapse into one.
func (l *Latch) Set() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the latch is set or the timeout elapses.
// Reports whether a signal was consumed.
func (l *Latch) Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-l.ch:
		return true
	case <-timer.C:
		return false
	}
}

// BackgroundWriter flushes dirty frames ahead of demand so foreground
// victim selection rarely has to write. Each round it asks the strategy
// where the clock hand is and sweeps forward from there; when no victim
// requests happened since the previous round it hibernates on its latch
// until an allocation wakes it.
type BackgroundWriter struct {
	pool   *BufferPool
	logger *zap.Logger

	delay     time.Duration
	maxPages  int
	hibernate time.Duration

	latch   *Latch
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Statistics
	rounds       atomic.Uint64
	pagesWritten atomic.Uint64
	hibernations atomic.Uint64
}

// BgWriterStats is a snapshot of background writer counters
type BgWriterStats struct {
	Rounds       uint64
	PagesWritten uint64
	Hibernations uint64
}

// NewBackgroundWriter creates a background writer for a pool
func NewBackgroundWriter(pool *BufferPool, cfg *Config, logger *zap.Logger) *BackgroundWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackgroundWriter{
		pool:      pool,
		logger:    logger,
		delay:     cfg.BgWriterDelay,
		maxPages:  cfg.BgWriterMaxPages,
		hibernate: cfg.BgWriterHibernate,
		latch:     NewLatch(),
	}
}

// Start launches the background goroutine
func (bw *BackgroundWriter) Start() error {
	if !bw.running.CompareAndSwap(false, true) {
		return fmt.Errorf("background writer already running")
	}

	bw.stopCh = make(chan struct{})
	bw.doneCh = make(chan struct{})
	go bw.run()

	return nil
}

// Stop shuts the background writer down and waits for it
func (bw *BackgroundWriter) Stop() error {
	if !bw.running.Load() {
		return nil
	}

	close(bw.stopCh)
	// A hibernating writer is parked on its latch.
	bw.latch.Set()
	<-bw.doneCh

	// Withdraw any notification still registered.
	bw.pool.Strategy().NotifyBgWriter(nil)
	bw.running.Store(false)

	return nil
}

// IsRunning reports whether the writer goroutine is active
func (bw *BackgroundWriter) IsRunning() bool {
	return bw.running.Load()
}

// GetStats returns a snapshot of the writer's counters
func (bw *BackgroundWriter) GetStats() BgWriterStats {
	return BgWriterStats{
		Rounds:       bw.rounds.Load(),
		PagesWritten: bw.pagesWritten.Load(),
		Hibernations: bw.hibernations.Load(),
	}
}

// run is the writer loop
func (bw *BackgroundWriter) run() {
	defer close(bw.doneCh)

	for {
		select {
		case <-bw.stopCh:
			return
		default:
		}

		start, passes, allocs := bw.pool.Strategy().SyncStart()

		if allocs == 0 {
			// Nobody asked for a buffer since the last round. Register
			// the latch so the next GetVictim wakes us, then hibernate.
			bw.hibernations.Add(1)
			bw.pool.Strategy().NotifyBgWriter(bw.latch)
			bw.latch.Wait(bw.hibernate)
			bw.pool.Strategy().NotifyBgWriter(nil)
			continue
		}

		written := bw.sweep(start)
		bw.rounds.Add(1)

		if written > 0 {
			bw.logger.Debug("bgwriter round",
				zap.Int("start", start),
				zap.Uint32("complete_passes", passes),
				zap.Uint32("recent_allocs", allocs),
				zap.Int("pages_written", written),
			)
		}

		select {
		case <-bw.stopCh:
			return
		case <-time.After(bw.delay):
		}
	}
}

// sweep scans the pool circularly from the given frame, flushing dirty
// frames until the whole pool was inspected or maxPages were written
func (bw *BackgroundWriter) sweep(start int) int {
	n := bw.pool.NBuffers()
	written := 0
	frameID := start % n

	for i := 0; i < n; i++ {
		wrote, err := bw.pool.SyncOne(frameID)
		if err != nil {
			bw.logger.Warn("bgwriter flush failed",
				zap.Int("frame", frameID),
				zap.Error(err),
			)
		}
		if wrote {
			written++
			bw.pagesWritten.Add(1)
			if written >= bw.maxPages {
				break
			}
		}

		frameID++
		if frameID >= n {
			frameID = 0
		}
	}

	return written
}
