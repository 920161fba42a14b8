package storage

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// PruneFunc inspects a pinned page image during vacuum and may rewrite it
// in place. It returns true when the page was modified.
type PruneFunc func(tag PageTag, page []byte) bool

// VacuumScanner walks a relation block by block through a vacuum access
// strategy, so the scan cycles a small ring of frames instead of flushing
// the working set out of the pool. Cost-based throttling naps the scan
// every costLimit pages.
type VacuumScanner struct {
	pool   *BufferPool
	logger *zap.Logger

	costLimit int
	costDelay time.Duration

	mutex sync.RWMutex

	// Statistics
	totalScanned uint64
	totalPruned  uint64
	totalRuns    uint64
	lastRunTime  time.Time
}

// VacuumStats contains statistics about vacuum runs
type VacuumStats struct {
	TotalScanned uint64
	TotalPruned  uint64
	TotalRuns    uint64
	LastRunTime  time.Time
}

const (
	defaultVacuumCostLimit = 200
	defaultVacuumCostDelay = 2 * time.Millisecond
)

// NewVacuumScanner creates a vacuum scanner for a pool
func NewVacuumScanner(pool *BufferPool, logger *zap.Logger) *VacuumScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VacuumScanner{
		pool:      pool,
		logger:    logger,
		costLimit: defaultVacuumCostLimit,
		costDelay: defaultVacuumCostDelay,
	}
}

// SetCostLimit adjusts how many pages are processed between naps
func (vs *VacuumScanner) SetCostLimit(pages int, delay time.Duration) {
	vs.mutex.Lock()
	defer vs.mutex.Unlock()
	if pages > 0 {
		vs.costLimit = pages
	}
	if delay >= 0 {
		vs.costDelay = delay
	}
}

// VacuumRelation scans blocks [0, nBlocks) of a relation, applying prune to
// each page. Returns the number of pages prune modified.
func (vs *VacuumScanner) VacuumRelation(rel Oid, nBlocks BlockNumber, prune PruneFunc) (int, error) {
	strategy, err := vs.pool.Strategy().GetAccessStrategy(BASVacuum)
	if err != nil {
		return 0, err
	}
	defer FreeAccessStrategy(strategy)

	vs.mutex.RLock()
	costLimit := vs.costLimit
	costDelay := vs.costDelay
	vs.mutex.RUnlock()

	pruned := 0
	sinceNap := 0
	start := time.Now()

	for block := BlockNumber(0); block < nBlocks; block++ {
		tag := NewPageTag(rel, block)

		frameID, err := vs.pool.ReadBuffer(tag, strategy)
		if err != nil {
			return pruned, err
		}

		dirty := false
		if prune != nil {
			dirty = prune(tag, vs.pool.PageData(frameID))
		}
		if dirty {
			pruned++
		}
		vs.pool.ReleaseBuffer(frameID, dirty)

		sinceNap++
		if sinceNap >= costLimit && costDelay > 0 {
			sinceNap = 0
			time.Sleep(costDelay)
		}
	}

	vs.mutex.Lock()
	vs.totalScanned += uint64(nBlocks)
	vs.totalPruned += uint64(pruned)
	vs.totalRuns++
	vs.lastRunTime = time.Now()
	vs.mutex.Unlock()

	vs.logger.Info("vacuum finished",
		zap.Uint32("relation", uint32(rel)),
		zap.Uint32("blocks", uint32(nBlocks)),
		zap.Int("pages_pruned", pruned),
		zap.Duration("elapsed", time.Since(start)),
	)

	return pruned, nil
}

// GetStats returns accumulated vacuum statistics
func (vs *VacuumScanner) GetStats() VacuumStats {
	vs.mutex.RLock()
	defer vs.mutex.RUnlock()
	return VacuumStats{
		TotalScanned: vs.totalScanned,
		TotalPruned:  vs.totalPruned,
		TotalRuns:    vs.totalRuns,
		LastRunTime:  vs.lastRunTime,
	}
}
