package storage

import (
	"sync"
)

// BufTable maps page tags to frame indexes. It is partitioned so that
// backends faulting on unrelated pages do not serialize on one lock;
// each partition has its own RWMutex and map.
type BufTable struct {
	partitions []*bufTablePartition
}

type bufTablePartition struct {
	mu     sync.RWMutex
	frames map[PageTag]int
}

// NewBufTable creates the buffer table. Steady state needs at most one entry
// per frame; callers size it with NBuffers + NumBufferPartitions, which is
// only a capacity hint, as the partition maps grow as needed.
func NewBufTable(size int) *BufTable {
	perPartition := size/NumBufferPartitions + 1

	partitions := make([]*bufTablePartition, NumBufferPartitions)
	for i := range partitions {
		partitions[i] = &bufTablePartition{
			frames: make(map[PageTag]int, perPartition),
		}
	}
	return &BufTable{partitions: partitions}
}

// partition returns the partition owning a tag
func (bt *BufTable) partition(tag PageTag) *bufTablePartition {
	return bt.partitions[tagHash(tag)%NumBufferPartitions]
}

// tagHash mixes a page tag into a partition selector. Fibonacci hashing on
// the combined words spreads sequential block numbers across partitions.
func tagHash(tag PageTag) uint64 {
	h := uint64(tag.Rel)<<32 | uint64(tag.Block)
	return h * 0x9E3779B97F4A7C15
}

// Lookup returns the frame index holding the tagged page
func (bt *BufTable) Lookup(tag PageTag) (int, bool) {
	p := bt.partition(tag)
	p.mu.RLock()
	defer p.mu.RUnlock()

	frameID, ok := p.frames[tag]
	return frameID, ok
}

// Insert maps a tag to a frame index
func (bt *BufTable) Insert(tag PageTag, frameID int) {
	p := bt.partition(tag)
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frames[tag] = frameID
}

// Delete removes a tag's mapping. Deleting an absent tag is a no-op.
func (bt *BufTable) Delete(tag PageTag) {
	p := bt.partition(tag)
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.frames, tag)
}

// Len returns the total number of mappings across all partitions
func (bt *BufTable) Len() int {
	total := 0
	for _, p := range bt.partitions {
		p.mu.RLock()
		total += len(p.frames)
		p.mu.RUnlock()
	}
	return total
}

// BufTableShmemSize estimates the shared memory needed for a table of the
// given entry count: per-entry key, value and bucket overhead plus the
// per-partition lock and header.
func BufTableShmemSize(entries int) uint64 {
	const (
		entryOverhead     = 16 + 8 + 8 // PageTag key, int value, bucket slot
		partitionOverhead = 64         // lock + map header
	)
	return uint64(entries)*entryOverhead + NumBufferPartitions*partitionOverhead
}
