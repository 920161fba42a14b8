package storage

import (
	"sync"
	"testing"
)

func TestBufTableBasic(t *testing.T) {
	table := NewBufTable(64 + NumBufferPartitions)

	tag := NewPageTag(1, 10)
	if _, ok := table.Lookup(tag); ok {
		t.Error("lookup on empty table should miss")
	}

	table.Insert(tag, 3)
	frameID, ok := table.Lookup(tag)
	if !ok || frameID != 3 {
		t.Errorf("expected frame 3, got %d, %v", frameID, ok)
	}

	// Remapping overwrites.
	table.Insert(tag, 7)
	frameID, _ = table.Lookup(tag)
	if frameID != 7 {
		t.Errorf("expected frame 7 after remap, got %d", frameID)
	}

	table.Delete(tag)
	if _, ok := table.Lookup(tag); ok {
		t.Error("lookup after delete should miss")
	}

	// Deleting an absent tag is harmless.
	table.Delete(tag)
}

func TestBufTableDistinguishesTags(t *testing.T) {
	table := NewBufTable(64)

	// Same block number in different relations, same relation with
	// different blocks.
	table.Insert(NewPageTag(1, 5), 0)
	table.Insert(NewPageTag(2, 5), 1)
	table.Insert(NewPageTag(1, 6), 2)

	if table.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", table.Len())
	}

	frameID, _ := table.Lookup(NewPageTag(2, 5))
	if frameID != 1 {
		t.Errorf("expected frame 1, got %d", frameID)
	}
}

func TestBufTableConcurrent(t *testing.T) {
	table := NewBufTable(1024)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(rel Oid) {
			defer wg.Done()
			for block := BlockNumber(0); block < 100; block++ {
				tag := NewPageTag(rel, block)
				table.Insert(tag, int(block))
				if frameID, ok := table.Lookup(tag); !ok || frameID != int(block) {
					t.Errorf("rel %d block %d: bad lookup", rel, block)
				}
				if block%2 == 0 {
					table.Delete(tag)
				}
			}
		}(Oid(g))
	}
	wg.Wait()

	if table.Len() != 8*50 {
		t.Errorf("expected 400 surviving entries, got %d", table.Len())
	}
}

func TestBufTableShmemSize(t *testing.T) {
	small := BufTableShmemSize(16)
	large := BufTableShmemSize(4096)

	if small == 0 || large <= small {
		t.Errorf("estimate should be positive and monotonic: %d, %d", small, large)
	}
}
