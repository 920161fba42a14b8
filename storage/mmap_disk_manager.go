package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapDiskManager is a DiskBackend that memory-maps relation files for
// zero-copy access. Reads and writes touch the mapping directly; Sync
// msyncs every mapping.
type MmapDiskManager struct {
	dir         string
	compression CompressionType

	mu   sync.Mutex
	rels map[Oid]*mmapRelation
}

// mmapRelation is one relation file and its live mapping
type mmapRelation struct {
	file *os.File
	data []byte
	size int64
}

const (
	// New relation files start with room for this many blocks
	mmapInitialBlocks = 1024
	// Mappings grow by this many blocks when a write lands past the end
	mmapGrowBlocks = 1024
)

// NewMmapDiskManager creates a memory-mapped disk manager rooted at dir
func NewMmapDiskManager(dir string, compression CompressionType) (*MmapDiskManager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}

	return &MmapDiskManager{
		dir:         dir,
		compression: compression,
		rels:        make(map[Oid]*mmapRelation),
	}, nil
}

// relation returns the mapped relation, opening and mapping the file on
// first use. Caller must hold dm.mu.
func (dm *MmapDiskManager) relation(rel Oid) (*mmapRelation, error) {
	if r, ok := dm.rels[rel]; ok {
		return r, nil
	}

	path := filepath.Join(dm.dir, fmt.Sprintf("rel_%d", rel))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open relation file %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	size := info.Size()
	if size < mmapInitialBlocks*StoredPageSize {
		size = mmapInitialBlocks * StoredPageSize
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to grow file: %w", err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap %s: %w", path, err)
	}

	r := &mmapRelation{file: f, data: data, size: size}
	dm.rels[rel] = r
	return r, nil
}

// grow extends the relation file and remaps it so offset+StoredPageSize
// fits. Caller must hold dm.mu.
func (dm *MmapDiskManager) grow(r *mmapRelation, offset int64) error {
	newSize := r.size
	for offset+StoredPageSize > newSize {
		newSize += mmapGrowBlocks * StoredPageSize
	}

	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("failed to unmap during grow: %w", err)
	}
	r.data = nil

	if err := r.file.Truncate(newSize); err != nil {
		return fmt.Errorf("failed to grow file: %w", err)
	}

	data, err := unix.Mmap(int(r.file.Fd()), 0, int(newSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to remap after grow: %w", err)
	}

	r.data = data
	r.size = newSize
	return nil
}

// ReadBlock reads one block into page straight from the mapping
func (dm *MmapDiskManager) ReadBlock(tag PageTag, page []byte) error {
	if len(page) != PageSize {
		return fmt.Errorf("page buffer must be exactly %d bytes, got %d", PageSize, len(page))
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	r, err := dm.relation(tag.Rel)
	if err != nil {
		return ErrDiskRead("ReadBlock", tag, err)
	}

	offset := int64(tag.Block) * StoredPageSize
	if offset+StoredPageSize > r.size {
		// Past the mapped extent: never-written block.
		clear(page)
		return nil
	}

	decoded, err := DecodePage(r.data[offset:offset+StoredPageSize], tag)
	if err != nil {
		return err
	}
	copy(page, decoded)
	return nil
}

// WriteBlock writes one block from page into the mapping
func (dm *MmapDiskManager) WriteBlock(tag PageTag, page []byte) error {
	if len(page) != PageSize {
		return fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(page))
	}

	stored, err := EncodePage(page, dm.compression)
	if err != nil {
		return ErrDiskWrite("WriteBlock", tag, err)
	}

	dm.mu.Lock()
	defer dm.mu.Unlock()

	r, err := dm.relation(tag.Rel)
	if err != nil {
		return ErrDiskWrite("WriteBlock", tag, err)
	}

	offset := int64(tag.Block) * StoredPageSize
	if offset+StoredPageSize > r.size {
		if err := dm.grow(r, offset); err != nil {
			return ErrDiskWrite("WriteBlock", tag, err)
		}
	}

	copy(r.data[offset:offset+StoredPageSize], stored)
	return nil
}

// NBlocks returns the mapped relation length in blocks
func (dm *MmapDiskManager) NBlocks(rel Oid) (BlockNumber, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	r, err := dm.relation(rel)
	if err != nil {
		return 0, err
	}
	return BlockNumber(r.size / StoredPageSize), nil
}

// Sync msyncs every mapping
func (dm *MmapDiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	for rel, r := range dm.rels {
		if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("failed to msync relation %d: %w", rel, err)
		}
	}
	return nil
}

// Close unmaps and closes every relation
func (dm *MmapDiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var firstErr error
	for _, r := range dm.rels {
		if r.data != nil {
			if err := unix.Munmap(r.data); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := r.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	dm.rels = make(map[Oid]*mmapRelation)
	return firstErr
}

// NewDiskBackend builds the configured disk backend
func NewDiskBackend(cfg *Config) (DiskBackend, error) {
	if cfg.UseMmap {
		return NewMmapDiskManager(cfg.DataDirectory, cfg.CompressionType())
	}
	return NewDiskManager(cfg.DataDirectory, cfg.CompressionType())
}
