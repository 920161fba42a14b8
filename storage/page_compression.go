package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// CompressionType represents the compression algorithm used for on-disk pages
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

// On-disk layout of a stored page record:
// [0-1]: Magic number (0xC0DE)
// [2]: Compression type (0=none, 1=LZ4, 2=Snappy)
// [3]: Reserved
// [4-5]: Payload size
// [6-9]: Checksum (CRC32) of the uncompressed page
// [10+]: Page bytes, compressed or raw, padded to StoredPageSize
//
// The record is always StoredPageSize bytes so block offsets stay a simple
// multiply; an incompressible page is stored raw after the header.
const (
	storedPageMagic      = 0xC0DE
	storedPageHeaderSize = 10

	// StoredPageSize is the on-disk footprint of one page record
	StoredPageSize = storedPageHeaderSize + PageSize

	// Minimum bytes saved to keep the compressed form
	minCompressionThreshold = 100
)

// EncodePage encodes a page image into a StoredPageSize disk record.
// If compression does not save at least minCompressionThreshold bytes the
// page is stored raw.
func EncodePage(data []byte, ctype CompressionType) ([]byte, error) {
	if len(data) != PageSize {
		return nil, fmt.Errorf("page data must be exactly %d bytes, got %d", PageSize, len(data))
	}

	checksum := crc32Checksum(data)

	var payload []byte
	switch ctype {
	case CompressionNone:
		payload = data

	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("LZ4 compression failed: %w", err)
		}
		// CompressBlock reports 0 for incompressible input
		if n == 0 {
			ctype = CompressionNone
			payload = data
		} else {
			payload = buf[:n]
		}

	case CompressionSnappy:
		payload = snappy.Encode(nil, data)

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", ctype)
	}

	if ctype != CompressionNone {
		savings := len(data) - len(payload)
		if savings < minCompressionThreshold || len(payload) > PageSize {
			ctype = CompressionNone
			payload = data
		}
	}

	out := make([]byte, StoredPageSize)
	binary.LittleEndian.PutUint16(out[0:2], storedPageMagic)
	out[2] = byte(ctype)
	binary.LittleEndian.PutUint16(out[4:6], uint16(len(payload)))
	binary.LittleEndian.PutUint32(out[6:10], checksum)
	copy(out[storedPageHeaderSize:], payload)

	return out, nil
}

// DecodePage decodes a stored page record back into a PageSize image,
// verifying the checksum. A record of all zeroes (a never-written block)
// decodes to a zeroed page.
func DecodePage(stored []byte, tag PageTag) ([]byte, error) {
	if len(stored) != StoredPageSize {
		return nil, fmt.Errorf("stored page must be exactly %d bytes, got %d", StoredPageSize, len(stored))
	}

	magic := binary.LittleEndian.Uint16(stored[0:2])
	if magic == 0 {
		// Hole in the file: the block was allocated but never written.
		return NewPageImage(), nil
	}
	if magic != storedPageMagic {
		return nil, ErrPageCorrupted("DecodePage", tag)
	}

	ctype := CompressionType(stored[2])
	payloadSize := int(binary.LittleEndian.Uint16(stored[4:6]))
	checksum := binary.LittleEndian.Uint32(stored[6:10])

	if payloadSize > PageSize {
		return nil, ErrPageCorrupted("DecodePage", tag)
	}
	payload := stored[storedPageHeaderSize : storedPageHeaderSize+payloadSize]

	var decompressed []byte
	switch ctype {
	case CompressionNone:
		if payloadSize != PageSize {
			return nil, ErrPageCorrupted("DecodePage", tag)
		}
		decompressed = make([]byte, PageSize)
		copy(decompressed, payload)

	case CompressionLZ4:
		decompressed = make([]byte, PageSize)
		n, err := lz4.UncompressBlock(payload, decompressed)
		if err != nil {
			return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
		}
		if n != PageSize {
			return nil, fmt.Errorf("LZ4 decompression size mismatch: got %d, expected %d", n, PageSize)
		}

	case CompressionSnappy:
		var err error
		decompressed, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}
		if len(decompressed) != PageSize {
			return nil, fmt.Errorf("snappy decompression size mismatch: got %d, expected %d", len(decompressed), PageSize)
		}

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", ctype)
	}

	if crc32Checksum(decompressed) != checksum {
		return nil, ErrPageCorrupted("DecodePage", tag)
	}

	return decompressed, nil
}
