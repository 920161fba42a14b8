package storage

import (
	"bytes"
	"testing"
)

// compressiblePage builds a page that any codec can shrink
func compressiblePage() []byte {
	page := NewPageImage()
	for i := range page {
		page[i] = byte(i % 4)
	}
	return page
}

func TestEncodeDecodeRoundtrip(t *testing.T) {
	tag := NewPageTag(1, 0)

	for _, ctype := range []CompressionType{CompressionNone, CompressionLZ4, CompressionSnappy} {
		page := compressiblePage()

		stored, err := EncodePage(page, ctype)
		if err != nil {
			t.Fatalf("type %d: encode failed: %v", ctype, err)
		}
		if len(stored) != StoredPageSize {
			t.Fatalf("type %d: stored record must be %d bytes, got %d", ctype, StoredPageSize, len(stored))
		}

		decoded, err := DecodePage(stored, tag)
		if err != nil {
			t.Fatalf("type %d: decode failed: %v", ctype, err)
		}
		if !bytes.Equal(page, decoded) {
			t.Errorf("type %d: roundtrip mismatch", ctype)
		}
	}
}

func TestEncodeIncompressiblePage(t *testing.T) {
	// A page with no repetition falls back to raw storage.
	page := NewPageImage()
	seed := uint32(12345)
	for i := range page {
		seed = seed*1664525 + 1013904223
		page[i] = byte(seed >> 24)
	}

	stored, err := EncodePage(page, CompressionLZ4)
	if err != nil {
		t.Fatal(err)
	}
	if CompressionType(stored[2]) != CompressionNone {
		t.Error("incompressible page should be stored raw")
	}

	decoded, err := DecodePage(stored, NewPageTag(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(page, decoded) {
		t.Error("raw fallback roundtrip mismatch")
	}
}

func TestEncodeRejectsWrongSize(t *testing.T) {
	if _, err := EncodePage(make([]byte, 100), CompressionNone); err == nil {
		t.Error("expected error for undersized page")
	}
	if _, err := DecodePage(make([]byte, 100), NewPageTag(1, 0)); err == nil {
		t.Error("expected error for undersized record")
	}
}

func TestDecodeZeroRecord(t *testing.T) {
	// An all-zero record is a hole in the file: a never-written block.
	decoded, err := DecodePage(make([]byte, StoredPageSize), NewPageTag(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range decoded {
		if b != 0 {
			t.Fatal("hole must decode to a zeroed page")
		}
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	tag := NewPageTag(1, 0)
	stored, err := EncodePage(compressiblePage(), CompressionSnappy)
	if err != nil {
		t.Fatal(err)
	}

	// Flip a payload byte: the checksum must catch it.
	stored[storedPageHeaderSize+10] ^= 0xFF
	if _, err := DecodePage(stored, tag); err == nil {
		t.Error("expected corruption to be detected")
	}

	// A garbage magic number is rejected outright.
	stored[0] = 0x12
	stored[1] = 0x34
	if _, err := DecodePage(stored, tag); !IsErrorCode(err, ErrCodePageCorrupted) {
		t.Errorf("expected page-corrupted error, got %v", err)
	}
}
