package upak

import (
	"bytes"
	"crypto/sha1" //nolint:gosec
	"errors"
	"testing"

	"github.com/klauspost/compress/zlib"
)

func TestDeflateBlocks_SplitsBySize(t *testing.T) {
	t.Parallel()

	var payload bytes.Buffer
	h := sha1.New() //nolint:gosec

	blocks, size, uncompressed, err := deflateBlocks(
		&payload, bytes.NewReader([]byte("hello")), 2, CompressionLevelDefault, h, nil)
	if err != nil {
		t.Fatalf("deflateBlocks: %v", err)
	}

	if len(blocks) != 3 {
		t.Fatalf("blocks=%d, want 3 (2+2+1 bytes at block size 2)", len(blocks))
	}
	if uncompressed != 5 {
		t.Errorf("uncompressed=%d, want 5", uncompressed)
	}
	if size != uint64(payload.Len()) {
		t.Errorf("size=%d, payload=%d", size, payload.Len())
	}

	// Blocks are contiguous and payload-relative.
	if blocks[0].StartOffset != 0 {
		t.Errorf("block[0].StartOffset=%d, want 0", blocks[0].StartOffset)
	}
	for i := 1; i < len(blocks); i++ {
		if blocks[i].StartOffset != blocks[i-1].EndOffset {
			t.Errorf("block[%d] not contiguous: %+v after %+v", i, blocks[i], blocks[i-1])
		}
	}
	if blocks[len(blocks)-1].EndOffset != size {
		t.Errorf("last block ends at %d, want %d", blocks[len(blocks)-1].EndOffset, size)
	}

	var sum [shaSize]byte
	copy(sum[:], h.Sum(nil))
	if sum != sha1.Sum(payload.Bytes()) { //nolint:gosec
		t.Error("digest does not cover the compressed bytes")
	}

	rec := Record{
		Filename:          "hello.txt",
		Size:              size,
		UncompressedSize:  uncompressed,
		CompressionMethod: CompressionZlib,
		CompressionBlocks: blocks,
	}
	var out bytes.Buffer
	n, err := inflateRecord(&out, bytes.NewReader(payload.Bytes()), &rec, nil)
	if err != nil {
		t.Fatalf("inflateRecord: %v", err)
	}
	if n != 5 || out.String() != "hello" {
		t.Errorf("inflated (%d, %q), want (5, hello)", n, out.String())
	}
}

func TestInflateRecord_SingleStream(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("pak data "), 100)

	var payload bytes.Buffer
	zw := zlib.NewWriter(&payload)
	if _, err := zw.Write(src); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	// No block table, the way versions 1 and 2 store compressed payloads.
	rec := Record{
		Filename:          "data.bin",
		Size:              uint64(payload.Len()),
		UncompressedSize:  uint64(len(src)),
		CompressionMethod: CompressionZlib,
	}

	var out bytes.Buffer
	n, err := inflateRecord(&out, bytes.NewReader(payload.Bytes()), &rec, nil)
	if err != nil {
		t.Fatalf("inflateRecord: %v", err)
	}
	if n != int64(len(src)) || !bytes.Equal(out.Bytes(), src) {
		t.Errorf("inflated %d bytes, want %d", n, len(src))
	}
}

func TestInflateRecord_CorruptPayload(t *testing.T) {
	t.Parallel()

	var payload bytes.Buffer
	zw := zlib.NewWriter(&payload)
	_, _ = zw.Write(bytes.Repeat([]byte("x"), 1000))
	_ = zw.Close()

	raw := payload.Bytes()
	raw[len(raw)/2] ^= 0xFF

	rec := Record{
		Filename:          "bad.bin",
		Size:              uint64(len(raw)),
		UncompressedSize:  1000,
		CompressionMethod: CompressionZlib,
	}

	var out bytes.Buffer
	if _, err := inflateRecord(&out, bytes.NewReader(raw), &rec, nil); !errors.Is(err, ErrCorruptData) {
		t.Fatalf("expected ErrCorruptData, got %v", err)
	}
}

func TestInflateRecord_SizeMismatch(t *testing.T) {
	t.Parallel()

	var payload bytes.Buffer
	zw := zlib.NewWriter(&payload)
	_, _ = zw.Write([]byte("hello"))
	_ = zw.Close()

	rec := Record{
		Filename:          "short.bin",
		Size:              uint64(payload.Len()),
		UncompressedSize:  6, // one more than the stream holds
		CompressionMethod: CompressionZlib,
	}

	var out bytes.Buffer
	if _, err := inflateRecord(&out, bytes.NewReader(payload.Bytes()), &rec, nil); !errors.Is(err, ErrCorruptData) {
		t.Fatalf("expected ErrCorruptData, got %v", err)
	}
}

func TestDeflateStream_RoundTrip(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("single stream "), 500)

	var payload bytes.Buffer
	h := sha1.New() //nolint:gosec
	size, uncompressed, err := deflateStream(&payload, bytes.NewReader(src), CompressionLevelBest, h, make([]byte, 512))
	if err != nil {
		t.Fatalf("deflateStream: %v", err)
	}
	if size != uint64(payload.Len()) || uncompressed != uint64(len(src)) {
		t.Errorf("sizes = (%d, %d), want (%d, %d)", size, uncompressed, payload.Len(), len(src))
	}

	var sum [shaSize]byte
	copy(sum[:], h.Sum(nil))
	if sum != sha1.Sum(payload.Bytes()) { //nolint:gosec
		t.Error("digest does not cover the compressed bytes")
	}

	rec := Record{
		Filename:          "data.bin",
		Size:              size,
		UncompressedSize:  uncompressed,
		CompressionMethod: CompressionZlib,
	}
	var out bytes.Buffer
	if _, err := inflateRecord(&out, bytes.NewReader(payload.Bytes()), &rec, nil); err != nil {
		t.Fatalf("inflateRecord: %v", err)
	}
	if !bytes.Equal(out.Bytes(), src) {
		t.Error("round trip mismatch")
	}
}

func TestCopyStoredRecord_Truncated(t *testing.T) {
	t.Parallel()

	rec := Record{Filename: "a.txt", Offset: 0, Size: 10, UncompressedSize: 10}
	var out bytes.Buffer
	_, err := copyStoredRecord(&out, bytes.NewReader([]byte("short")), &rec, nil)
	if !errors.Is(err, ErrCorruptData) {
		t.Fatalf("expected ErrCorruptData, got %v", err)
	}
}
