package upak

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestUnpack_WritesFiles(t *testing.T) {
	t.Parallel()

	raw := packToBytes(t, []Input{
		memInput("a.txt", []byte("hello")),
		memInput("dir/sub/b.bin", []byte("world!")),
	}, PackOptions{})

	r := parseBytes(t, raw)
	defer func() { _ = r.Close() }()

	dst := t.TempDir()
	done := 0
	err := r.Unpack(context.Background(), dst, UnpackOptions{
		MaxWorkers: 2,
		OnRecordDone: func(rec Record, written int64, outputPath string) {
			done++
			if written != int64(rec.UncompressedSize) {
				t.Errorf("%s: written=%d, want %d", rec.Filename, written, rec.UncompressedSize)
			}
		},
	})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if done != 2 {
		t.Errorf("callbacks=%d, want 2", done)
	}

	for _, want := range []struct {
		rel  string
		data []byte
	}{
		{"a.txt", []byte("hello")},
		{filepath.Join("dir", "sub", "b.bin"), []byte("world!")},
	} {
		got, err := os.ReadFile(filepath.Join(dst, want.rel))
		if err != nil {
			t.Fatalf("read %s: %v", want.rel, err)
		}
		if !bytes.Equal(got, want.data) {
			t.Errorf("%s = %q, want %q", want.rel, got, want.data)
		}
	}
}

func TestUnpack_DecompressesRecords(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("compressible "), 500)
	raw := packToBytes(t, []Input{memInput("big.bin", src)}, PackOptions{
		Compression:          CompressionZlib,
		CompressionBlockSize: 1024,
	})

	r := parseBytes(t, raw)
	defer func() { _ = r.Close() }()

	dst := t.TempDir()
	if err := r.Unpack(context.Background(), dst, UnpackOptions{}); err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "big.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, src) {
		t.Error("decompressed content mismatch")
	}
}

func TestUnpack_Filter(t *testing.T) {
	t.Parallel()

	raw := packToBytes(t, []Input{
		memInput("keep/a.txt", []byte("a")),
		memInput("skip/b.txt", []byte("b")),
	}, PackOptions{})

	r := parseBytes(t, raw)
	defer func() { _ = r.Close() }()

	dst := t.TempDir()
	err := r.Unpack(context.Background(), dst, UnpackOptions{Filter: FilterPaths("keep")})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dst, "keep", "a.txt")); err != nil {
		t.Errorf("keep/a.txt missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "skip", "b.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("skip/b.txt unexpectedly extracted: %v", err)
	}
}

func TestUnpack_DirnameFromCompression(t *testing.T) {
	t.Parallel()

	zlibMethod := CompressionZlib
	compressed := memInput("data/c.bin", bytes.Repeat([]byte("z"), 256))
	compressed.Compression = &zlibMethod

	raw := packToBytes(t, []Input{
		memInput("plain.txt", []byte("p")),
		compressed,
	}, PackOptions{})

	r := parseBytes(t, raw)
	defer func() { _ = r.Close() }()

	dst := t.TempDir()
	err := r.Unpack(context.Background(), dst, UnpackOptions{DirnameFromCompression: true})
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dst, "plain.txt")); err != nil {
		t.Errorf("plain.txt missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "zlib", "data", "c.bin")); err != nil {
		t.Errorf("zlib/data/c.bin missing: %v", err)
	}
}

func TestUnpack_PathTraversalRejected(t *testing.T) {
	t.Parallel()

	raw := buildManualPak(Version3, "", []testEntry{
		{name: "ok.txt", payload: []byte("fine")},
		{name: "../evil.txt", payload: []byte("escape")},
	})
	path := writeManualPak(t, raw)

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	dst := filepath.Join(t.TempDir(), "out")
	err = r.Unpack(context.Background(), dst, UnpackOptions{})
	if !errors.Is(err, ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}

	// Nothing may be written before the rejection, not even the safe record.
	if _, statErr := os.Stat(filepath.Join(dst, "ok.txt")); !errors.Is(statErr, os.ErrNotExist) {
		t.Errorf("ok.txt written despite traversal rejection: %v", statErr)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(dst), "evil.txt")); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("traversal payload escaped the destination root")
	}
}

func TestUnpack_CheckIntegrityBlocksCorruptArchive(t *testing.T) {
	t.Parallel()

	raw := packToBytes(t, []Input{memInput("a.txt", []byte("hello"))}, PackOptions{})
	raw[0] ^= 0xFF

	r := parseBytes(t, raw)
	defer func() { _ = r.Close() }()

	dst := t.TempDir()
	err := r.Unpack(context.Background(), dst, UnpackOptions{CheckIntegrity: true})
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	if _, statErr := os.Stat(filepath.Join(dst, "a.txt")); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("file written despite failed integrity check")
	}
}

func TestUnpack_Cancelled(t *testing.T) {
	t.Parallel()

	raw := packToBytes(t, []Input{memInput("a.txt", []byte("hello"))}, PackOptions{})

	r := parseBytes(t, raw)
	defer func() { _ = r.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Unpack(ctx, t.TempDir(), UnpackOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
