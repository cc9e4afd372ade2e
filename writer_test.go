package upak

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

// memInput builds an Input backed by an in-memory payload.
func memInput(path string, data []byte) Input {
	return Input{
		Path:    path,
		ModTime: time.Unix(1700000000, 0),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// packToReader packs inputs in memory and parses the result back.
func packToReader(t *testing.T, inputs []Input, opts PackOptions) (*Pak, *Reader) {
	t.Helper()

	var buf bytes.Buffer
	pak, err := Pack(context.Background(), &buf, inputs, opts)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	r, err := NewReaderFromReaderAt(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("parse packed archive: %v", err)
	}

	return pak, r
}

func TestPack_StoredAndCompressed(t *testing.T) {
	t.Parallel()

	zlibMethod := CompressionZlib
	compressed := memInput("data/text.txt", []byte("hello"))
	compressed.Compression = &zlibMethod
	compressed.CompressionBlockSize = 2

	inputs := []Input{
		memInput("raw.bin", []byte{1, 2, 3, 4}),
		compressed,
	}

	pak, r := packToReader(t, inputs, PackOptions{Version: Version3, MountPoint: "mnt/"})
	defer func() { _ = r.Close() }()

	if pak.Version != Version3 || r.MountPoint() != "mnt/" {
		t.Errorf("version/mount = %d/%q", pak.Version, r.MountPoint())
	}

	records := r.Records()
	if len(records) != 2 {
		t.Fatalf("len(records)=%d, want 2", len(records))
	}

	stored := records[0]
	if stored.Filename != "raw.bin" || stored.Size != 4 || stored.UncompressedSize != 4 {
		t.Errorf("stored record = %+v", stored)
	}
	if stored.IsCompressed() {
		t.Error("raw.bin unexpectedly compressed")
	}

	packed := records[1]
	if packed.Filename != "data/text.txt" || packed.UncompressedSize != 5 {
		t.Errorf("compressed record = %+v", packed)
	}
	if packed.CompressionMethod != CompressionZlib {
		t.Errorf("method = %v", packed.CompressionMethod)
	}
	if len(packed.CompressionBlocks) != 3 {
		t.Errorf("blocks=%d, want 3 (5 bytes at block size 2)", len(packed.CompressionBlocks))
	}
	if packed.CompressionBlockSize != 2 {
		t.Errorf("block size=%d, want 2", packed.CompressionBlockSize)
	}

	if count, err := r.Check(CheckOptions{}); err != nil || count != 0 {
		t.Errorf("Check = (%d, %v), want (0, nil)", count, err)
	}

	for _, want := range []struct {
		name string
		data []byte
	}{
		{"raw.bin", []byte{1, 2, 3, 4}},
		{"data/text.txt", []byte("hello")},
	} {
		got, err := r.ReadRecord(want.name)
		if err != nil {
			t.Fatalf("ReadRecord %s: %v", want.name, err)
		}
		if !bytes.Equal(got, want.data) {
			t.Errorf("%s = %q, want %q", want.name, got, want.data)
		}
	}
}

func TestPack_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		memInput("zeta.txt", []byte("z")),
		memInput("alpha.txt", []byte("a")),
		memInput("mid/file.txt", []byte("m")),
	}

	_, r := packToReader(t, inputs, PackOptions{})
	defer func() { _ = r.Close() }()

	records := r.Records()
	want := []string{"zeta.txt", "alpha.txt", "mid/file.txt"}
	for i, name := range want {
		if records[i].Filename != name {
			t.Errorf("records[%d]=%q, want %q", i, records[i].Filename, name)
		}
	}
}

func TestPack_Version2ZlibSingleStream(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte("repetitive data "), 1000)
	inputs := []Input{memInput("data.bin", src)}

	_, r := packToReader(t, inputs, PackOptions{
		Version:              Version2,
		Compression:          CompressionZlib,
		CompressionBlockSize: 1024,
	})
	defer func() { _ = r.Close() }()

	rec := r.Records()[0]
	if len(rec.CompressionBlocks) != 0 {
		t.Errorf("version 2 record has %d serialized blocks", len(rec.CompressionBlocks))
	}
	if rec.Size >= rec.UncompressedSize {
		t.Errorf("no compression gain: %d >= %d", rec.Size, rec.UncompressedSize)
	}

	got, err := r.ReadRecord("data.bin")
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Error("round trip mismatch")
	}

	if count, err := r.Check(CheckOptions{}); err != nil || count != 0 {
		t.Errorf("Check = (%d, %v), want (0, nil)", count, err)
	}
}

func TestPack_Version1Timestamps(t *testing.T) {
	t.Parallel()

	in := memInput("a.txt", []byte("hello"))
	_, r := packToReader(t, []Input{in}, PackOptions{Version: Version1})
	defer func() { _ = r.Close() }()

	rec := r.Records()[0]
	if !rec.HasTimestamp || rec.Timestamp != 1700000000 {
		t.Errorf("timestamp = (%v, %d), want (true, 1700000000)", rec.HasTimestamp, rec.Timestamp)
	}
}

func TestPack_Version1MissingTimestamp(t *testing.T) {
	t.Parallel()

	in := memInput("a.txt", []byte("hello"))
	in.ModTime = time.Time{}

	var buf bytes.Buffer
	_, err := Pack(context.Background(), &buf, []Input{in}, PackOptions{Version: Version1})
	if !errors.Is(err, ErrMissingTimestamp) {
		t.Fatalf("expected ErrMissingTimestamp, got %v", err)
	}
}

func TestPack_DuplicatePath(t *testing.T) {
	t.Parallel()

	inputs := []Input{
		memInput("dir/a.txt", []byte("x")),
		memInput(`dir\a.txt`, []byte("y")),
	}

	var buf bytes.Buffer
	_, err := Pack(context.Background(), &buf, inputs, PackOptions{})
	if !errors.Is(err, ErrDuplicateRecordPath) {
		t.Fatalf("expected ErrDuplicateRecordPath, got %v", err)
	}
}

func TestPack_EmptyInputs(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_, err := Pack(context.Background(), &buf, nil, PackOptions{})
	if !errors.Is(err, ErrEmptyInputs) {
		t.Fatalf("expected ErrEmptyInputs, got %v", err)
	}
}

func TestPack_RejectsBadOptions(t *testing.T) {
	t.Parallel()

	inputs := []Input{memInput("a.txt", []byte("x"))}

	var buf bytes.Buffer
	if _, err := Pack(context.Background(), &buf, inputs, PackOptions{Version: 9}); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("version 9: expected ErrUnsupportedVersion, got %v", err)
	}

	if _, err := Pack(context.Background(), &buf, inputs, PackOptions{Compression: CompressionGzip}); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("gzip: expected ErrUnsupportedCompression, got %v", err)
	}

	custom := CompressionCustom
	bad := memInput("b.txt", []byte("y"))
	bad.Compression = &custom
	if _, err := Pack(context.Background(), &buf, []Input{bad}, PackOptions{}); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("custom override: expected ErrUnsupportedCompression, got %v", err)
	}
}

func TestPack_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := Pack(ctx, &buf, []Input{memInput("a.txt", []byte("x"))}, PackOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPack_OnRecordDone(t *testing.T) {
	t.Parallel()

	var seen []string
	inputs := []Input{
		memInput("a.txt", []byte("x")),
		memInput("b.txt", []byte("y")),
	}

	var buf bytes.Buffer
	_, err := Pack(context.Background(), &buf, inputs, PackOptions{
		OnRecordDone: func(rec Record) { seen = append(seen, rec.Filename) },
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a.txt" || seen[1] != "b.txt" {
		t.Errorf("callbacks = %v", seen)
	}
}

func TestPackFile_RoundTrip(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/out.pak"
	inputs := []Input{
		memInput("a.txt", []byte("hello")),
		memInput("dir/b.bin", []byte("world!")),
	}

	written, err := PackFile(context.Background(), path, inputs, PackOptions{MountPoint: "../../../"})
	if err != nil {
		t.Fatalf("PackFile: %v", err)
	}

	parsed, err := ParseFile(path, Options{})
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}

	if parsed.MountPoint != written.MountPoint || parsed.Version != written.Version {
		t.Errorf("parsed header = %q/%d, written %q/%d",
			parsed.MountPoint, parsed.Version, written.MountPoint, written.Version)
	}
	if len(parsed.Records) != len(written.Records) {
		t.Fatalf("record count %d != %d", len(parsed.Records), len(written.Records))
	}
	for i := range parsed.Records {
		if parsed.Records[i].Filename != written.Records[i].Filename ||
			parsed.Records[i].SHA1 != written.Records[i].SHA1 {
			t.Errorf("record %d mismatch: %+v vs %+v", i, parsed.Records[i], written.Records[i])
		}
	}
	if parsed.IndexSHA1 != written.IndexSHA1 {
		t.Error("index digest mismatch")
	}
}
