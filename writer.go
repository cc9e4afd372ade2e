// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // Pak index and record checksums require SHA1.
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	// packWriteBufferSize is the buffered writer size used by Pack.
	packWriteBufferSize = 1 << 20
)

var (
	// packCopyBufferPool reuses payload scratch buffers between Pack calls.
	packCopyBufferPool = sync.Pool{
		New: func() any {
			return new([defaultChunkSize]byte)
		},
	}
)

// rewriteEntry describes one payload source for the archive write core:
// either a caller-supplied input stream or an already packed record whose
// stored bytes are copied verbatim from a source archive.
type rewriteEntry struct {
	input  *Input
	source *Record
	path   string
}

// Pack writes a pak to out from the given inputs. Records are written in
// input order; the index preserves that order.
func Pack(ctx context.Context, out io.Writer, inputs []Input, opts PackOptions) (*Pak, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInputs
	}

	plan, err := preparePackPlan(inputs)
	if err != nil {
		return nil, err
	}

	return rewriteArchive(ctx, out, nil, plan, opts)
}

// PackFile writes a pak to outPath.
func PackFile(ctx context.Context, outPath string, inputs []Input, opts PackOptions) (*Pak, error) {
	f, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create pak file: %w", err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	pak, err := Pack(ctx, f, inputs, opts)
	if err != nil {
		return nil, err
	}

	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync pak file: %w", err)
	}

	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close pak file: %w", err)
	}
	f = nil

	return pak, nil
}

// preparePackPlan normalizes input paths and validates uniqueness while
// preserving caller ordering.
func preparePackPlan(inputs []Input) ([]rewriteEntry, error) {
	normalized := make([]Input, len(inputs))
	copy(normalized, inputs)

	seen := make(map[string]struct{}, len(normalized))
	plan := make([]rewriteEntry, len(normalized))
	for i := range normalized {
		archivePath, err := normalizeArchivePath(normalized[i].Path)
		if err != nil {
			return nil, err
		}

		if _, exists := seen[archivePath]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRecordPath, archivePath)
		}
		seen[archivePath] = struct{}{}

		normalized[i].Path = archivePath
		plan[i] = rewriteEntry{
			path:  archivePath,
			input: &normalized[i],
		}
	}

	return plan, nil
}

// validatePackOptions rejects unsupported versions, methods and levels
// before any bytes are written.
func validatePackOptions(opts PackOptions, plan []rewriteEntry) error {
	if opts.Version < Version1 || opts.Version > Version3 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, opts.Version)
	}

	if !opts.Compression.supported() {
		return fmt.Errorf("%w: %s (%d)",
			ErrUnsupportedCompression, opts.Compression, uint32(opts.Compression))
	}

	if opts.CompressionLevel < CompressionLevelFast || opts.CompressionLevel > CompressionLevelBest {
		return fmt.Errorf("illegal compression level: %d", opts.CompressionLevel)
	}

	for _, item := range plan {
		if item.input == nil || item.input.Compression == nil {
			continue
		}

		if !item.input.Compression.supported() {
			return fmt.Errorf("%w: %s (%d) for input %s", ErrUnsupportedCompression,
				*item.input.Compression, uint32(*item.input.Compression), item.path)
		}
	}

	return nil
}

// rewriteArchive is the shared write core for Pack and editor commit flows.
// It streams every payload, then serializes the index for the target version
// and the fixed footer.
func rewriteArchive(
	ctx context.Context,
	out io.Writer,
	src io.ReaderAt,
	plan []rewriteEntry,
	opts PackOptions,
) (*Pak, error) {
	if out == nil {
		return nil, ErrNilWriter
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()
	if err := validatePackOptions(opts, plan); err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(out, packWriteBufferSize)

	bufArr := packCopyBufferPool.Get().(*[defaultChunkSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	defer packCopyBufferPool.Put(bufArr)
	buf := bufArr[:]

	records := make([]Record, 0, len(plan))
	var dataSize uint64

	for _, item := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var (
			rec Record
			err error
		)

		switch {
		case item.source != nil:
			if src == nil {
				return nil, ErrNilReader
			}

			rec, err = copySourceRecord(w, src, item, opts, dataSize, buf)
		case item.input != nil:
			rec, err = writeInputRecord(w, item, opts, dataSize, buf)
		default:
			err = fmt.Errorf("record %s: missing input or source", item.path)
		}
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
		dataSize += rec.Size

		if opts.OnRecordDone != nil {
			opts.OnRecordDone(rec)
		}
	}

	indexBytes, indexSHA1, err := encodeIndex(opts.MountPoint, records, opts.Version, opts.Encoding)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(indexBytes); err != nil {
		return nil, fmt.Errorf("write index: %w", err)
	}

	if err := writeFooter(w, opts.Version, dataSize, uint64(len(indexBytes)), indexSHA1); err != nil {
		return nil, err
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush pak: %w", err)
	}

	return &Pak{
		Version:     opts.Version,
		IndexOffset: dataSize,
		IndexSize:   uint64(len(indexBytes)),
		IndexSHA1:   indexSHA1,
		MountPoint:  opts.MountPoint,
		Records:     records,
	}, nil
}

// writeInputRecord streams one caller-supplied input and returns its record.
func writeInputRecord(
	dst io.Writer,
	item rewriteEntry,
	opts PackOptions,
	offset uint64,
	buf []byte,
) (Record, error) {
	in := item.input

	method := opts.Compression
	if in.Compression != nil {
		method = *in.Compression
	}

	blockSize := opts.CompressionBlockSize
	if in.CompressionBlockSize != 0 {
		blockSize = in.CompressionBlockSize
	}

	rec := Record{
		Filename:          item.path,
		Offset:            offset,
		CompressionMethod: method,
	}

	if opts.Version == Version1 {
		timestamp, err := inputTimestamp(*in)
		if err != nil {
			return rec, err
		}

		rec.Timestamp = timestamp
		rec.HasTimestamp = true
	}

	if in.Open == nil {
		return rec, fmt.Errorf("input %s: Open is nil", item.path)
	}

	rc, err := in.Open()
	if err != nil {
		return rec, fmt.Errorf("open input %s: %w", item.path, err)
	}

	writeErr := writeInputPayload(dst, rc, &rec, opts, blockSize, buf)
	closeErr := rc.Close()
	if writeErr != nil {
		return rec, writeErr
	}
	if closeErr != nil {
		return rec, fmt.Errorf("close input %s: %w", item.path, closeErr)
	}

	return rec, nil
}

// writeInputPayload writes one payload stream and fills the record's size,
// digest, and block fields.
func writeInputPayload(
	dst io.Writer,
	src io.Reader,
	rec *Record,
	opts PackOptions,
	blockSize uint32,
	buf []byte,
) error {
	h := sha1.New() //nolint:gosec // format checksum

	switch rec.CompressionMethod {
	case CompressionNone:
		streamed, err := io.CopyBuffer(io.MultiWriter(dst, h), src, buf)
		if err != nil {
			return fmt.Errorf("stream input %s: %w", rec.Filename, err)
		}

		rec.Size = uint64(streamed)
		rec.UncompressedSize = uint64(streamed)
	case CompressionZlib:
		// Versions 1 and 2 cannot serialize a block table, so their
		// compressed payloads stay one continuous zlib stream.
		if opts.Version != Version3 {
			size, uncompressed, err := deflateStream(dst, src, opts.CompressionLevel, h, buf)
			if err != nil {
				return fmt.Errorf("compress input %s: %w", rec.Filename, err)
			}

			rec.Size = size
			rec.UncompressedSize = uncompressed
			break
		}

		blocks, size, uncompressed, err := deflateBlocks(dst, src, blockSize, opts.CompressionLevel, h, buf)
		if err != nil {
			return fmt.Errorf("compress input %s: %w", rec.Filename, err)
		}

		rec.Size = size
		rec.UncompressedSize = uncompressed
		rec.CompressionBlocks = blocks
		rec.CompressionBlockSize = blockSize
	default:
		return fmt.Errorf("%w: %s (%d) for input %s",
			ErrUnsupportedCompression, rec.CompressionMethod, uint32(rec.CompressionMethod), rec.Filename)
	}

	copy(rec.SHA1[:], h.Sum(nil))
	return nil
}

// copySourceRecord copies one already packed record payload verbatim from the
// source archive. The stored digest and block table stay valid: block offsets
// are payload-relative and the bytes are not recoded.
func copySourceRecord(
	dst io.Writer,
	src io.ReaderAt,
	item rewriteEntry,
	opts PackOptions,
	offset uint64,
	buf []byte,
) (Record, error) {
	rec := *item.source
	rec.Filename = item.path

	if opts.Version != Version3 && len(rec.CompressionBlocks) > 1 {
		return rec, fmt.Errorf("record %s: %d compression blocks cannot be serialized in a version %d index",
			item.path, len(rec.CompressionBlocks), opts.Version)
	}
	if opts.Version == Version1 && !rec.HasTimestamp {
		return rec, fmt.Errorf("%w: record %s", ErrMissingTimestamp, item.path)
	}
	if opts.Version != Version1 {
		rec.Timestamp = 0
		rec.HasTimestamp = false
	}

	if _, err := copyStoredRecordBytes(dst, src, item.source, buf); err != nil {
		return rec, err
	}

	rec.Offset = offset
	return rec, nil
}

// copyStoredRecordBytes copies the stored payload region of rec from src.
func copyStoredRecordBytes(dst io.Writer, src io.ReaderAt, rec *Record, buf []byte) (int64, error) {
	sr := io.NewSectionReader(src, int64(rec.Offset), int64(rec.Size))
	written, err := io.CopyBuffer(dst, sr, buf)
	if err != nil {
		return written, fmt.Errorf("copy packed record %s: %w", rec.Filename, err)
	}
	if uint64(written) != rec.Size {
		return written, fmt.Errorf("copy packed record %s: %w: got %d of %d bytes",
			rec.Filename, ErrTruncated, written, rec.Size)
	}

	return written, nil
}

// encodeIndex serializes the mount point and all records for the target
// version and returns the raw index bytes with their SHA1.
func encodeIndex(mountPoint string, records []Record, version uint32, enc Encoding) ([]byte, [shaSize]byte, error) {
	e := &encoder{enc: enc}

	if err := e.str(mountPoint); err != nil {
		return nil, [shaSize]byte{}, fmt.Errorf("write mount point: %w", err)
	}

	for i := range records {
		if err := writeRecord(e, &records[i], version); err != nil {
			return nil, [shaSize]byte{}, fmt.Errorf("write index record %s: %w", records[i].Filename, err)
		}
	}

	raw := e.bytes()
	return raw, sha1.Sum(raw), nil //nolint:gosec // format checksum
}

// writeFooter serializes the fixed 44-byte trailing footer.
func writeFooter(w io.Writer, version uint32, indexOffset, indexSize uint64, indexSHA1 [shaSize]byte) error {
	e := &encoder{}
	e.u32(Magic)
	e.u32(version)
	e.u64(indexOffset)
	e.u64(indexSize)
	e.sha1(indexSHA1)

	if _, err := w.Write(e.bytes()); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}

	return nil
}

// inputTimestamp resolves the version 1 record timestamp from input metadata.
func inputTimestamp(in Input) (uint64, error) {
	if in.ModTime.IsZero() {
		return 0, fmt.Errorf("%w: input %s", ErrMissingTimestamp, in.Path)
	}

	unix := in.ModTime.Unix()
	if unix < 0 {
		return 0, fmt.Errorf("%w: input %s predates the epoch", ErrMissingTimestamp, in.Path)
	}

	return uint64(unix), nil
}

// FileInput builds an Input backed by a host file. The archive path defaults
// to the normalized host path when archivePath is empty.
func FileInput(hostPath, archivePath string) (Input, error) {
	if archivePath == "" {
		archivePath = hostPath
	}

	normalized, err := normalizeArchivePath(archivePath)
	if err != nil {
		return Input{}, err
	}

	fi, err := os.Stat(hostPath)
	if err != nil {
		return Input{}, fmt.Errorf("stat input %s: %w", hostPath, err)
	}

	return Input{
		Path:    normalized,
		ModTime: fi.ModTime(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(hostPath)
		},
	}, nil
}
