// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"crypto/sha1" //nolint:gosec // Pak index and record checksums require SHA1.
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

// footer is the decoded fixed 44-byte trailing structure.
type footer struct {
	magic       uint32
	version     uint32
	indexOffset uint64
	indexSize   uint64
	indexSHA1   [shaSize]byte
}

// Reader provides read-only access to a parsed pak file.
type Reader struct {
	// ra is the underlying random-access reader used for payload reads.
	ra io.ReaderAt
	// file is set when Reader owns an *os.File opened via Open.
	file *os.File
	// pak stores the parsed immutable container model.
	pak *Pak
	// size is total source size in bytes.
	size int64
	// indexSHA1Computed is the digest of the raw index bytes captured at open.
	indexSHA1Computed [shaSize]byte
	// mu guards closed state and close operation.
	mu sync.Mutex
	// closed reports whether Close was already called.
	closed bool
}

// Open opens a pak file by path and parses footer and index structures.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, Options{})
}

// OpenWithOptions opens a pak file by path using explicit open options.
func OpenWithOptions(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pak %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	r, err := NewReaderFromReaderAtWithOptions(f, fi.Size(), opts)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	r.file = f
	return r, nil
}

// NewReaderFromReaderAt parses a pak from an existing ReaderAt and known size.
func NewReaderFromReaderAt(ra io.ReaderAt, size int64) (*Reader, error) {
	return NewReaderFromReaderAtWithOptions(ra, size, Options{})
}

// NewReaderFromReaderAtWithOptions parses a pak from an existing ReaderAt and
// known size using explicit open options.
func NewReaderFromReaderAtWithOptions(ra io.ReaderAt, size int64, opts Options) (*Reader, error) {
	if ra == nil {
		return nil, ErrNilReader
	}

	r := &Reader{ra: ra, size: size}
	if err := r.parse(ra, size, opts); err != nil {
		return nil, err
	}

	return r, nil
}

// Pak returns the parsed container model.
func (r *Reader) Pak() *Pak {
	if r == nil {
		return nil
	}

	return r.pak
}

// Records returns a copy of parsed records in index order.
func (r *Reader) Records() []Record {
	if r == nil || r.pak == nil {
		return nil
	}

	records := make([]Record, len(r.pak.Records))
	copy(records, r.pak.Records)
	return records
}

// MountPoint returns the index mount-point string.
func (r *Reader) MountPoint() string {
	if r == nil || r.pak == nil {
		return ""
	}

	return r.pak.MountPoint
}

// Version returns the effective format version used to decode the index.
func (r *Reader) Version() uint32 {
	if r == nil || r.pak == nil {
		return 0
	}

	return r.pak.Version
}

// Close closes the underlying file if the reader owns one.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}

	return nil
}

// isClosed reports whether Close was already called.
func (r *Reader) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// parse reads and validates pak structure from ReaderAt.
func (r *Reader) parse(ra io.ReaderAt, size int64, opts Options) error {
	ft, err := parseFooter(ra, size)
	if err != nil {
		return err
	}

	if !opts.IgnoreMagic && ft.magic != Magic {
		return fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrBadMagic, ft.magic, Magic)
	}

	version := ft.version
	if opts.ForceVersion != 0 {
		version = opts.ForceVersion
	}
	if version < Version1 || version > Version3 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}

	indexBuf, err := readIndexRegion(ra, size, ft)
	if err != nil {
		return err
	}

	pak, err := parseIndex(indexBuf, version, opts.Encoding)
	if err != nil {
		return err
	}

	pak.IndexOffset = ft.indexOffset
	pak.IndexSize = ft.indexSize
	pak.IndexSHA1 = ft.indexSHA1

	r.pak = pak
	r.indexSHA1Computed = sha1.Sum(indexBuf) //nolint:gosec // format checksum

	return nil
}

// parseFooter decodes the fixed trailing footer from the last 44 bytes.
func parseFooter(ra io.ReaderAt, size int64) (footer, error) {
	var ft footer

	if size < footerSize {
		return ft, fmt.Errorf("%w: file size %d is below footer size %d", ErrTruncated, size, footerSize)
	}

	var raw [footerSize]byte
	if _, err := ra.ReadAt(raw[:], size-footerSize); err != nil {
		return ft, fmt.Errorf("read footer: %w", err)
	}

	ft.magic = binary.LittleEndian.Uint32(raw[0:4])
	ft.version = binary.LittleEndian.Uint32(raw[4:8])
	ft.indexOffset = binary.LittleEndian.Uint64(raw[8:16])
	ft.indexSize = binary.LittleEndian.Uint64(raw[16:24])
	copy(ft.indexSHA1[:], raw[24:44])

	return ft, nil
}

// readIndexRegion validates index bounds against file size and reads the
// index bytes in full. The index is the only region loaded whole; it is
// bounded by the footer's index size.
func readIndexRegion(ra io.ReaderAt, size int64, ft footer) ([]byte, error) {
	dataEnd := uint64(size - footerSize)
	if ft.indexOffset > dataEnd || ft.indexSize > dataEnd-ft.indexOffset {
		return nil, fmt.Errorf("%w: index region [%d, %d) outside file",
			ErrCorruptIndex, ft.indexOffset, ft.indexOffset+ft.indexSize)
	}

	buf := make([]byte, ft.indexSize)
	if _, err := ra.ReadAt(buf, int64(ft.indexOffset)); err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}

	return buf, nil
}

// parseIndex decodes the mount point and records from the raw index bytes.
// Records are read sequentially until the buffer is exhausted; residual or
// insufficient bytes corrupt the whole index.
func parseIndex(buf []byte, version uint32, enc Encoding) (*Pak, error) {
	d := &decoder{buf: buf, enc: enc}

	mountPoint, err := d.str()
	if err != nil {
		return nil, fmt.Errorf("%w: read mount point: %w", ErrCorruptIndex, err)
	}

	records := make([]Record, 0, estimateRecordCapacity(d.remaining(), version))
	for d.remaining() > 0 {
		rec, err := readRecord(d, version)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrCorruptIndex, len(records), err)
		}

		records = append(records, rec)
	}

	return &Pak{
		Version:    version,
		MountPoint: mountPoint,
		Records:    records,
	}, nil
}

// estimateRecordCapacity returns an initial capacity for the record slice
// from the minimal wire size of one record.
func estimateRecordCapacity(remainingBytes int, version uint32) int {
	// filename length prefix + offset/size/uncompressed + method + sha1
	minRecord := 4 + 8*3 + 4 + shaSize
	if version == Version1 {
		minRecord += 8
	}

	estimated := remainingBytes / minRecord
	const maxCap = 8192
	if estimated > maxCap {
		return maxCap
	}

	return estimated
}
