// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"fmt"
	"io"
)

// nopCloser wraps a reader and provides a no-op close.
type nopCloser struct {
	io.Reader
}

// Close closes nopCloser (no-op).
func (nopCloser) Close() error {
	return nil
}

// findRecordByName resolves one record by normalized path.
func (r *Reader) findRecordByName(name string) *Record {
	lookupName := NormalizePath(name)
	for i := range r.pak.Records {
		if NormalizePath(r.pak.Records[i].Filename) == lookupName {
			return &r.pak.Records[i]
		}
	}

	return nil
}

// openRecordByInfo opens a payload stream for already resolved record metadata.
func (r *Reader) openRecordByInfo(rec *Record, name string) (io.ReadCloser, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
	}

	if rec.CompressionMethod == CompressionNone {
		return nopCloser{Reader: io.NewSectionReader(r.ra, int64(rec.Offset), int64(rec.Size))}, nil
	}
	if rec.CompressionMethod != CompressionZlib {
		return nil, fmt.Errorf("%w: %s (%d) for record %s",
			ErrUnsupportedCompression, rec.CompressionMethod, uint32(rec.CompressionMethod), name)
	}

	pr, pw := io.Pipe()
	go streamInflateRecord(pw, r.ra, *rec)

	return pr, nil
}

// OpenRecord opens the named record for reading.
// The returned stream yields decompressed content for zlib records.
func (r *Reader) OpenRecord(name string) (io.ReadCloser, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	return r.openRecordByInfo(r.findRecordByName(name), name)
}

// OpenRecordInfo opens a record stream by already resolved metadata.
func (r *Reader) OpenRecordInfo(rec Record) (io.ReadCloser, error) {
	if r == nil || r.ra == nil {
		return nil, ErrNilReader
	}
	if r.isClosed() {
		return nil, ErrClosed
	}

	name := rec.Filename
	if name == "" {
		name = "<unknown>"
	}

	return r.openRecordByInfo(&rec, name)
}

// ReadRecord reads the full decompressed content of the named record.
func (r *Reader) ReadRecord(name string) ([]byte, error) {
	rc, err := r.OpenRecord(name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	return io.ReadAll(rc)
}

// streamInflateRecord decodes one compressed record into the pipe writer.
func streamInflateRecord(dst *io.PipeWriter, ra io.ReaderAt, rec Record) {
	buf := make([]byte, defaultChunkSize)
	if _, err := inflateRecord(dst, ra, &rec, buf); err != nil {
		_ = dst.CloseWithError(err)
		return
	}

	_ = dst.Close()
}
