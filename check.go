// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"crypto/sha1" //nolint:gosec // Pak index and record checksums require SHA1.
	"fmt"
	"io"
)

// Check verifies the whole-index digest and every selected record digest
// against the backing source. It returns the total mismatch count; zero
// means fully verified. I/O failures propagate as hard errors and are
// never silently counted as mismatches.
func (r *Reader) Check(opts CheckOptions) (int, error) {
	if r == nil || r.ra == nil {
		return 0, ErrNilReader
	}
	if r.isClosed() {
		return 0, ErrClosed
	}

	errorCount := 0

	if r.indexSHA1Computed != r.pak.IndexSHA1 {
		errorCount++
		reportMismatch(opts.OnMismatch, Mismatch{
			Filename: "<index>",
			Expected: r.pak.IndexSHA1,
			Computed: r.indexSHA1Computed,
		})

		if opts.AbortOnError {
			return errorCount, nil
		}
	}

	recordCount, err := CheckRecords(r.ra, r.pak.Records, opts)
	return errorCount + recordCount, err
}

// CheckRecords verifies record digests against an arbitrary random-access
// source. For each selected record it reads exactly the stored payload
// bytes (compressed form if compressed) and compares their SHA1 to the
// record's digest.
func CheckRecords(ra io.ReaderAt, records []Record, opts CheckOptions) (int, error) {
	if ra == nil {
		return 0, ErrNilReader
	}

	buf := make([]byte, defaultChunkSize)
	errorCount := 0

	for i := range records {
		rec := &records[i]
		if opts.Filter != nil && !opts.Filter(rec.Filename) {
			continue
		}

		if opts.IgnoreNullChecksums && rec.SHA1 == [shaSize]byte{} {
			continue
		}

		computed, err := hashRecordPayload(ra, rec, buf)
		if err != nil {
			return errorCount, err
		}

		if computed == rec.SHA1 {
			continue
		}

		errorCount++
		reportMismatch(opts.OnMismatch, Mismatch{
			Filename: rec.Filename,
			Expected: rec.SHA1,
			Computed: computed,
		})

		if opts.AbortOnError {
			return errorCount, nil
		}
	}

	return errorCount, nil
}

// hashRecordPayload computes SHA1 over a record's on-disk payload bytes.
func hashRecordPayload(ra io.ReaderAt, rec *Record, buf []byte) ([shaSize]byte, error) {
	var sum [shaSize]byte

	h := sha1.New() //nolint:gosec // format checksum
	sr := io.NewSectionReader(ra, int64(rec.Offset), int64(rec.Size))

	written, err := io.CopyBuffer(h, sr, buf)
	if err != nil {
		return sum, fmt.Errorf("read payload of %s: %w", rec.Filename, err)
	}
	if uint64(written) != rec.Size {
		return sum, fmt.Errorf("read payload of %s: %w: got %d of %d bytes",
			rec.Filename, ErrTruncated, written, rec.Size)
	}

	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// reportMismatch forwards one verification failure to the caller's reporter.
func reportMismatch(report func(Mismatch), m Mismatch) {
	if report != nil {
		report(m)
	}
}
