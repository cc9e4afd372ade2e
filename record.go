// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import "fmt"

// compressionBlockWireSize is the serialized size of one block (start + end u64).
const compressionBlockWireSize = 16

// readRecord decodes one index record, filename first, using the layout of
// the effective format version.
func readRecord(d *decoder, version uint32) (Record, error) {
	var rec Record

	filename, err := d.str()
	if err != nil {
		return rec, fmt.Errorf("read record filename: %w", err)
	}
	if len(filename) > maxNameLen {
		return rec, fmt.Errorf("record filename length %d exceeds %d", len(filename), maxNameLen)
	}

	rec.Filename = filename

	if rec.Offset, err = d.u64(); err != nil {
		return rec, fmt.Errorf("read record offset: %w", err)
	}
	if rec.Size, err = d.u64(); err != nil {
		return rec, fmt.Errorf("read record size: %w", err)
	}
	if rec.UncompressedSize, err = d.u64(); err != nil {
		return rec, fmt.Errorf("read record uncompressed size: %w", err)
	}

	method, err := d.u32()
	if err != nil {
		return rec, fmt.Errorf("read record compression method: %w", err)
	}
	rec.CompressionMethod = CompressionMethod(method)

	if version == Version1 {
		if rec.Timestamp, err = d.u64(); err != nil {
			return rec, fmt.Errorf("read record timestamp: %w", err)
		}

		rec.HasTimestamp = true
	}

	if rec.SHA1, err = d.sha1(); err != nil {
		return rec, fmt.Errorf("read record sha1: %w", err)
	}

	if version == Version3 && rec.CompressionMethod != CompressionNone {
		if err := readRecordBlocks(d, &rec); err != nil {
			return rec, err
		}
	}

	if err := validateRecordShape(&rec); err != nil {
		return rec, err
	}

	return rec, nil
}

// readRecordBlocks decodes the version 3 compressed-record tail:
// block table, encrypted flag, and nominal block size.
func readRecordBlocks(d *decoder, rec *Record) error {
	count, err := d.u32()
	if err != nil {
		return fmt.Errorf("read record block count: %w", err)
	}

	// Bound count by the remaining buffer before allocating.
	if int64(count)*compressionBlockWireSize > int64(d.remaining()) {
		return fmt.Errorf("%w: block count %d exceeds remaining index bytes", ErrTruncated, count)
	}

	blocks := make([]CompressionBlock, 0, count)
	for i := uint32(0); i < count; i++ {
		var block CompressionBlock
		if block.StartOffset, err = d.u64(); err != nil {
			return fmt.Errorf("read block %d start: %w", i, err)
		}
		if block.EndOffset, err = d.u64(); err != nil {
			return fmt.Errorf("read block %d end: %w", i, err)
		}

		blocks = append(blocks, block)
	}

	rec.CompressionBlocks = blocks

	encrypted, err := d.u8()
	if err != nil {
		return fmt.Errorf("read record encrypted flag: %w", err)
	}
	rec.Encrypted = encrypted != 0

	if rec.CompressionBlockSize, err = d.u32(); err != nil {
		return fmt.Errorf("read record block size: %w", err)
	}

	return nil
}

// writeRecord encodes one index record, filename first, using the layout of
// the target format version. Writing a record with version V and reading it
// back with version V reproduces every field.
func writeRecord(e *encoder, rec *Record, version uint32) error {
	if !rec.CompressionMethod.supported() {
		return fmt.Errorf("%w: %s (%d) for record %s",
			ErrUnsupportedCompression, rec.CompressionMethod, uint32(rec.CompressionMethod), rec.Filename)
	}

	if err := e.str(rec.Filename); err != nil {
		return fmt.Errorf("write record filename: %w", err)
	}

	e.u64(rec.Offset)
	e.u64(rec.Size)
	e.u64(rec.UncompressedSize)
	e.u32(uint32(rec.CompressionMethod))

	if version == Version1 {
		e.u64(rec.Timestamp)
	}

	e.sha1(rec.SHA1)

	if version == Version3 && rec.CompressionMethod != CompressionNone {
		e.u32(uint32(len(rec.CompressionBlocks)))
		for _, block := range rec.CompressionBlocks {
			e.u64(block.StartOffset)
			e.u64(block.EndOffset)
		}

		if rec.Encrypted {
			e.u8(1)
		} else {
			e.u8(0)
		}

		e.u32(rec.CompressionBlockSize)
	}

	return nil
}

// validateRecordShape checks structural invariants of a decoded record.
func validateRecordShape(rec *Record) error {
	if rec.CompressionMethod == CompressionNone && rec.Size != rec.UncompressedSize {
		return fmt.Errorf("uncompressed record %s: size %d != uncompressed size %d",
			rec.Filename, rec.Size, rec.UncompressedSize)
	}

	prevEnd := uint64(0)
	for i, block := range rec.CompressionBlocks {
		if block.EndOffset <= block.StartOffset {
			return fmt.Errorf("record %s: block %d has empty or inverted range [%d, %d)",
				rec.Filename, i, block.StartOffset, block.EndOffset)
		}
		if block.StartOffset < prevEnd {
			return fmt.Errorf("record %s: block %d overlaps previous block", rec.Filename, i)
		}
		if block.EndOffset > rec.Size {
			return fmt.Errorf("record %s: block %d ends past payload size %d", rec.Filename, i, rec.Size)
		}

		prevEnd = block.EndOffset
	}

	return nil
}
