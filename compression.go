// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"bytes"
	"fmt"
	"hash"
	"io"

	"github.com/klauspost/compress/zlib"
)

// deflateBlocks splits src into consecutive chunks of blockSize uncompressed
// bytes (the final chunk may be shorter), deflates each chunk independently,
// and writes the compressed chunks back to back into dst. Block offsets are
// relative to the start of the record's payload. The digest h is fed the
// compressed bytes as written, so read-path hashing stays consistent.
//
// Returns the block table, the on-disk payload size (sum of compressed block
// lengths), and the uncompressed source length.
func deflateBlocks(
	dst io.Writer,
	src io.Reader,
	blockSize uint32,
	level int,
	h hash.Hash,
	buf []byte,
) ([]CompressionBlock, uint64, uint64, error) {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if uint32(len(buf)) < blockSize {
		// Scratch is sized to the default chunk; grow transiently for
		// larger block sizes.
		buf = make([]byte, blockSize)
	}

	var compressed bytes.Buffer
	zw, err := zlib.NewWriterLevel(&compressed, level)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create zlib writer (level %d): %w", level, err)
	}

	var (
		blocks       []CompressionBlock
		size         uint64
		uncompressed uint64
	)

	chunk := buf[:blockSize]
	for {
		n, readErr := io.ReadFull(src, chunk)
		if n > 0 {
			compressed.Reset()
			zw.Reset(&compressed)

			if _, err := zw.Write(chunk[:n]); err != nil {
				return nil, 0, 0, fmt.Errorf("deflate block %d: %w", len(blocks), err)
			}
			if err := zw.Close(); err != nil {
				return nil, 0, 0, fmt.Errorf("close deflate block %d: %w", len(blocks), err)
			}

			raw := compressed.Bytes()
			if _, err := dst.Write(raw); err != nil {
				return nil, 0, 0, fmt.Errorf("write block %d: %w", len(blocks), err)
			}
			if h != nil {
				_, _ = h.Write(raw)
			}

			blocks = append(blocks, CompressionBlock{
				StartOffset: size,
				EndOffset:   size + uint64(len(raw)),
			})
			size += uint64(len(raw))
			uncompressed += uint64(n)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			return blocks, size, uncompressed, nil
		}
		if readErr != nil {
			return nil, 0, 0, readErr
		}
	}
}

// deflateStream compresses src as one continuous zlib stream written to dst.
// Index versions 1 and 2 cannot serialize a block table, so their compressed
// payloads must stay a single stream. The digest h is fed the compressed
// bytes as written.
//
// Returns the on-disk payload size and the uncompressed source length.
func deflateStream(
	dst io.Writer,
	src io.Reader,
	level int,
	h hash.Hash,
	buf []byte,
) (uint64, uint64, error) {
	counter := &countingWriter{w: dst}

	out := io.Writer(counter)
	if h != nil {
		out = io.MultiWriter(counter, h)
	}

	zw, err := zlib.NewWriterLevel(out, level)
	if err != nil {
		return 0, 0, fmt.Errorf("create zlib writer (level %d): %w", level, err)
	}

	uncompressed, err := io.CopyBuffer(zw, src, buf)
	if err != nil {
		return 0, 0, fmt.Errorf("deflate stream: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, 0, fmt.Errorf("close deflate stream: %w", err)
	}

	return counter.n, uint64(uncompressed), nil
}

// countingWriter counts bytes passed through to the wrapped writer.
type countingWriter struct {
	w io.Writer
	n uint64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += uint64(n)
	return n, err
}

// inflateRecord reconstructs one compressed record payload into dst by
// reading each block's byte range, inflating it, and concatenating the
// results. Records without a serialized block table (versions 1 and 2)
// are treated as a single zlib stream covering the whole payload.
//
// The concatenated length must equal the record's uncompressed size exactly;
// a shortfall or excess is ErrCorruptData, never a silent truncate or pad.
func inflateRecord(dst io.Writer, ra io.ReaderAt, rec *Record, buf []byte) (int64, error) {
	if rec.Size == 0 {
		if rec.UncompressedSize != 0 {
			return 0, fmt.Errorf("%w: %s: empty payload, expected %d bytes",
				ErrCorruptData, rec.Filename, rec.UncompressedSize)
		}

		return 0, nil
	}

	blocks := rec.CompressionBlocks
	if len(blocks) == 0 {
		blocks = []CompressionBlock{{StartOffset: 0, EndOffset: rec.Size}}
	}

	if len(buf) == 0 {
		buf = make([]byte, defaultChunkSize)
	}

	var total int64
	for i, block := range blocks {
		if block.EndOffset > rec.Size || block.EndOffset <= block.StartOffset {
			return total, fmt.Errorf("%w: %s: block %d range [%d, %d) outside payload",
				ErrCorruptData, rec.Filename, i, block.StartOffset, block.EndOffset)
		}

		sr := io.NewSectionReader(ra,
			int64(rec.Offset+block.StartOffset),
			int64(block.EndOffset-block.StartOffset))

		zr, err := zlib.NewReader(sr)
		if err != nil {
			return total, fmt.Errorf("%w: %s: block %d: %w", ErrCorruptData, rec.Filename, i, err)
		}

		n, copyErr := io.CopyBuffer(dst, zr, buf)
		closeErr := zr.Close()
		total += n

		if copyErr != nil {
			return total, fmt.Errorf("%w: %s: inflate block %d: %w", ErrCorruptData, rec.Filename, i, copyErr)
		}
		if closeErr != nil {
			return total, fmt.Errorf("%w: %s: close block %d: %w", ErrCorruptData, rec.Filename, i, closeErr)
		}

		if uint64(total) > rec.UncompressedSize {
			return total, fmt.Errorf("%w: %s: inflated %d bytes, expected %d",
				ErrCorruptData, rec.Filename, total, rec.UncompressedSize)
		}
	}

	if uint64(total) != rec.UncompressedSize {
		return total, fmt.Errorf("%w: %s: inflated %d bytes, expected %d",
			ErrCorruptData, rec.Filename, total, rec.UncompressedSize)
	}

	return total, nil
}

// copyStoredRecord transfers an uncompressed record payload verbatim.
func copyStoredRecord(dst io.Writer, ra io.ReaderAt, rec *Record, buf []byte) (int64, error) {
	if len(buf) == 0 {
		buf = make([]byte, defaultChunkSize)
	}

	sr := io.NewSectionReader(ra, int64(rec.Offset), int64(rec.Size))
	written, err := io.CopyBuffer(dst, sr, buf)
	if err != nil {
		return written, fmt.Errorf("copy record %s: %w", rec.Filename, err)
	}
	if uint64(written) != rec.Size {
		return written, fmt.Errorf("%w: %s: copied %d bytes, expected %d",
			ErrCorruptData, rec.Filename, written, rec.Size)
	}

	return written, nil
}

// writeRecordPayload reconstructs one record payload into dst, decompressing
// as needed.
func writeRecordPayload(dst io.Writer, ra io.ReaderAt, rec *Record, buf []byte) (int64, error) {
	switch rec.CompressionMethod {
	case CompressionNone:
		return copyStoredRecord(dst, ra, rec, buf)
	case CompressionZlib:
		return inflateRecord(dst, ra, rec, buf)
	default:
		return 0, fmt.Errorf("%w: %s (%d) for record %s",
			ErrUnsupportedCompression, rec.CompressionMethod, uint32(rec.CompressionMethod), rec.Filename)
	}
}
