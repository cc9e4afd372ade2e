// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import "errors"

// Sentinel errors for pak operations. Use errors.Is in callers.
var (
	// ErrBadMagic means the footer magic does not match the pak constant.
	ErrBadMagic = errors.New("bad pak magic")
	// ErrUnsupportedVersion means the format version is outside {1, 2, 3}.
	ErrUnsupportedVersion = errors.New("unsupported pak version")
	// ErrCorruptIndex means the index region could not be decoded.
	ErrCorruptIndex = errors.New("corrupt pak index")
	// ErrCorruptData means a record payload is structurally broken.
	ErrCorruptData = errors.New("corrupt record data")
	// ErrChecksumMismatch means one or more SHA-1 digests did not verify.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnsupportedCompression means the compression method has no codec here.
	ErrUnsupportedCompression = errors.New("unsupported compression method")
	// ErrIllegalEncoding means text falls outside the selected codec's range.
	ErrIllegalEncoding = errors.New("illegal text for selected encoding")
	// ErrUnknownEncoding means the encoding name is not one of UTF-8, ASCII, Latin1.
	ErrUnknownEncoding = errors.New("unknown encoding")
	// ErrTruncated means fewer bytes remain than a decode step requires.
	ErrTruncated = errors.New("truncated input")
	// ErrPathTraversal means a record path would escape the destination root.
	ErrPathTraversal = errors.New("record path escapes destination root")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrClosed means the reader or resource is already closed.
	ErrClosed = errors.New("reader or resource already closed")
	// ErrEmptyInputs means no inputs provided for pack.
	ErrEmptyInputs = errors.New("no inputs provided for pack")
	// ErrRecordNotFound means the record is not found.
	ErrRecordNotFound = errors.New("record not found")
	// ErrMissingTimestamp means a version 1 input has no usable timestamp.
	ErrMissingTimestamp = errors.New("version 1 requires an input timestamp")
	// ErrInvalidRecordPath means an input path is empty or invalid after normalization.
	ErrInvalidRecordPath = errors.New("invalid record path")
	// ErrDuplicateRecordPath means two inputs resolve to the same archive path.
	ErrDuplicateRecordPath = errors.New("duplicate record path")
	// ErrInvalidFilterRules means one or more filter rules are invalid.
	ErrInvalidFilterRules = errors.New("invalid filter rules")
)
