// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"io"
	"time"
)

// Internal binary layout and format limits.
const (
	// Magic is the pak footer magic constant (stored little-endian).
	Magic uint32 = 0x5A6F12E1
	// footerSize is the fixed trailing footer length:
	// magic u32 + version u32 + index offset u64 + index size u64 + SHA1.
	footerSize = 4 + 4 + 8 + 8 + shaSize
	// shaSize is the SHA1 digest size used by record and index checksums.
	shaSize = 20
	// maxNameLen bounds one record filename during index parse.
	maxNameLen = 4096
)

// Supported format versions.
const (
	Version1 uint32 = 1
	Version2 uint32 = 2
	Version3 uint32 = 3
)

// Default packer tuning values.
const (
	// DefaultBlockSize is the nominal uncompressed compression block size.
	DefaultBlockSize uint32 = 64 * 1024
	// defaultChunkSize is the scratch buffer size for payload streaming.
	defaultChunkSize = 64 * 1024
)

// Zlib compression levels accepted by PackOptions.CompressionLevel.
const (
	CompressionLevelFast    = 1
	CompressionLevelDefault = 6
	CompressionLevelBest    = 9
)

// CompressionMethod is the 4-byte record compression code.
type CompressionMethod uint32

// Record compression method constants. Gzip and Custom are recognized as
// format-legal but have no codec in this implementation.
const (
	CompressionNone   CompressionMethod = 0x00
	CompressionZlib   CompressionMethod = 0x01
	CompressionGzip   CompressionMethod = 0x02
	CompressionCustom CompressionMethod = 0x04
)

// String returns the lower-case method name used in listings and unpack routing.
func (m CompressionMethod) String() string {
	switch m {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionGzip:
		return "gzip"
	case CompressionCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// supported reports whether this implementation can encode/decode payloads of m.
func (m CompressionMethod) supported() bool {
	return m == CompressionNone || m == CompressionZlib
}

// CompressionBlock is one independently deflated chunk of a record payload.
// Offsets are byte positions relative to the start of the record's payload
// in the data section.
type CompressionBlock struct {
	// StartOffset is the first byte of the compressed chunk.
	StartOffset uint64 `json:"start_offset" yaml:"start_offset"`
	// EndOffset is one past the last byte of the compressed chunk.
	EndOffset uint64 `json:"end_offset" yaml:"end_offset"`
}

// Record describes a single archive entry.
type Record struct {
	// Filename is the archive-relative path with forward-slash separators.
	Filename string `json:"filename" yaml:"filename"`
	// Offset is the absolute byte offset of the payload in the data section.
	Offset uint64 `json:"offset" yaml:"offset"`
	// Size is the on-disk (possibly compressed) payload length in bytes.
	Size uint64 `json:"size" yaml:"size"`
	// UncompressedSize is the logical file size after decompression.
	UncompressedSize uint64 `json:"uncompressed_size" yaml:"uncompressed_size"`
	// CompressionMethod selects the payload codec.
	CompressionMethod CompressionMethod `json:"compression_method" yaml:"compression_method"`
	// Timestamp is seconds since epoch; meaningful only when HasTimestamp is set.
	Timestamp uint64 `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`
	// HasTimestamp reports whether Timestamp was serialized (version 1 only).
	HasTimestamp bool `json:"has_timestamp,omitempty" yaml:"has_timestamp,omitempty"`
	// SHA1 is the digest of the payload bytes as stored on disk.
	SHA1 [shaSize]byte `json:"sha1" yaml:"sha1"`
	// CompressionBlocks are present only for compressed records (version 3 wire form).
	CompressionBlocks []CompressionBlock `json:"compression_blocks,omitempty" yaml:"compression_blocks,omitempty"`
	// Encrypted round-trips through serialization but no cipher is implemented.
	Encrypted bool `json:"encrypted,omitempty" yaml:"encrypted,omitempty"`
	// CompressionBlockSize is the nominal uncompressed size of each block.
	CompressionBlockSize uint32 `json:"compression_block_size,omitempty" yaml:"compression_block_size,omitempty"`
}

// IsCompressed reports whether this record is stored with a compression codec.
func (r *Record) IsCompressed() bool {
	return r.CompressionMethod != CompressionNone
}

// Pak is the parsed container: footer fields plus the decoded index.
// It is immutable after construction by a reader or builder.
type Pak struct {
	// MountPoint is the display-only root path stored in the index.
	MountPoint string `json:"mount_point,omitempty" yaml:"mount_point,omitempty"`
	// Records are kept in index order (insertion order, not name-sorted).
	Records []Record `json:"records" yaml:"records"`
	// Version is the effective format version used to decode the index.
	Version uint32 `json:"version" yaml:"version"`
	// IndexOffset is the byte offset of the index region.
	IndexOffset uint64 `json:"index_offset" yaml:"index_offset"`
	// IndexSize is the byte length of the index region.
	IndexSize uint64 `json:"index_size" yaml:"index_size"`
	// IndexSHA1 is the footer's digest of the raw index bytes.
	IndexSHA1 [shaSize]byte `json:"index_sha1" yaml:"index_sha1"`
}

// Input describes one source stream to be packed into a pak record.
type Input struct {
	// ModTime is the entry timestamp; required for version 1 packages.
	ModTime time.Time `json:"mod_time" yaml:"mod_time"`
	// Open returns raw source stream for this entry.
	Open func() (io.ReadCloser, error) `json:"-" yaml:"-"`
	// Path is the destination path inside the package.
	Path string `json:"path" yaml:"path"`
	// Compression overrides the build-wide method when non-nil.
	Compression *CompressionMethod `json:"compression,omitempty" yaml:"compression,omitempty"`
	// CompressionBlockSize overrides the build-wide block size when non-zero.
	CompressionBlockSize uint32 `json:"compression_block_size,omitempty" yaml:"compression_block_size,omitempty"`
}

// Options configures container open/parse behavior.
type Options struct {
	// Encoding decodes the mount point and every filename in the index.
	Encoding Encoding `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	// ForceVersion overrides the footer's version when non-zero.
	ForceVersion uint32 `json:"force_version,omitempty" yaml:"force_version,omitempty"`
	// IgnoreMagic skips footer magic validation.
	IgnoreMagic bool `json:"ignore_magic,omitempty" yaml:"ignore_magic,omitempty"`
}

// Mismatch is one reportable checksum verification failure.
type Mismatch struct {
	// Filename is the record path, or "<index>" for the whole-index digest.
	Filename string
	// Expected is the digest stored in the package.
	Expected [shaSize]byte
	// Computed is the digest of the bytes actually on disk.
	Computed [shaSize]byte
}

// CheckOptions configures integrity verification behavior.
type CheckOptions struct {
	// OnMismatch receives every verification failure.
	OnMismatch func(m Mismatch) `json:"-" yaml:"-"`
	// Filter restricts which records are verified; nil means all.
	Filter Filter `json:"-" yaml:"-"`
	// AbortOnError stops at the first mismatch and returns the partial count.
	AbortOnError bool `json:"abort_on_error,omitempty" yaml:"abort_on_error,omitempty"`
	// IgnoreNullChecksums skips records whose stored digest is all zeros.
	IgnoreNullChecksums bool `json:"ignore_null_checksums,omitempty" yaml:"ignore_null_checksums,omitempty"`
}

// PackOptions configures pack behavior.
type PackOptions struct {
	// OnRecordDone is called after one record payload is fully written.
	OnRecordDone func(rec Record) `json:"-" yaml:"-"`
	// MountPoint is stored in the index; may be empty.
	MountPoint string `json:"mount_point,omitempty" yaml:"mount_point,omitempty"`
	// Version selects the on-disk record layout; default 3.
	Version uint32 `json:"version,omitempty" yaml:"version,omitempty"`
	// Compression is the build-wide default method.
	Compression CompressionMethod `json:"compression,omitempty" yaml:"compression,omitempty"`
	// CompressionLevel is the zlib level 1..9; default 6.
	CompressionLevel int `json:"compression_level,omitempty" yaml:"compression_level,omitempty"`
	// CompressionBlockSize is the nominal uncompressed block size; default 64 KiB.
	CompressionBlockSize uint32 `json:"compression_block_size,omitempty" yaml:"compression_block_size,omitempty"`
	// Encoding encodes the mount point and every filename.
	Encoding Encoding `json:"encoding,omitempty" yaml:"encoding,omitempty"`
}

// UnpackOptions configures Unpack behavior.
type UnpackOptions struct {
	// OnRecordDone is called after one record is fully written to disk.
	OnRecordDone func(rec Record, written int64, outputPath string) `json:"-" yaml:"-"`
	// Filter restricts which records are extracted; nil means all.
	Filter Filter `json:"-" yaml:"-"`
	// MaxWorkers is the number of extraction workers (zero means GOMAXPROCS).
	MaxWorkers int `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	// DirnameFromCompression routes compressed records into a subdirectory
	// named after their compression method.
	DirnameFromCompression bool `json:"dirname_from_compression,omitempty" yaml:"dirname_from_compression,omitempty"`
	// CheckIntegrity verifies selected records before any file is written.
	CheckIntegrity bool `json:"check_integrity,omitempty" yaml:"check_integrity,omitempty"`
	// IgnoreNullChecksums is forwarded to the pre-unpack integrity check.
	IgnoreNullChecksums bool `json:"ignore_null_checksums,omitempty" yaml:"ignore_null_checksums,omitempty"`
}

// EditOptions configures file-based archive edit flow.
type EditOptions struct {
	// PackOptions are applied for added/replaced records during commit.
	PackOptions PackOptions `json:"pack_options,omitzero" yaml:"pack_options,omitzero"`
	// OpenOptions are applied when parsing the existing archive.
	OpenOptions Options `json:"open_options,omitzero" yaml:"open_options,omitzero"`
	// BackupKeep controls how many backup generations are kept after commit.
	// 0 means remove backup, 1 keeps only `<archive>.bak`, N keeps `.bak` + `.bak.1..N-1`.
	BackupKeep int `json:"backup_keep,omitempty" yaml:"backup_keep,omitempty"`
}

// applyDefaults fills zero-valued pack options with defaults.
func (opts *PackOptions) applyDefaults() {
	if opts.Version == 0 {
		opts.Version = Version3
	}

	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = CompressionLevelDefault
	}

	if opts.CompressionBlockSize == 0 {
		opts.CompressionBlockSize = DefaultBlockSize
	}
}

// applyDefaults fills zero-valued edit options with defaults. Pack options
// are left untouched so Commit can inherit version and mount point from the
// source archive before the write core applies its own defaults.
func (opts *EditOptions) applyDefaults() {
	if opts.BackupKeep < 0 {
		opts.BackupKeep = 0
	}
}
