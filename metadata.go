// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

// ParseFile opens a pak, parses footer and index, and returns the container
// model without retaining a reader or file handle.
func ParseFile(path string, opts Options) (*Pak, error) {
	r, err := OpenWithOptions(path, opts)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	return r.Pak(), nil
}

// ListRecords opens a pak and returns record metadata without payload reads.
func ListRecords(path string, opts Options) ([]Record, error) {
	pak, err := ParseFile(path, opts)
	if err != nil {
		return nil, err
	}

	return pak.Records, nil
}

// Info summarizes one package for display purposes.
type Info struct {
	// MountPoint is the index mount-point string.
	MountPoint string `json:"mount_point,omitempty" yaml:"mount_point,omitempty"`
	// Version is the effective format version.
	Version uint32 `json:"version" yaml:"version"`
	// RecordCount is the number of index records.
	RecordCount int `json:"record_count" yaml:"record_count"`
	// Size is the total on-disk payload size over all records.
	Size uint64 `json:"size" yaml:"size"`
	// UncompressedSize is the total logical size over all records.
	UncompressedSize uint64 `json:"uncompressed_size" yaml:"uncompressed_size"`
	// CompressedRecords is the number of records stored compressed.
	CompressedRecords int `json:"compressed_records,omitempty" yaml:"compressed_records,omitempty"`
}

// Summary aggregates display information from a parsed container.
func (p *Pak) Summary() Info {
	info := Info{
		MountPoint:  p.MountPoint,
		Version:     p.Version,
		RecordCount: len(p.Records),
	}

	for i := range p.Records {
		info.Size += p.Records[i].Size
		info.UncompressedSize += p.Records[i].UncompressedSize
		if p.Records[i].IsCompressed() {
			info.CompressedRecords++
		}
	}

	return info
}
