// SPDX-License-Identifier: MIT
// Copyright (c) 2026 UE4Tools
// Source: github.com/ue4tools/upak

package upak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Encoding selects the text codec for the mount point and record filenames.
type Encoding int

// Supported text encodings.
const (
	// EncodingUTF8 passes bytes through and validates UTF-8 on read.
	EncodingUTF8 Encoding = iota
	// EncodingASCII requires every byte to be <= 127.
	EncodingASCII
	// EncodingLatin1 maps each byte to one ISO 8859-1 character.
	EncodingLatin1
)

// ParseEncoding resolves an encoding by its conventional name.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "utf-8", "utf8":
		return EncodingUTF8, nil
	case "ascii", "us-ascii":
		return EncodingASCII, nil
	case "latin1", "latin-1", "iso-8859-1":
		return EncodingLatin1, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

// String returns the conventional encoding name.
func (e Encoding) String() string {
	switch e {
	case EncodingASCII:
		return "ASCII"
	case EncodingLatin1:
		return "Latin1"
	default:
		return "UTF-8"
	}
}

// encodeText converts s to its on-disk byte form under encoding e.
func encodeText(s string, e Encoding) ([]byte, error) {
	switch e {
	case EncodingASCII:
		for i := 0; i < len(s); i++ {
			if s[i] > 127 {
				return nil, fmt.Errorf("%w: byte 0x%02x for ASCII codec in string %q", ErrIllegalEncoding, s[i], s)
			}
		}

		return []byte(s), nil
	case EncodingLatin1:
		for _, ch := range s {
			if ch > 0xff {
				return nil, fmt.Errorf("%w: char %q (0x%x) for Latin1 codec in string %q", ErrIllegalEncoding, ch, ch, s)
			}
		}

		out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
		if err != nil {
			return nil, fmt.Errorf("%w: encode Latin1 string %q: %w", ErrIllegalEncoding, s, err)
		}

		return out, nil
	default:
		return []byte(s), nil
	}
}

// decodeText converts on-disk bytes to a string under encoding e.
func decodeText(raw []byte, e Encoding) (string, error) {
	switch e {
	case EncodingASCII:
		for i := 0; i < len(raw); i++ {
			if raw[i] > 127 {
				return "", fmt.Errorf("%w: byte 0x%02x for ASCII codec", ErrIllegalEncoding, raw[i])
			}
		}

		return string(raw), nil
	case EncodingLatin1:
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("%w: decode Latin1: %w", ErrIllegalEncoding, err)
		}

		return string(out), nil
	default:
		if !utf8.Valid(raw) {
			return "", fmt.Errorf("%w: invalid UTF-8 sequence", ErrIllegalEncoding)
		}

		return string(raw), nil
	}
}

// decoder reads little-endian primitives from an in-memory buffer.
type decoder struct {
	buf []byte
	off int
	enc Encoding
}

// remaining returns the number of undecoded bytes.
func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

// need fails with ErrTruncated when fewer than n bytes remain.
func (d *decoder) need(n int) error {
	if d.remaining() < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, d.remaining())
	}

	return nil
}

// u8 decodes one byte.
func (d *decoder) u8() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}

	v := d.buf[d.off]
	d.off++
	return v, nil
}

// u32 decodes a little-endian uint32.
func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}

	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

// u64 decodes a little-endian uint64.
func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}

	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

// sha1 decodes a 20-byte digest.
func (d *decoder) sha1() ([shaSize]byte, error) {
	var sum [shaSize]byte
	if err := d.need(shaSize); err != nil {
		return sum, err
	}

	copy(sum[:], d.buf[d.off:])
	d.off += shaSize
	return sum, nil
}

// str decodes a length-prefixed string: u32 byte length followed by encoded
// bytes. A single trailing NUL is tolerated and stripped; UE serializes
// counted strings with one.
func (d *decoder) str() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}

	if err := d.need(int(n)); err != nil {
		return "", err
	}

	raw := d.buf[d.off : d.off+int(n)]
	d.off += int(n)

	if len(raw) > 0 && raw[len(raw)-1] == 0 {
		raw = raw[:len(raw)-1]
	}

	return decodeText(raw, d.enc)
}

// encoder builds little-endian primitive sequences in memory.
type encoder struct {
	buf bytes.Buffer
	enc Encoding
}

// u8 appends one byte.
func (e *encoder) u8(v byte) {
	e.buf.WriteByte(v)
}

// u32 appends a little-endian uint32.
func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

// u64 appends a little-endian uint64.
func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// sha1 appends a 20-byte digest.
func (e *encoder) sha1(sum [shaSize]byte) {
	e.buf.Write(sum[:])
}

// str appends a length-prefixed string in the active encoding. The length is
// the byte length of the encoded form, not the character count.
func (e *encoder) str(s string) error {
	raw, err := encodeText(s, e.enc)
	if err != nil {
		return err
	}

	e.u32(uint32(len(raw)))
	e.buf.Write(raw)
	return nil
}

// bytes returns the accumulated encoded bytes.
func (e *encoder) bytes() []byte {
	return e.buf.Bytes()
}
