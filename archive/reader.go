// Package archive reads ZIP-family containers: the compressed notation
// formats (.mscz, .mxl) are ordinary ZIP files with a well-known entry
// layout. Only stored and deflate entries are supported, which is all the
// notation tools emit.
package archive

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

var (
	// ErrCorrupt means a missing or invalid signature, a truncated record,
	// or a CRC/length mismatch. Fatal to the import.
	ErrCorrupt = errors.New("corrupt archive")
	// ErrUnsupportedCompression means the entry uses a method other than
	// stored or deflate.
	ErrUnsupportedCompression = errors.New("unsupported compression method")
	ErrEntryNotFound          = errors.New("entry not found in archive")
)

const (
	sigLocalHeader  = 0x04034b50
	sigCentralDir   = 0x02014b50
	sigEndCentral   = 0x06054b50
	endCentralSize  = 22
	centralDirSize  = 46
	localHeaderSize = 30
	maxCommentLen   = 65535

	MethodStored  = 0
	MethodDeflate = 8
)

// Entry describes one archive member, as recorded in the central directory.
// Offset points at the member's local file header.
type Entry struct {
	Name             string
	CompressedSize   uint32
	UncompressedSize uint32
	Method           uint16
	Offset           int64
	CRC32            uint32
}

// findEndCentral scans backward from EOF for the end-of-central-directory
// signature. The record has a variable-length trailing comment, so the
// signature can sit anywhere in the last 22+65535 bytes.
func findEndCentral(b []byte) (int, error) {
	if len(b) < endCentralSize {
		return 0, errors.Wrapf(ErrCorrupt, "%d bytes is shorter than an end-of-central-directory record", len(b))
	}
	lo := len(b) - endCentralSize - maxCommentLen
	if lo < 0 {
		lo = 0
	}
	for i := len(b) - endCentralSize; i >= lo; i-- {
		if binary.LittleEndian.Uint32(b[i:]) == sigEndCentral {
			return i, nil
		}
	}
	return 0, errors.Wrap(ErrCorrupt, "end-of-central-directory signature not found")
}

// ListEntries parses the central directory and returns every entry in
// directory order.
func ListEntries(b []byte) ([]Entry, error) {
	end, err := findEndCentral(b)
	if err != nil {
		return nil, err
	}
	count := int(binary.LittleEndian.Uint16(b[end+10:]))
	pos := int64(binary.LittleEndian.Uint32(b[end+16:]))

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		if pos+centralDirSize > int64(len(b)) {
			return nil, errors.Wrapf(ErrCorrupt, "central directory truncated at offset %d", pos)
		}
		rec := b[pos:]
		if binary.LittleEndian.Uint32(rec) != sigCentralDir {
			return nil, errors.Wrapf(ErrCorrupt, "bad central-directory signature at offset %d", pos)
		}
		nameLen := int64(binary.LittleEndian.Uint16(rec[28:]))
		extraLen := int64(binary.LittleEndian.Uint16(rec[30:]))
		commentLen := int64(binary.LittleEndian.Uint16(rec[32:]))
		if pos+centralDirSize+nameLen > int64(len(b)) {
			return nil, errors.Wrapf(ErrCorrupt, "entry name truncated at offset %d", pos)
		}
		entries = append(entries, Entry{
			Name:             string(rec[centralDirSize : centralDirSize+nameLen]),
			Method:           binary.LittleEndian.Uint16(rec[10:]),
			CRC32:            binary.LittleEndian.Uint32(rec[16:]),
			CompressedSize:   binary.LittleEndian.Uint32(rec[20:]),
			UncompressedSize: binary.LittleEndian.Uint32(rec[24:]),
			Offset:           int64(binary.LittleEndian.Uint32(rec[42:])),
		})
		pos += centralDirSize + nameLen + extraLen + commentLen
	}
	return entries, nil
}

// ExtractEntry returns the decompressed payload of the named entry,
// verified against the directory's declared length and CRC32. Nothing is
// written to disk; callers decide disk vs memory.
func ExtractEntry(b []byte, name string) ([]byte, error) {
	entries, err := ListEntries(b)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Name == name {
			return extract(b, e)
		}
	}
	return nil, errors.Wrapf(ErrEntryNotFound, "%q", name)
}

func extract(b []byte, e Entry) ([]byte, error) {
	if e.Offset+localHeaderSize > int64(len(b)) {
		return nil, errors.Wrapf(ErrCorrupt, "local header truncated at offset %d", e.Offset)
	}
	lh := b[e.Offset:]
	if binary.LittleEndian.Uint32(lh) != sigLocalHeader {
		return nil, errors.Wrapf(ErrCorrupt, "bad local-header signature at offset %d", e.Offset)
	}
	// Sizes and CRC come from the central directory: entries written in
	// streaming mode leave them zeroed in the local header.
	nameLen := int64(binary.LittleEndian.Uint16(lh[26:]))
	extraLen := int64(binary.LittleEndian.Uint16(lh[28:]))
	dataOff := e.Offset + localHeaderSize + nameLen + extraLen
	if dataOff+int64(e.CompressedSize) > int64(len(b)) {
		return nil, errors.Wrapf(ErrCorrupt, "entry %q data truncated at offset %d", e.Name, dataOff)
	}
	raw := b[dataOff : dataOff+int64(e.CompressedSize)]

	var out []byte
	switch e.Method {
	case MethodStored:
		out = append([]byte(nil), raw...)
	case MethodDeflate:
		r := flate.NewReader(bytes.NewReader(raw))
		var err error
		out, err = io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "inflating entry %q: %v", e.Name, err)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedCompression, "method %d in entry %q", e.Method, e.Name)
	}

	if uint32(len(out)) != e.UncompressedSize {
		return nil, errors.Wrapf(ErrCorrupt, "entry %q: got %d bytes, header declares %d", e.Name, len(out), e.UncompressedSize)
	}
	if sum := crc32.ChecksumIEEE(out); sum != e.CRC32 {
		return nil, errors.Wrapf(ErrCorrupt, "entry %q: crc32 %08x, header declares %08x", e.Name, sum, e.CRC32)
	}
	return out, nil
}
