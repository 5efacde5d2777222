// Package importer is the front door of the pipeline: it sniffs what kind
// of music file a byte buffer holds and runs the matching decoder chain,
// unwrapping archive containers down to their embedded notation document.
package importer

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"scoreplay/archive"
	"scoreplay/midifile"
	"scoreplay/model"
	"scoreplay/notation"
)

var (
	ErrUnknownFormat   = errors.New("unrecognized file format")
	ErrNoNotationEntry = errors.New("archive holds no notation document")
)

type Format int

const (
	FormatUnknown Format = iota
	FormatArchive
	FormatMIDI
	FormatNotation
)

func (f Format) String() string {
	switch f {
	case FormatArchive:
		return "archive"
	case FormatMIDI:
		return "midi"
	case FormatNotation:
		return "notation"
	}
	return "unknown"
}

// MetadataLookup fills missing header fields from an external source keyed
// by the file's base name. ok reports whether anything was found.
type MetadataLookup func(filename string) (title, composer string, ok bool)

// Sniff decides the decoder chain from content magic first, extension
// second.
func Sniff(name string, b []byte) Format {
	switch {
	case bytes.HasPrefix(b, []byte("PK\x03\x04")):
		return FormatArchive
	case bytes.HasPrefix(b, []byte("MThd")):
		return FormatMIDI
	}
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(b, []byte{0xEF, 0xBB, 0xBF}), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return FormatNotation
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mscz", ".mxl":
		return FormatArchive
	case ".mid", ".midi":
		return FormatMIDI
	case ".musicxml", ".xml":
		return FormatNotation
	}
	return FormatUnknown
}

// Decode turns file bytes into a score. The second return value carries
// the decoder's non-fatal warnings (dropped notes or parts).
func Decode(name string, b []byte) (*model.Score, []string, error) {
	switch Sniff(name, b) {
	case FormatArchive:
		doc, err := notationEntry(b)
		if err != nil {
			return nil, nil, err
		}
		dec := &notation.Decoder{}
		score, err := dec.Decode(doc)
		return score, dec.Warnings(), err
	case FormatMIDI:
		dec := &midifile.Decoder{}
		score, err := dec.Decode(b)
		return score, dec.Warnings(), err
	case FormatNotation:
		dec := &notation.Decoder{}
		score, err := dec.Decode(b)
		return score, dec.Warnings(), err
	}
	return nil, nil, errors.Wrapf(ErrUnknownFormat, "%q", name)
}

// Load reads and decodes a file from disk.
func Load(path string) (*model.Score, []string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %q", path)
	}
	return Decode(filepath.Base(path), b)
}

// LoadWithMetadata is Load plus a lookup that fills in a missing title and
// composer, e.g. from the metadata table.
func LoadWithMetadata(path string, lookup MetadataLookup) (*model.Score, []string, error) {
	score, warnings, err := Load(path)
	if err != nil || lookup == nil {
		return score, warnings, err
	}
	if score.Title == "" || score.Composer == "" {
		if title, composer, ok := lookup(filepath.Base(path)); ok {
			if score.Title == "" {
				score.Title = title
			}
			if score.Composer == "" {
				score.Composer = composer
			}
		}
	}
	return score, warnings, nil
}

// container mirrors the META-INF/container.xml shape used by mxl and mscz
// files to point at their root document.
type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

// notationEntry extracts the canonical notation document from an archive:
// the container.xml rootfile when present, otherwise the first XML-looking
// entry outside META-INF.
func notationEntry(b []byte) ([]byte, error) {
	entries, err := archive.ListEntries(b)
	if err != nil {
		return nil, err
	}

	if raw, err := archive.ExtractEntry(b, "META-INF/container.xml"); err == nil {
		var c container
		if xml.Unmarshal(raw, &c) == nil {
			for _, rf := range c.Rootfiles {
				if rf.FullPath != "" {
					return archive.ExtractEntry(b, rf.FullPath)
				}
			}
		}
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name, "META-INF/") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name)) {
		case ".musicxml", ".xml":
			return archive.ExtractEntry(b, e.Name)
		}
	}
	return nil, ErrNoNotationEntry
}
