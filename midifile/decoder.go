// Package midifile decodes Standard MIDI Files (SMF) into the canonical
// score model. It parses the chunk layer itself rather than replaying a
// library event stream: the decoder owns variable-length quantities,
// running status, and note-on/note-off pairing into durations.
package midifile

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"scoreplay/model"
)

var (
	// ErrMalformed means a bad chunk signature, a declared size inconsistent
	// with the buffer, or a truncated event. Fatal to the import.
	ErrMalformed = errors.New("malformed midi file")
	// ErrUnsupportedFormat means the file is recognized but uses a variant
	// this decoder does not handle (SMPTE time division).
	ErrUnsupportedFormat = errors.New("unsupported midi format")
)

const (
	headerLen = 14

	metaTrackName  = 0x03
	metaEndOfTrack = 0x2F
	metaTempo      = 0x51
)

type Decoder struct {
	warnings []string
}

// Warnings lists notes that were dropped without failing the import.
func (d *Decoder) Warnings() []string {
	return d.warnings
}

func (d *Decoder) warnf(format string, args ...interface{}) {
	d.warnings = append(d.warnings, fmt.Sprintf(format, args...))
}

// pendingNote is a note-on waiting for its note-off.
type pendingNote struct {
	startTick int64
	velocity  uint8
}

// trackState accumulates decoded notes per channel across all tracks.
// Each observed channel becomes one part, in first-seen order.
type trackState struct {
	parts    map[uint8]*model.Part
	order    []uint8
	pending  map[[2]uint8][]pendingNote
	tpq      float64
	tempoSet bool
}

func (ts *trackState) part(ch uint8) *model.Part {
	if p, ok := ts.parts[ch]; ok {
		return p
	}
	p, _ := model.NewPart(fmt.Sprintf("Channel %d", ch+1), int(ch), 0)
	ts.parts[ch] = p
	ts.order = append(ts.order, ch)
	return p
}

// Decode parses SMF bytes (format 0, 1 or 2) and returns the score.
func (d *Decoder) Decode(b []byte) (*model.Score, error) {
	if len(b) < headerLen {
		return nil, errors.Wrapf(ErrMalformed, "%d bytes is shorter than a header chunk", len(b))
	}
	if string(b[0:4]) != "MThd" {
		return nil, errors.Wrap(ErrMalformed, "missing MThd signature")
	}
	if size := binary.BigEndian.Uint32(b[4:]); size != 6 {
		return nil, errors.Wrapf(ErrMalformed, "header chunk declares %d bytes, want 6", size)
	}
	format := binary.BigEndian.Uint16(b[8:])
	if format > 2 {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "format %d", format)
	}
	trackCount := int(binary.BigEndian.Uint16(b[10:]))
	division := binary.BigEndian.Uint16(b[12:])
	if division&0x8000 != 0 {
		return nil, errors.Wrap(ErrUnsupportedFormat, "SMPTE time division")
	}
	if division == 0 {
		return nil, errors.Wrap(ErrMalformed, "zero ticks per quarter note")
	}

	score := model.NewScore()
	ts := &trackState{
		parts:   make(map[uint8]*model.Part),
		pending: make(map[[2]uint8][]pendingNote),
		tpq:     float64(division),
	}

	pos := headerLen
	for i := 0; i < trackCount; i++ {
		if pos+8 > len(b) {
			return nil, errors.Wrapf(ErrMalformed, "track %d header truncated at offset %d", i, pos)
		}
		if string(b[pos:pos+4]) != "MTrk" {
			return nil, errors.Wrapf(ErrMalformed, "bad track signature at offset %d", pos)
		}
		length := int(binary.BigEndian.Uint32(b[pos+4:]))
		if pos+8+length > len(b) {
			return nil, errors.Wrapf(ErrMalformed, "track %d declares %d bytes past end of buffer", i, length)
		}
		if err := d.decodeTrack(b[pos+8:pos+8+length], pos+8, score, ts); err != nil {
			return nil, err
		}
		pos += 8 + length
	}

	for _, ch := range ts.order {
		score.AddPart(ts.parts[ch])
	}
	return score, nil
}

// decodeTrack walks one MTrk payload. base is the track's offset within the
// file, used only for error context.
func (d *Decoder) decodeTrack(tr []byte, base int, score *model.Score, ts *trackState) error {
	var (
		pos      int
		absTicks int64
		status   byte
	)

	flush := func(endTick int64) {
		// Note-ons never closed by the track get the track's final tick.
		for key, stack := range ts.pending {
			for _, pn := range stack {
				d.closeNote(ts, key[0], key[1], pn, endTick)
			}
			delete(ts.pending, key)
		}
	}

	for pos < len(tr) {
		delta, n, err := readVLQ(tr[pos:])
		if err != nil {
			return errors.Wrapf(ErrMalformed, "delta time at offset %d: %v", base+pos, err)
		}
		pos += n
		absTicks += int64(delta)

		if pos >= len(tr) {
			return errors.Wrapf(ErrMalformed, "event truncated at offset %d", base+pos)
		}

		// Running status: when the high bit is unset the previous status
		// byte is reused and this byte is already data.
		if tr[pos]&0x80 != 0 {
			status = tr[pos]
			pos++
		} else if status == 0 {
			return errors.Wrapf(ErrMalformed, "data byte 0x%02X with no running status at offset %d", tr[pos], base+pos)
		}

		switch {
		case status == 0xFF:
			if pos >= len(tr) {
				return errors.Wrapf(ErrMalformed, "meta event truncated at offset %d", base+pos)
			}
			metaType := tr[pos]
			pos++
			length, n, err := readVLQ(tr[pos:])
			if err != nil {
				return errors.Wrapf(ErrMalformed, "meta length at offset %d: %v", base+pos, err)
			}
			pos += n
			if pos+int(length) > len(tr) {
				return errors.Wrapf(ErrMalformed, "meta event data truncated at offset %d", base+pos)
			}
			data := tr[pos : pos+int(length)]
			pos += int(length)
			switch metaType {
			case metaTempo:
				if len(data) == 3 {
					us := int(data[0])<<16 | int(data[1])<<8 | int(data[2])
					if us > 0 && !ts.tempoSet {
						score.Tempo = 60_000_000.0 / float64(us)
						ts.tempoSet = true
					}
				}
			case metaTrackName:
				if score.Title == "" {
					score.Title = string(data)
				}
			case metaEndOfTrack:
				flush(absTicks)
				return nil
			}
			// Meta events cancel running status.
			status = 0

		case status == 0xF0 || status == 0xF7:
			length, n, err := readVLQ(tr[pos:])
			if err != nil {
				return errors.Wrapf(ErrMalformed, "sysex length at offset %d: %v", base+pos, err)
			}
			pos += n + int(length)
			if pos > len(tr) {
				return errors.Wrapf(ErrMalformed, "sysex data truncated at offset %d", base+pos)
			}
			status = 0

		case status >= 0x80 && status < 0xF0:
			ch := status & 0x0F
			dataLen := channelDataLen(status)
			if pos+dataLen > len(tr) {
				return errors.Wrapf(ErrMalformed, "channel event truncated at offset %d", base+pos)
			}
			data := tr[pos : pos+dataLen]
			pos += dataLen
			switch status & 0xF0 {
			case 0x90:
				if data[1] == 0 {
					d.noteOff(ts, ch, data[0], absTicks)
				} else {
					key := [2]uint8{ch, data[0]}
					ts.pending[key] = append(ts.pending[key], pendingNote{startTick: absTicks, velocity: data[1]})
				}
			case 0x80:
				d.noteOff(ts, ch, data[0], absTicks)
			case 0xC0:
				ts.part(ch).Program = data[0]
			}

		default:
			return errors.Wrapf(ErrMalformed, "unexpected status byte 0x%02X at offset %d", status, base+pos)
		}
	}

	flush(absTicks)
	return nil
}

// noteOff closes the oldest pending note-on for (ch, pitch). An unmatched
// note-off is ignored, not fatal.
func (d *Decoder) noteOff(ts *trackState, ch, pitch uint8, tick int64) {
	key := [2]uint8{ch, pitch}
	stack := ts.pending[key]
	if len(stack) == 0 {
		return
	}
	pn := stack[0]
	if len(stack) == 1 {
		delete(ts.pending, key)
	} else {
		ts.pending[key] = stack[1:]
	}
	d.closeNote(ts, ch, pitch, pn, tick)
}

func (d *Decoder) closeNote(ts *trackState, ch, pitch uint8, pn pendingNote, endTick int64) {
	start := float64(pn.startTick) / ts.tpq
	duration := float64(endTick-pn.startTick) / ts.tpq
	if duration <= 0 {
		d.warnf("dropping zero-length note %d on channel %d at tick %d", pitch, ch+1, pn.startTick)
		return
	}
	if err := ts.part(ch).AddNote(int(pitch), int(pn.velocity), start, duration); err != nil {
		d.warnf("dropping note on channel %d: %v", ch+1, err)
	}
}

// channelDataLen returns the data byte count for a channel status byte.
// Program change and channel pressure carry one byte; everything else two.
func channelDataLen(status byte) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 1
	}
	return 2
}

// readVLQ decodes a variable-length quantity, at most four bytes.
func readVLQ(b []byte) (value uint32, n int, err error) {
	for i := 0; i < 4; i++ {
		if i >= len(b) {
			return 0, 0, fmt.Errorf("truncated after %d bytes", i)
		}
		value = value<<7 | uint32(b[i]&0x7F)
		if b[i]&0x80 == 0 {
			return value, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("no terminator within 4 bytes")
}
