package midifile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

func writeSMF(t *testing.T, mf *smf.SMF) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := mf.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecodeSingleTrack(t *testing.T) {
	var mf smf.SMF
	mf.TimeFormat = smf.MetricTicks(480)

	var tr smf.Track
	tr.Add(0, smf.MetaTrackSequenceName("Etude"))
	tr.Add(0, smf.MetaTempo(90))
	tr.Add(0, midi.ProgramChange(0, 40))
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(480, midi.NoteOff(0, 60))
	tr.Add(0, midi.NoteOn(0, 64, 80))
	tr.Add(240, midi.NoteOff(0, 64))
	tr.Close(0)
	mf.Tracks = append(mf.Tracks, tr)

	d := &Decoder{}
	score, err := d.Decode(writeSMF(t, &mf))
	if err != nil {
		t.Fatal(err)
	}

	assert := assert.New(t)
	assert.Equal("Etude", score.Title)
	assert.InDelta(90.0, score.Tempo, 0.01)
	assert.Len(score.Parts, 1)

	p := score.Parts[0]
	assert.Equal(uint8(0), p.Channel)
	assert.Equal(uint8(40), p.Program)
	if assert.Len(p.Notes, 2) {
		assert.Equal(uint8(60), p.Notes[0].Pitch)
		assert.Equal(uint8(100), p.Notes[0].Velocity)
		assert.Equal(0.0, p.Notes[0].Start)
		assert.Equal(1.0, p.Notes[0].Duration)
		assert.Equal(uint8(64), p.Notes[1].Pitch)
		assert.Equal(1.0, p.Notes[1].Start)
		assert.Equal(0.5, p.Notes[1].Duration)
	}
}

func TestChannelsBecomePartsInFirstSeenOrder(t *testing.T) {
	var mf smf.SMF
	mf.TimeFormat = smf.MetricTicks(96)

	var tr smf.Track
	tr.Add(0, midi.NoteOn(9, 36, 127))
	tr.Add(96, midi.NoteOff(9, 36))
	tr.Add(0, midi.NoteOn(2, 48, 64))
	tr.Add(96, midi.NoteOff(2, 48))
	tr.Close(0)
	mf.Tracks = append(mf.Tracks, tr)

	d := &Decoder{}
	score, err := d.Decode(writeSMF(t, &mf))
	if err != nil {
		t.Fatal(err)
	}

	assert := assert.New(t)
	assert.Len(score.Parts, 2)
	assert.Equal(uint8(9), score.Parts[0].Channel)
	assert.Equal("Channel 10", score.Parts[0].Name)
	assert.Equal(uint8(2), score.Parts[1].Channel)
	assert.Equal("Channel 3", score.Parts[1].Name)
}

func TestFirstTempoWins(t *testing.T) {
	var mf smf.SMF
	mf.TimeFormat = smf.MetricTicks(480)

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(120)) // 500000 microseconds per quarter
	tr.Add(480, smf.MetaTempo(60))
	tr.Add(0, midi.NoteOn(0, 60, 100))
	tr.Add(480, midi.NoteOff(0, 60))
	tr.Close(0)
	mf.Tracks = append(mf.Tracks, tr)

	d := &Decoder{}
	score, err := d.Decode(writeSMF(t, &mf))
	if err != nil {
		t.Fatal(err)
	}
	assert.InDelta(t, 120.0, score.Tempo, 0.01)
}

func TestFormatOneMergesTracks(t *testing.T) {
	var mf smf.SMF
	mf.TimeFormat = smf.MetricTicks(480)

	var tempoTrack smf.Track
	tempoTrack.Add(0, smf.MetaTempo(100))
	tempoTrack.Close(0)
	mf.Tracks = append(mf.Tracks, tempoTrack)

	var noteTrack smf.Track
	noteTrack.Add(0, midi.NoteOn(3, 67, 90))
	noteTrack.Add(480, midi.NoteOff(3, 67))
	noteTrack.Close(0)
	mf.Tracks = append(mf.Tracks, noteTrack)

	d := &Decoder{}
	score, err := d.Decode(writeSMF(t, &mf))
	if err != nil {
		t.Fatal(err)
	}

	assert := assert.New(t)
	assert.InDelta(100.0, score.Tempo, 0.01)
	assert.Len(score.Parts, 1)
	assert.Len(score.Parts[0].Notes, 1)
}

func TestTwoPartDuration(t *testing.T) {
	// Two channels playing four quarter notes each, in parallel. At
	// 120 BPM that is two seconds of music, not four: the parts overlap.
	var mf smf.SMF
	mf.TimeFormat = smf.MetricTicks(480)

	var tr smf.Track
	tr.Add(0, smf.MetaTempo(120))
	for i := uint8(0); i < 4; i++ {
		tr.Add(0, midi.NoteOn(0, 60+i, 100))
		tr.Add(0, midi.NoteOn(1, 48+i, 100))
		tr.Add(480, midi.NoteOff(0, 60+i))
		tr.Add(0, midi.NoteOff(1, 48+i))
	}
	tr.Close(0)
	mf.Tracks = append(mf.Tracks, tr)

	d := &Decoder{}
	score, err := d.Decode(writeSMF(t, &mf))
	if err != nil {
		t.Fatal(err)
	}

	assert := assert.New(t)
	assert.Len(score.Parts, 2)
	assert.Len(score.Parts[0].Notes, 4)
	assert.Len(score.Parts[1].Notes, 4)
	assert.InDelta(120.0, score.Tempo, 0.01)
	assert.Equal(4.0, score.TotalBeats())
	assert.Equal(2.0, score.TotalDuration())
}

func TestUnclosedNoteEndsAtFinalTick(t *testing.T) {
	var mf smf.SMF
	mf.TimeFormat = smf.MetricTicks(480)

	var tr smf.Track
	tr.Add(0, midi.NoteOn(0, 72, 100))
	tr.Close(960) // end of track two beats later, note never released
	mf.Tracks = append(mf.Tracks, tr)

	d := &Decoder{}
	score, err := d.Decode(writeSMF(t, &mf))
	if err != nil {
		t.Fatal(err)
	}

	notes := score.Parts[0].Notes
	if assert.Len(t, notes, 1) {
		assert.Equal(t, 2.0, notes[0].Duration)
	}
}

// rawFile assembles a file from hand-built track payloads, exercising byte
// layouts the library writer normalizes away (running status, note-on with
// velocity zero).
func rawFile(division uint16, tracks ...[]byte) []byte {
	b := []byte{
		'M', 'T', 'h', 'd', 0, 0, 0, 6,
		0, 1,
		byte(len(tracks) >> 8), byte(len(tracks)),
		byte(division >> 8), byte(division),
	}
	for _, tr := range tracks {
		b = append(b, 'M', 'T', 'r', 'k',
			byte(len(tr)>>24), byte(len(tr)>>16), byte(len(tr)>>8), byte(len(tr)))
		b = append(b, tr...)
	}
	return b
}

func TestRunningStatusAndVelocityZeroOff(t *testing.T) {
	// 0x90 3C 64: note-on C4. Then delta 480 (VLQ 83 60) and bare data
	// bytes 3C 00 reusing the running status: velocity zero, so note-off.
	track := []byte{
		0x00, 0x90, 0x3C, 0x64,
		0x83, 0x60, 0x3C, 0x00,
		0x00, 0xFF, 0x2F, 0x00,
	}
	d := &Decoder{}
	score, err := d.Decode(rawFile(480, track))
	if err != nil {
		t.Fatal(err)
	}

	notes := score.Parts[0].Notes
	if assert.Len(t, notes, 1) {
		assert.Equal(t, uint8(0x3C), notes[0].Pitch)
		assert.Equal(t, 1.0, notes[0].Duration)
	}
}

func TestMetaEventCancelsRunningStatus(t *testing.T) {
	// A data byte directly after a meta event has no status to reuse.
	track := []byte{
		0x00, 0x90, 0x3C, 0x64,
		0x00, 0xFF, 0x01, 0x02, 'h', 'i',
		0x00, 0x3C, 0x00,
	}
	d := &Decoder{}
	_, err := d.Decode(rawFile(480, track))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRejectsSMPTEDivision(t *testing.T) {
	b := rawFile(0, []byte{0x00, 0xFF, 0x2F, 0x00})
	// Force the SMPTE bit on the division field.
	b[12] = 0xE8
	b[13] = 0x50
	d := &Decoder{}
	_, err := d.Decode(b)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRejectsBadHeader(t *testing.T) {
	d := &Decoder{}

	_, err := d.Decode([]byte("MThd"))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = d.Decode([]byte("RIFF\x00\x00\x00\x06\x00\x00\x00\x01\x01\xe0"))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestRejectsTruncatedTrack(t *testing.T) {
	b := rawFile(480, []byte{0x00, 0x90, 0x3C, 0x64, 0x00, 0xFF, 0x2F, 0x00})
	d := &Decoder{}
	_, err := d.Decode(b[:len(b)-3])
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestZeroLengthNoteWarns(t *testing.T) {
	track := []byte{
		0x00, 0x90, 0x3C, 0x64,
		0x00, 0x80, 0x3C, 0x40,
		0x00, 0xFF, 0x2F, 0x00,
	}
	d := &Decoder{}
	score, err := d.Decode(rawFile(480, track))
	if err != nil {
		t.Fatal(err)
	}
	assert.Empty(t, score.Parts[0].Notes)
	assert.NotEmpty(t, d.Warnings())
}

func TestReadVLQ(t *testing.T) {
	cases := []struct {
		in    []byte
		value uint32
		n     int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x7F}, 127, 1},
		{[]byte{0x81, 0x00}, 128, 2},
		{[]byte{0x83, 0x60}, 480, 2},
		{[]byte{0xFF, 0xFF, 0xFF, 0x7F}, 0x0FFFFFFF, 4},
	}
	for _, c := range cases {
		value, n, err := readVLQ(c.in)
		if err != nil {
			t.Fatalf("readVLQ(% X): %v", c.in, err)
		}
		if value != c.value || n != c.n {
			t.Errorf("readVLQ(% X) = (%d, %d), want (%d, %d)", c.in, value, n, c.value, c.n)
		}
	}

	if _, _, err := readVLQ([]byte{0x81, 0x82, 0x83, 0x84, 0x05}); err == nil {
		t.Error("five-byte quantity not rejected")
	}
}
