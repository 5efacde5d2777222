package player

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"scoreplay/model"
)

func scoreWithNotes(t *testing.T, notes ...[4]float64) *model.Score {
	t.Helper()
	s := model.NewScore()
	p, err := model.NewPart("Piano", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range notes {
		if err := p.AddNote(int(n[0]), int(n[1]), n[2], n[3]); err != nil {
			t.Fatal(err)
		}
	}
	s.AddPart(p)
	return s
}

func TestCompileOrdering(t *testing.T) {
	// Two notes: C at beat 0 for one beat, E at beat 1 for one beat. At
	// 120 BPM that is events at 0.0, 0.0 (on), 0.5 (off+on), 1.0 (off) --
	// and the off at 0.5 must come before the on at 0.5.
	s := scoreWithNotes(t,
		[4]float64{60, 100, 0, 1},
		[4]float64{64, 100, 1, 1},
	)

	tl := Compile(s, 120)
	if len(tl) != 4 {
		t.Fatalf("got %d events, want 4", len(tl))
	}

	assert := assert.New(t)
	assert.Equal(0.0, tl[0].Seconds)
	assert.Equal(model.NoteOn, tl[0].Cmd.Kind)
	assert.Equal(uint8(60), tl[0].Cmd.Pitch)

	assert.Equal(0.5, tl[1].Seconds)
	assert.Equal(model.NoteOff, tl[1].Cmd.Kind)
	assert.Equal(uint8(60), tl[1].Cmd.Pitch)

	assert.Equal(0.5, tl[2].Seconds)
	assert.Equal(model.NoteOn, tl[2].Cmd.Kind)
	assert.Equal(uint8(64), tl[2].Cmd.Pitch)

	assert.Equal(1.0, tl[3].Seconds)
	assert.Equal(model.NoteOff, tl[3].Cmd.Kind)
}

func TestCompileSimultaneousStarts(t *testing.T) {
	// Both notes start at beat 0, one lasting one beat and one lasting
	// two. At 120 BPM: two ons at 0.0, then offs at 0.5 and 1.0.
	s := scoreWithNotes(t,
		[4]float64{60, 100, 0, 1},
		[4]float64{64, 100, 0, 2},
	)

	tl := Compile(s, 120)
	if len(tl) != 4 {
		t.Fatalf("got %d events, want 4", len(tl))
	}

	assert := assert.New(t)
	assert.Equal(0.0, tl[0].Seconds)
	assert.Equal(model.NoteOn, tl[0].Cmd.Kind)
	assert.Equal(0.0, tl[1].Seconds)
	assert.Equal(model.NoteOn, tl[1].Cmd.Kind)
	assert.Equal(0.5, tl[2].Seconds)
	assert.Equal(model.NoteOff, tl[2].Cmd.Kind)
	assert.Equal(uint8(60), tl[2].Cmd.Pitch)
	assert.Equal(1.0, tl[3].Seconds)
	assert.Equal(model.NoteOff, tl[3].Cmd.Kind)
	assert.Equal(uint8(64), tl[3].Cmd.Pitch)
}

func TestCompileRestruckPitch(t *testing.T) {
	// The same pitch twice back to back: the off of the first and the on
	// of the second land at the same instant, off first.
	s := scoreWithNotes(t,
		[4]float64{60, 100, 0, 1},
		[4]float64{60, 100, 1, 1},
	)

	tl := Compile(s, 120)
	assert := assert.New(t)
	assert.Len(tl, 4)
	assert.Equal(model.NoteOff, tl[1].Cmd.Kind)
	assert.Equal(model.NoteOn, tl[2].Cmd.Kind)
	assert.Equal(tl[1].Seconds, tl[2].Seconds)
}

func TestCompileTempoScalesTimestamps(t *testing.T) {
	s := scoreWithNotes(t, [4]float64{60, 100, 0, 4})

	at120 := Compile(s, 120)
	at60 := Compile(s, 60)

	assert := assert.New(t)
	assert.Equal(2.0, at120[1].Seconds)
	assert.Equal(4.0, at60[1].Seconds)
}

func TestCompileMuteAndSolo(t *testing.T) {
	s := model.NewScore()
	a, _ := model.NewPart("A", 0, 0)
	a.AddNote(60, 100, 0, 1)
	b, _ := model.NewPart("B", 1, 0)
	b.AddNote(62, 100, 0, 1)
	c, _ := model.NewPart("C", 2, 0)
	c.AddNote(64, 100, 0, 1)
	s.AddPart(a)
	s.AddPart(b)
	s.AddPart(c)

	b.Mute = true
	tl := Compile(s, 120)
	assert.Len(t, tl, 4) // parts A and C only

	c.Solo = true
	tl = Compile(s, 120)
	if assert.Len(t, tl, 2) {
		assert.Equal(t, uint8(2), tl[0].Cmd.Channel)
	}
}

func TestCompileTranspose(t *testing.T) {
	s := model.NewScore()
	p, _ := model.NewPart("Bass", 0, 0)
	p.Transpose = -12
	p.AddNote(40, 100, 0, 1)
	p.AddNote(5, 100, 1, 1) // transposes below zero, dropped
	s.AddPart(p)

	tl := Compile(s, 120)
	if assert.Len(t, tl, 2) {
		assert.Equal(t, uint8(28), tl[0].Cmd.Pitch)
	}
}

func TestCompileVolumeScalesVelocity(t *testing.T) {
	s := model.NewScore()
	p, _ := model.NewPart("Soft", 0, 0)
	p.Volume = 0.5
	p.AddNote(60, 100, 0, 1)
	s.AddPart(p)

	tl := Compile(s, 120)
	assert.Equal(t, uint8(50), tl[0].Cmd.Velocity)
}

func TestScaleVelocityFloor(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint8(100), scaleVelocity(100, 1))
	assert.Equal(uint8(0), scaleVelocity(100, 0))
	// An audible note never scales down to silence.
	assert.Equal(uint8(1), scaleVelocity(1, 0.1))
}

func TestCompileEmptyInputs(t *testing.T) {
	assert.Nil(t, Compile(nil, 120))
	assert.Nil(t, Compile(model.NewScore(), 0))
	assert.Empty(t, Compile(model.NewScore(), 120))
}
