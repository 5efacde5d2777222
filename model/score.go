package model

import (
	"errors"
	"fmt"
)

// DefaultTempo is assumed when a decoded file carries no tempo information.
const DefaultTempo = 120.0

// ErrOutOfRange reports a pitch, velocity, channel or program outside its
// legal MIDI range. Decoders drop the offending note or part and keep going.
var ErrOutOfRange = errors.New("value out of range")

// Note is a single sounding note. Start and Duration are in beats
// (quarter notes), not seconds; the player converts using the tempo.
// Channel duplicates the owning part's channel so the compiled timeline
// doesn't need to chase the part pointer.
type Note struct {
	Pitch    uint8   `json:"pitch"`
	Velocity uint8   `json:"velocity"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  uint8   `json:"channel"`
}

// NewNote validates and builds a note. Out-of-range values are rejected,
// never wrapped or clamped.
func NewNote(pitch, velocity int, start, duration float64, channel uint8) (Note, error) {
	if pitch < 0 || pitch > 127 {
		return Note{}, fmt.Errorf("pitch %d: %w", pitch, ErrOutOfRange)
	}
	if velocity < 0 || velocity > 127 {
		return Note{}, fmt.Errorf("velocity %d: %w", velocity, ErrOutOfRange)
	}
	if channel > 15 {
		return Note{}, fmt.Errorf("channel %d: %w", channel, ErrOutOfRange)
	}
	if start < 0 {
		return Note{}, fmt.Errorf("start %v: %w", start, ErrOutOfRange)
	}
	if duration <= 0 {
		return Note{}, fmt.Errorf("duration %v: %w", duration, ErrOutOfRange)
	}
	return Note{
		Pitch:    uint8(pitch),
		Velocity: uint8(velocity),
		Start:    start,
		Duration: duration,
		Channel:  channel,
	}, nil
}

// End returns the beat position where the note stops sounding.
func (n Note) End() float64 {
	return n.Start + n.Duration
}

// Part is one instrument line of a score.
type Part struct {
	Name       string  `json:"name"`
	Instrument string  `json:"instrument"`
	Channel    uint8   `json:"channel"`
	Program    uint8   `json:"program"`
	Transpose  int     `json:"transpose"`
	Volume     float64 `json:"volume"`
	Pan        float64 `json:"pan"`
	Mute       bool    `json:"mute"`
	Solo       bool    `json:"solo"`
	Notes      []Note  `json:"notes"`
}

// NewPart validates channel and program and builds an empty part with
// neutral volume and pan.
func NewPart(name string, channel, program int) (*Part, error) {
	if channel < 0 || channel > 15 {
		return nil, fmt.Errorf("channel %d: %w", channel, ErrOutOfRange)
	}
	if program < 0 || program > 127 {
		return nil, fmt.Errorf("program %d: %w", program, ErrOutOfRange)
	}
	return &Part{
		Name:    name,
		Channel: uint8(channel),
		Program: uint8(program),
		Volume:  1.0,
	}, nil
}

// AddNote validates and appends a note, caching the part's channel on it.
func (p *Part) AddNote(pitch, velocity int, start, duration float64) error {
	n, err := NewNote(pitch, velocity, start, duration, p.Channel)
	if err != nil {
		return err
	}
	p.Notes = append(p.Notes, n)
	return nil
}

// Score is the canonical in-memory representation shared by all decoders
// and the player. An empty parts list is a valid (silent) score.
type Score struct {
	Title     string  `json:"title"`
	Composer  string  `json:"composer"`
	Arranger  string  `json:"arranger,omitempty"`
	Copyright string  `json:"copyright,omitempty"`
	KeyFifths *int    `json:"keyFifths,omitempty"`
	TimeBeats *int    `json:"timeBeats,omitempty"`
	TimeUnit  *int    `json:"timeUnit,omitempty"`
	Tempo     float64 `json:"tempo"`
	Parts     []*Part `json:"parts"`
}

// NewScore builds an empty score at the default tempo.
func NewScore() *Score {
	return &Score{Tempo: DefaultTempo}
}

// AddPart appends a part built by NewPart.
func (s *Score) AddPart(p *Part) {
	s.Parts = append(s.Parts, p)
}

// TotalBeats is the beat position of the last note-off, or zero for an
// empty score.
func (s *Score) TotalBeats() float64 {
	var max float64
	for _, p := range s.Parts {
		for _, n := range p.Notes {
			if end := n.End(); end > max {
				max = end
			}
		}
	}
	return max
}

// TotalDuration is TotalBeats converted to seconds at the score's tempo.
func (s *Score) TotalDuration() float64 {
	tempo := s.Tempo
	if tempo <= 0 {
		tempo = DefaultTempo
	}
	return s.TotalBeats() * 60.0 / tempo
}

// NoteCount sums notes across all parts.
func (s *Score) NoteCount() int {
	var n int
	for _, p := range s.Parts {
		n += len(p.Notes)
	}
	return n
}
