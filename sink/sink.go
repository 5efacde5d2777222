// Package sink provides command consumers for the player: a real MIDI
// output port and a plain function adapter for tests and embedding.
package sink

import (
	"math"
	"sync"

	"gitlab.com/gomidi/midi/v2"

	"scoreplay/model"
	"scoreplay/util"
)

// Func adapts a function to the player's Sink interface.
type Func func(model.Command)

func (f Func) Send(c model.Command) {
	f(c)
}

// MIDIOut forwards commands to a hardware or virtual MIDI output port.
// Master volume is applied here as velocity scaling: gain is the sink's
// concern, the scheduler's compiled velocities stay untouched.
type MIDIOut struct {
	mu     sync.Mutex
	send   func(midi.Message) error
	volume float64
}

// NewMIDIOut opens the numbered output port. A MIDI driver must be
// registered by the caller (e.g. a blank rtmididrv import).
func NewMIDIOut(portNum int) (*MIDIOut, error) {
	out, err := midi.OutPort(portNum)
	if err != nil {
		return nil, err
	}
	send, err := midi.SendTo(out)
	if err != nil {
		return nil, err
	}
	return &MIDIOut{send: send, volume: 1}, nil
}

func (m *MIDIOut) SetVolume(volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = util.Clamp(volume, 0, 1)
}

// Send is fire-and-forget: port errors are swallowed, a dropped command is
// preferable to stalling the dispatch tick.
func (m *MIDIOut) Send(c model.Command) {
	m.mu.Lock()
	volume := m.volume
	m.mu.Unlock()

	switch c.Kind {
	case model.NoteOn:
		vel := c.Velocity
		if volume < 1 {
			v := math.Round(float64(vel) * volume)
			if v < 1 && vel > 0 {
				v = 1
			}
			vel = uint8(v)
		}
		m.send(midi.NoteOn(c.Channel, c.Pitch, vel))
	case model.NoteOff:
		m.send(midi.NoteOff(c.Channel, c.Pitch))
	}
}

// AllNotesOff sends CC 123 on every channel, for callers that want
// guaranteed silence on shutdown.
func (m *MIDIOut) AllNotesOff() {
	for ch := 0; ch < 16; ch++ {
		m.send(midi.ControlChange(uint8(ch), 123, 0))
	}
}
