package player

import (
	"math"
	"sort"

	"scoreplay/model"
)

// TimedCommand is one compiled event: an absolute wall-time offset in
// seconds from the start of playback, and the command to emit there. The
// timeline is derived from Score plus the current tempo and rebuilt
// whenever either changes; it is never persisted.
type TimedCommand struct {
	Seconds float64
	Cmd     model.Command
}

// compileEntry carries the sort keys the final timeline doesn't need.
type compileEntry struct {
	seconds float64
	off     bool
	seq     int
	cmd     model.Command
}

// Compile flattens a score into a timeline sorted by timestamp, with two
// tie-breaks for commands at the same instant: note-offs before note-ons
// (so a re-struck pitch never double-sounds), then original encounter
// order. Muted parts are skipped; if any part is soloed, only soloed parts
// sound. Part transpose and volume are applied here: a note transposed out
// of the 0-127 range is dropped, and velocity scales with part volume.
func Compile(s *model.Score, bpm float64) []TimedCommand {
	if s == nil || bpm <= 0 {
		return nil
	}
	secPerBeat := 60.0 / bpm

	anySolo := false
	for _, p := range s.Parts {
		if p.Solo {
			anySolo = true
			break
		}
	}

	var entries []compileEntry
	seq := 0
	for _, p := range s.Parts {
		if p.Mute || (anySolo && !p.Solo) {
			continue
		}
		for _, n := range p.Notes {
			pitch := int(n.Pitch) + p.Transpose
			if pitch < 0 || pitch > 127 {
				continue
			}
			vel := scaleVelocity(n.Velocity, p.Volume)
			entries = append(entries,
				compileEntry{
					seconds: n.Start * secPerBeat,
					seq:     seq,
					cmd: model.Command{
						Kind:     model.NoteOn,
						Channel:  n.Channel,
						Pitch:    uint8(pitch),
						Velocity: vel,
					},
				},
				compileEntry{
					seconds: n.End() * secPerBeat,
					off:     true,
					seq:     seq,
					cmd: model.Command{
						Kind:    model.NoteOff,
						Channel: n.Channel,
						Pitch:   uint8(pitch),
					},
				})
			seq++
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.seconds != b.seconds {
			return a.seconds < b.seconds
		}
		if a.off != b.off {
			return a.off
		}
		return a.seq < b.seq
	})

	timeline := make([]TimedCommand, len(entries))
	for i, e := range entries {
		timeline[i] = TimedCommand{Seconds: e.seconds, Cmd: e.cmd}
	}
	return timeline
}

// scaleVelocity applies part volume without silencing an audible note:
// anything that started above zero stays at least 1.
func scaleVelocity(velocity uint8, volume float64) uint8 {
	if volume >= 1 {
		return velocity
	}
	if volume <= 0 {
		return 0
	}
	v := math.Round(float64(velocity) * volume)
	if v < 1 && velocity > 0 {
		v = 1
	}
	return uint8(v)
}
