// Package player compiles a score into a timed command stream and drives
// it against the wall clock, with play/pause/stop/seek/tempo/loop control.
// Synthesis is someone else's job: commands go to a Sink.
package player

import (
	"sort"
	"sync"
	"time"

	"scoreplay/model"
	"scoreplay/util"
)

// Sink consumes the emitted command stream. Send must not block; any
// buffering is the sink's own responsibility.
type Sink interface {
	Send(model.Command)
}

// VolumeSink is implemented by sinks that accept a master volume.
type VolumeSink interface {
	SetVolume(float64)
}

type State int

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	}
	return "Unknown"
}

const (
	MinTempo = 30.0
	MaxTempo = 300.0

	// Dispatch granularity. Independent of any audio buffer size; it only
	// bounds how late a command can fire.
	tickInterval = 2 * time.Millisecond
)

// Scheduler is the playback state machine. One mutex serializes every
// control call with the dispatch tick, so no two mutations of the cursor,
// anchor or timeline ever interleave. It borrows the loaded score for the
// session and exclusively owns the compiled timeline.
type Scheduler struct {
	mu sync.Mutex

	sink     Sink
	score    *model.Score
	timeline []TimedCommand
	cursor   int

	state        State
	tempo        float64
	loop         bool
	refStart     time.Time     // anchor while Playing
	pausedOffset time.Duration // elapsed offset while Paused/Stopped

	sounding map[[2]uint8]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewScheduler starts the dispatch goroutine. Callers must Close when done
// with the scheduler.
func NewScheduler(sink Sink) *Scheduler {
	s := &Scheduler{
		sink:     sink,
		tempo:    model.DefaultTempo,
		sounding: make(map[[2]uint8]struct{}),
		closed:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Close stops playback, flushes sounding notes and ends the dispatch
// goroutine.
func (s *Scheduler) Close() {
	s.Stop()
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Scheduler) run() {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-t.C:
			s.tick()
		}
	}
}

// tick advances the dispatch cursor past every command whose timestamp has
// elapsed, then handles end of timeline.
func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}

	elapsed := time.Since(s.refStart).Seconds()
	for s.cursor < len(s.timeline) && s.timeline[s.cursor].Seconds <= elapsed {
		s.emit(s.timeline[s.cursor].Cmd)
		s.cursor++
	}

	if s.cursor >= len(s.timeline) {
		s.flushSounding()
		s.cursor = 0
		s.pausedOffset = 0
		if s.loop {
			s.refStart = time.Now()
		} else {
			s.state = Stopped
		}
	}
}

// Load replaces the session's score: stops playback, recompiles the
// timeline at the current tempo and resets position to zero. Valid in any
// state; nil unloads.
func (s *Scheduler) Load(score *model.Score) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushSounding()
	s.score = score
	s.timeline = Compile(score, s.tempo)
	s.cursor = 0
	s.pausedOffset = 0
	s.state = Stopped
}

// Play starts a fresh run from zero when Stopped, or resumes from the
// paused offset by re-anchoring the reference instant. A no-op while
// already Playing or with no score loaded.
func (s *Scheduler) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.score == nil || s.state == Playing {
		return
	}
	if s.state == Paused {
		s.refStart = time.Now().Add(-s.pausedOffset)
	} else {
		s.cursor = 0
		s.pausedOffset = 0
		s.refStart = time.Now()
	}
	s.state = Playing
}

// Pause records the elapsed offset and suspends dispatch. It emits no
// note-offs: callers wanting silence during the pause issue Seek or Stop,
// which do flush.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return
	}
	s.pausedOffset = time.Since(s.refStart)
	s.state = Paused
}

// Stop flushes every sounding note and resets position to zero. A second
// Stop emits nothing: only notes still sounding are flushed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushSounding()
	s.cursor = 0
	s.pausedOffset = 0
	s.state = Stopped
}

// Seek moves the playhead to target seconds, clamped into
// [0, TotalDuration]. Sounding notes are flushed so nothing sticks; the
// cursor lands on the first command strictly past the target. Playing or
// Paused state is preserved.
func (s *Scheduler) Seek(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := util.Clamp(seconds, 0, s.totalDuration())
	s.flushSounding()
	s.cursor = sort.Search(len(s.timeline), func(i int) bool {
		return s.timeline[i].Seconds > target
	})
	offset := time.Duration(target * float64(time.Second))
	if s.state == Playing {
		s.refStart = time.Now().Add(-offset)
	} else {
		s.pausedOffset = offset
	}
}

// SetTempo clamps to [MinTempo, MaxTempo] and recompiles the timeline.
// The beat position is preserved: the elapsed wall-clock offset scales by
// the inverse tempo ratio, so the next command fires at the same beat.
func (s *Scheduler) SetTempo(bpm float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bpm = util.Clamp(bpm, MinTempo, MaxTempo)
	if bpm == s.tempo {
		return
	}
	ratio := s.tempo / bpm
	s.tempo = bpm
	if s.score == nil {
		return
	}
	// A pure rescale keeps ordering, so the cursor index stays valid.
	s.timeline = Compile(s.score, bpm)
	if s.state == Playing {
		elapsed := time.Duration(float64(time.Since(s.refStart)) * ratio)
		s.refStart = time.Now().Add(-elapsed)
	} else {
		s.pausedOffset = time.Duration(float64(s.pausedOffset) * ratio)
	}
}

// SetLoop makes end-of-timeline restart playback from zero instead of
// stopping.
func (s *Scheduler) SetLoop(loop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = loop
}

// SetVolume forwards the master volume to the sink when it accepts one.
// The scheduler itself never rescales compiled velocities.
func (s *Scheduler) SetVolume(volume float64) {
	if vs, ok := s.sink.(VolumeSink); ok {
		vs.SetVolume(util.Clamp(volume, 0, 1))
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) Tempo() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tempo
}

func (s *Scheduler) Loop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loop
}

// Position is the current playhead offset in seconds.
func (s *Scheduler) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pos float64
	if s.state == Playing {
		pos = time.Since(s.refStart).Seconds()
	} else {
		pos = s.pausedOffset.Seconds()
	}
	return util.Clamp(pos, 0, s.totalDuration())
}

// TotalDuration is the timeline length in seconds at the current tempo.
func (s *Scheduler) TotalDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDuration()
}

func (s *Scheduler) totalDuration() float64 {
	if len(s.timeline) == 0 {
		return 0
	}
	return s.timeline[len(s.timeline)-1].Seconds
}

// emit forwards a command and tracks which (channel, pitch) pairs are
// sounding, so flushes touch exactly the notes that are on.
func (s *Scheduler) emit(c model.Command) {
	key := [2]uint8{c.Channel, c.Pitch}
	switch c.Kind {
	case model.NoteOn:
		s.sounding[key] = struct{}{}
	case model.NoteOff:
		delete(s.sounding, key)
	}
	if s.sink != nil {
		s.sink.Send(c)
	}
}

// flushSounding emits a note-off for every sounding note, in deterministic
// channel/pitch order.
func (s *Scheduler) flushSounding() {
	if len(s.sounding) == 0 {
		return
	}
	keys := make([][2]uint8, 0, len(s.sounding))
	for k := range s.sounding {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, k := range keys {
		delete(s.sounding, k)
		if s.sink != nil {
			s.sink.Send(model.Command{Kind: model.NoteOff, Channel: k[0], Pitch: k[1]})
		}
	}
}
