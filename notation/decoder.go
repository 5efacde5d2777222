// Package notation decodes MusicXML documents into the canonical score
// model. The parse is streaming: a single token walk with a small amount of
// builder state, so whole documents are never reflected into a DOM.
package notation

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html/charset"

	"scoreplay/model"
)

// ErrMalformed means a required structural element (part-list, at least one
// part) is absent or the XML itself does not parse. Fatal to the import.
var ErrMalformed = errors.New("malformed notation document")

var stepSemitones = map[string]int{
	"C": 0, "D": 2, "E": 4, "F": 5, "G": 7, "A": 9, "B": 11,
}

// Notated dynamics are a percentage of this reference velocity.
const defaultVelocity = 90

// partDef is what the part-list declares about a part before its body
// appears. channel/program are -1 until the document provides them.
type partDef struct {
	name       string
	instrument string
	channel    int
	program    int
}

// partState tracks the builder for the part body currently being walked.
type partState struct {
	part      *model.Part
	dropped   bool
	divisions float64
	cursor    float64 // beat position of the next non-chord note
	lastStart float64 // start of the previous pitched note, for chords
}

// noteState accumulates one note element.
type noteState struct {
	step     string
	alter    float64
	alterSet bool
	octave   int
	hasPitch bool
	duration float64
	chord    bool
	rest     bool
	grace    bool
	velocity int
}

type Decoder struct {
	warnings []string
}

// Warnings lists notes and parts that were dropped without failing the
// import, e.g. out-of-range pitches or fractional accidentals.
func (d *Decoder) Warnings() []string {
	return d.warnings
}

func (d *Decoder) warnf(format string, args ...interface{}) {
	d.warnings = append(d.warnings, fmt.Sprintf(format, args...))
}

// Decode parses a MusicXML document and returns the score, or ErrMalformed
// if the document lacks a part-list or any part body. Unknown elements are
// skipped, never fatal.
func (d *Decoder) Decode(xmlBytes []byte) (*model.Score, error) {
	dec := xml.NewDecoder(bytes.NewReader(xmlBytes))
	dec.CharsetReader = charset.NewReaderLabel

	score := model.NewScore()
	var (
		stack       []string
		text        strings.Builder
		sawPartList bool
		inPartList  bool
		defs        = make(map[string]*partDef)
		curDef      *partDef
		cur         *partState
		note        *noteState
		creatorType string
		moveDur     float64 // duration inside backup/forward
		partBodies  int
		tempoSet    bool
	)

	parent := func() string {
		if len(stack) < 2 {
			return ""
		}
		return stack[len(stack)-2]
	}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "xml parse: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			stack = append(stack, t.Name.Local)
			text.Reset()
			switch t.Name.Local {
			case "part-list":
				sawPartList = true
				inPartList = true
			case "score-part":
				curDef = &partDef{channel: -1, program: -1}
				defs[attr(t, "id")] = curDef
			case "part":
				if inPartList {
					break
				}
				cur = d.beginPart(score, defs, attr(t, "id"), partBodies)
				partBodies++
			case "note":
				note = &noteState{velocity: defaultVelocity}
				if dyn, ok := floatAttr(t, "dynamics"); ok {
					note.velocity = int(math.Round(dyn / 100 * defaultVelocity))
				}
			case "chord":
				if note != nil {
					note.chord = true
				}
			case "rest":
				if note != nil {
					note.rest = true
				}
			case "grace":
				if note != nil {
					note.grace = true
				}
			case "creator":
				creatorType = attr(t, "type")
			case "sound":
				if bpm, ok := floatAttr(t, "tempo"); ok && bpm > 0 && !tempoSet {
					score.Tempo = bpm
					tempoSet = true
				}
			}

		case xml.CharData:
			text.Write(t)

		case xml.EndElement:
			s := strings.TrimSpace(text.String())
			switch t.Name.Local {
			case "part-list":
				inPartList = false
			case "score-part":
				curDef = nil
			case "part":
				if !inPartList {
					cur = nil
				}
			case "work-title", "movement-title":
				if score.Title == "" {
					score.Title = s
				}
			case "creator":
				switch creatorType {
				case "composer":
					score.Composer = s
				case "arranger":
					score.Arranger = s
				}
				creatorType = ""
			case "rights":
				if score.Copyright == "" {
					score.Copyright = s
				}
			case "fifths":
				if v, err := strconv.Atoi(s); err == nil {
					score.KeyFifths = &v
				}
			case "beats":
				if parent() == "time" {
					if v, err := strconv.Atoi(s); err == nil {
						score.TimeBeats = &v
					}
				}
			case "beat-type":
				if parent() == "time" {
					if v, err := strconv.Atoi(s); err == nil {
						score.TimeUnit = &v
					}
				}
			case "part-name":
				if curDef != nil {
					curDef.name = s
				}
			case "instrument-name":
				if curDef != nil {
					curDef.instrument = s
				}
			case "midi-channel":
				if curDef != nil {
					if v, err := strconv.Atoi(s); err == nil {
						curDef.channel = v - 1
					}
				}
			case "midi-program":
				if curDef != nil {
					if v, err := strconv.Atoi(s); err == nil {
						curDef.program = v - 1
					}
				}
			case "divisions":
				if cur != nil {
					if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
						cur.divisions = v
					}
				}
			case "step":
				if note != nil {
					note.step = s
					note.hasPitch = true
				}
			case "alter":
				if note != nil {
					if v, err := strconv.ParseFloat(s, 64); err == nil {
						note.alter = v
						note.alterSet = true
					}
				}
			case "octave":
				if note != nil {
					if v, err := strconv.Atoi(s); err == nil {
						note.octave = v
					}
				}
			case "duration":
				if v, err := strconv.ParseFloat(s, 64); err == nil {
					switch {
					case note != nil:
						note.duration = v
					case contains(stack, "backup"), contains(stack, "forward"):
						moveDur = v
					}
				}
			case "note":
				if cur != nil && note != nil {
					d.finishNote(cur, note)
				}
				note = nil
			case "backup":
				if cur != nil {
					cur.cursor -= moveDur / cur.divisions
					if cur.cursor < 0 {
						cur.cursor = 0
					}
				}
				moveDur = 0
			case "forward":
				if cur != nil {
					cur.cursor += moveDur / cur.divisions
				}
				moveDur = 0
			}
			stack = stack[:len(stack)-1]
			text.Reset()
		}
	}

	if !sawPartList {
		return nil, errors.Wrap(ErrMalformed, "missing part-list")
	}
	if partBodies == 0 {
		return nil, errors.Wrap(ErrMalformed, "no part elements")
	}
	return score, nil
}

// beginPart resolves a part body against its part-list declaration and
// registers the new part on the score. A declaration with an illegal
// channel or program drops the whole part, warnings recorded, and the
// walk continues so later parts still import.
func (d *Decoder) beginPart(score *model.Score, defs map[string]*partDef, id string, index int) *partState {
	def := defs[id]
	if def == nil {
		d.warnf("part %q has no part-list declaration", id)
		def = &partDef{channel: -1, program: -1}
	}
	channel := def.channel
	if channel < 0 {
		channel = index % 16
	}
	program := def.program
	if program < 0 {
		program = 0
	}
	name := def.name
	if name == "" {
		name = id
	}
	p, err := model.NewPart(name, channel, program)
	if err != nil {
		d.warnf("dropping part %q: %v", id, err)
		return &partState{dropped: true, divisions: 1}
	}
	p.Instrument = def.instrument
	score.AddPart(p)
	return &partState{part: p, divisions: 1}
}

// finishNote converts the accumulated note element into a model.Note and
// advances the beat cursor. Chord members reuse the previous note's start
// instead of advancing; rests advance without emitting.
func (d *Decoder) finishNote(cur *partState, n *noteState) {
	if n.grace {
		return // no duration, occupies no time
	}
	beats := n.duration / cur.divisions
	if beats <= 0 {
		d.warnf("dropping note with non-positive duration %v", n.duration)
		return
	}
	if n.rest {
		cur.cursor += beats
		return
	}

	start := cur.cursor
	if n.chord {
		start = cur.lastStart
	} else {
		cur.lastStart = start
		cur.cursor = start + beats
	}

	if cur.dropped {
		return
	}
	if !n.hasPitch {
		return // unpitched; time already accounted for
	}
	semitone, ok := stepSemitones[n.step]
	if !ok {
		d.warnf("dropping note with unknown step %q", n.step)
		return
	}
	if n.alterSet && n.alter != math.Trunc(n.alter) {
		d.warnf("dropping note with fractional alter %v: integer semitones only", n.alter)
		return
	}
	pitch := semitone + int(n.alter) + (n.octave+1)*12
	if err := cur.part.AddNote(pitch, n.velocity, start, beats); err != nil {
		d.warnf("dropping note at beat %v: %v", start, err)
	}
}

func attr(t xml.StartElement, name string) string {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func floatAttr(t xml.StartElement, name string) (float64, bool) {
	s := attr(t, name)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func contains(stack []string, name string) bool {
	for _, s := range stack {
		if s == name {
			return true
		}
	}
	return false
}
