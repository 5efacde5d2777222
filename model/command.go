package model

// CommandKind tags a command as note-on or note-off.
type CommandKind uint8

const (
	NoteOn CommandKind = iota
	NoteOff
)

func (k CommandKind) String() string {
	switch k {
	case NoteOn:
		return "NoteOn"
	case NoteOff:
		return "NoteOff"
	}
	return "Unknown"
}

// Command is one discrete event handed to the synthesizer collaborator.
// The collaborator is a pure sink: fire-and-forget, no acknowledgment.
type Command struct {
	Kind     CommandKind `json:"kind"`
	Channel  uint8       `json:"channel"`
	Pitch    uint8       `json:"pitch"`
	Velocity uint8       `json:"velocity"`
}
