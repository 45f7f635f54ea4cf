package capture

// State is the lifecycle state of a capture session.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopping  State = "stopping"
	StateError     State = "error"
)

// EventKind identifies an event delivered by the speech recognizer.
type EventKind string

const (
	EventPartial EventKind = "partial"
	EventFinal   EventKind = "final"
	EventError   EventKind = "error"
	EventEnd     EventKind = "end"
)

// ErrorCode classifies recognizer failures.
type ErrorCode string

const (
	CodePermissionDenied ErrorCode = "permission_denied"
	CodeNoSpeech         ErrorCode = "no_speech"
	CodeNetwork          ErrorCode = "network"
	CodeAborted          ErrorCode = "aborted"
	CodeOther            ErrorCode = "other"
)

// ClassifyCode maps a recognizer error name (Web Speech API names are
// accepted) to an ErrorCode.
func ClassifyCode(name string) ErrorCode {
	switch name {
	case "not-allowed", "service-not-allowed", string(CodePermissionDenied):
		return CodePermissionDenied
	case "no-speech", string(CodeNoSpeech):
		return CodeNoSpeech
	case string(CodeNetwork):
		return CodeNetwork
	case string(CodeAborted):
		return CodeAborted
	}
	return CodeOther
}

// Segment is one recognized piece of speech.
type Segment struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Event is a single item of the recognizer's event queue. Result events
// carry the segments reported since the recognizer's last result index.
type Event struct {
	Kind     EventKind `json:"kind"`
	Segments []Segment `json:"segments,omitempty"`
	Code     ErrorCode `json:"code,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Partial builds a result event made only of interim segments.
func Partial(texts ...string) Event {
	segs := make([]Segment, 0, len(texts))
	for _, t := range texts {
		segs = append(segs, Segment{Text: t})
	}
	return Event{Kind: EventPartial, Segments: segs}
}

// Final builds a result event holding one completed segment.
func Final(text string) Event {
	return Event{Kind: EventFinal, Segments: []Segment{{Text: text, Final: true}}}
}

// Results builds a result event from mixed segments.
func Results(segs ...Segment) Event {
	kind := EventPartial
	for _, s := range segs {
		if s.Final {
			kind = EventFinal
			break
		}
	}
	return Event{Kind: kind, Segments: segs}
}

// Failure builds an error event.
func Failure(code ErrorCode, detail string) Event {
	return Event{Kind: EventError, Code: code, Detail: detail}
}

// End builds the terminal event of a recognition run.
func End() Event {
	return Event{Kind: EventEnd}
}

// Transcript holds the text captured so far. Final is the last completed
// utterance; Interim is ephemeral and cleared when the session ends.
type Transcript struct {
	Final   string `json:"final"`
	Interim string `json:"interim"`
}

// Display returns the text to show while recording.
func (t Transcript) Display() string {
	if t.Interim != "" {
		return t.Interim
	}
	return t.Final
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	State      State      `json:"state"`
	Transcript Transcript `json:"transcript"`
	Message    string     `json:"message,omitempty"`
}
