package page

import (
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/protocol"
)

type CaptureState string

const (
	Idle      CaptureState = "idle"
	Listening CaptureState = "listening"
)

const (
	TranscriptPlaceholder  = "Start speaking to see transcription..."
	TranslationPlaceholder = "Translation will appear here..."
)

// Snapshot is an immutable copy of the page state.
type Snapshot struct {
	SessionID   string       `json:"session_id,omitempty"`
	Revision    uint64       `json:"revision"`
	State       CaptureState `json:"state"`
	Available   bool         `json:"recognizer_available"`
	Transcript  string       `json:"transcript"`
	Translation string       `json:"translation"`
	Target      string       `json:"target"`
}

func (s Snapshot) Listening() bool {
	return s.State == Listening
}

// TranscriptDisplay is the text shown in the transcript region.
func (s Snapshot) TranscriptDisplay() string {
	if s.Transcript == "" {
		return TranscriptPlaceholder
	}
	return s.Transcript
}

// TranslationDisplay is the text shown in the translation region.
func (s Snapshot) TranslationDisplay() string {
	if s.Translation == "" {
		return TranslationPlaceholder
	}
	return s.Translation
}

func (s Snapshot) toProtocol() protocol.PageState {
	return protocol.PageState{
		SessionID:   s.SessionID,
		Revision:    s.Revision,
		Listening:   s.Listening(),
		Transcript:  s.Transcript,
		Translation: s.Translation,
		Target:      s.Target,
		Timestamp:   time.Now().UTC(),
	}
}
