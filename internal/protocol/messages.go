package protocol

import "time"

// AudioFrame represents PCM audio data streamed from capture devices.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is broadcast whenever the page replaces its transcript text.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Translation is broadcast when a translation response is applied.
type Translation struct {
	SessionID      string    `json:"session_id"`
	Generation     uint64    `json:"generation"`
	SourceText     string    `json:"source_text"`
	TranslatedText string    `json:"translated_text"`
	Target         string    `json:"target"`
	DetectedSource string    `json:"detected_source,omitempty"`
	LatencyMS      int64     `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// PageState mirrors the page snapshot on the bus.
type PageState struct {
	SessionID   string    `json:"session_id,omitempty"`
	Revision    uint64    `json:"revision"`
	Listening   bool      `json:"listening"`
	Transcript  string    `json:"transcript"`
	Translation string    `json:"translation"`
	Target      string    `json:"target"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTranscript       = "interp.transcript"
	SubjectTranslation      = "interp.translation"
	SubjectState            = "interp.state"
)

// AudioFrameSubject returns the subject frames for source are published on.
func AudioFrameSubject(source string) string {
	return SubjectAudioFramePrefix + "." + source
}
