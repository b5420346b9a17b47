package model

import (
	"strings"
)

// SynthesisRequest is the engine-agnostic description of one synthesis call.
type SynthesisRequest struct {
	Text     string  `json:"text"`
	VoiceID  string  `json:"voiceId"`
	Language string  `json:"language"`
	Speed    float64 `json:"speed"`
	Emotion  Emotion `json:"emotion,omitempty"`
	Style    string  `json:"style,omitempty"`
	TraceID  string  `json:"traceId,omitempty"`

	// Model pins a specific engine model; the fallback chain fills it in.
	Model string `json:"-"`

	// SpeakerVoices and Lines are only set for native multi-speaker requests.
	SpeakerVoices map[string]string `json:"speakerVoices,omitempty"`
	Lines         []SpeakerLine     `json:"lines,omitempty"`
	MultiSpeaker  bool              `json:"multiSpeakerMode,omitempty"`
}

// SpeakerLine is one line of a native multi-speaker script.
type SpeakerLine struct {
	Index   int    `json:"index"`
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Words returns the number of words the request will speak.
func (r *SynthesisRequest) Words() int {
	if r.MultiSpeaker {
		n := 0
		for _, l := range r.Lines {
			n += WordCount(l.Text)
		}
		return n
	}
	return WordCount(r.Text)
}

// Validate rejects requests no engine can serve.
func (r *SynthesisRequest) Validate() error {
	if r.MultiSpeaker {
		if len(r.Lines) == 0 {
			return NewError(KindValidation, "empty_input", "multi-speaker request has no lines", nil)
		}
		for _, l := range r.Lines {
			if _, ok := r.SpeakerVoices[l.Speaker]; !ok {
				return NewError(KindValidation, "unmapped_speaker", "no voice mapped for speaker "+l.Speaker, nil)
			}
		}
		return nil
	}
	if strings.TrimSpace(r.Text) == "" {
		return NewError(KindValidation, "empty_input", "synthesis text is empty", nil)
	}
	return nil
}

// ScriptText renders multi-speaker lines as "Speaker: text" rows.
func (r *SynthesisRequest) ScriptText() string {
	if !r.MultiSpeaker {
		return r.Text
	}
	var b strings.Builder
	for i, l := range r.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Speaker)
		b.WriteString(": ")
		b.WriteString(l.Text)
	}
	return b.String()
}
