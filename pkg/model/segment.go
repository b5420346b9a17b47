package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the type tag of a segment.
type Kind string

const (
	KindDialogue  Kind = "dialogue"
	KindSfx       Kind = "sfx"
	KindNarration Kind = "narration"
)

// NarratorName is the speaker used for narration and stage directions.
const NarratorName = "Narrator"

// Content is the payload of a segment. Only the variants in this package implement it.
type Content interface {
	Kind() Kind
	isContent()
}

// Dialogue is a line spoken by a named character.
type Dialogue struct {
	Speaker  string
	Emotion  Emotion
	CrewTags []string
	Text     string
}

// Sfx is a sound-effect cue. It never maps to a voice.
type Sfx struct {
	Label string
}

// Narration is text read by the narrator voice.
type Narration struct {
	Text string
	// Direction marks a parenthesized stage direction.
	Direction bool
}

func (Dialogue) Kind() Kind  { return KindDialogue }
func (Sfx) Kind() Kind       { return KindSfx }
func (Narration) Kind() Kind { return KindNarration }

func (Dialogue) isContent()  {}
func (Sfx) isContent()       {}
func (Narration) isContent() {}

// Segment is one atomic unit of audio to synthesize and place on the timeline.
type Segment struct {
	Index int
	// Start is the target start time in seconds.
	Start float64
	// End is the target end time in seconds; only meaningful when HasEnd is set.
	End    float64
	HasEnd bool
	// Timed is set when Start came from an explicit timestamp in the script.
	Timed bool
	// Estimate is the expected spoken length in seconds, from explicit timing
	// or the word-rate heuristic. Silence substitution uses it.
	Estimate float64
	Content  Content
}

// Kind returns the variant tag.
func (s *Segment) Kind() Kind {
	if s.Content == nil {
		return KindNarration
	}
	return s.Content.Kind()
}

// Speaker returns the voice owner of the segment, or "" for sound effects.
func (s *Segment) Speaker() string {
	switch c := s.Content.(type) {
	case Dialogue:
		return c.Speaker
	case Narration:
		return NarratorName
	default:
		return ""
	}
}

// Text returns the raw text (or SFX label) without any tag prefix.
func (s *Segment) Text() string {
	switch c := s.Content.(type) {
	case Dialogue:
		return c.Text
	case Narration:
		return c.Text
	case Sfx:
		return c.Label
	default:
		return ""
	}
}

// SpokenText returns the text handed to a synthesis engine. Crew tags are
// prepended as a bracketed cue so engines that read directions can honor them.
func (s *Segment) SpokenText() string {
	d, ok := s.Content.(Dialogue)
	if !ok {
		if s.Kind() == KindSfx {
			return ""
		}
		return s.Text()
	}
	if len(d.CrewTags) == 0 {
		return d.Text
	}
	return "[" + strings.Join(d.CrewTags, ", ") + "] " + d.Text
}

// EmotionOf returns the primary emotion, Neutral for anything but dialogue.
func (s *Segment) EmotionOf() Emotion {
	if d, ok := s.Content.(Dialogue); ok && d.Emotion != "" {
		return d.Emotion
	}
	return EmotionNeutral
}

// TargetDuration is End-Start when an end is known, else 0.
func (s *Segment) TargetDuration() float64 {
	if !s.HasEnd || s.End <= s.Start {
		return 0
	}
	return s.End - s.Start
}

// Validate checks the structural invariants of a segment.
func (s *Segment) Validate() error {
	if s.Content == nil {
		return fmt.Errorf("segment %d has no content", s.Index)
	}
	if s.HasEnd && s.End <= s.Start {
		return fmt.Errorf("segment %d: end %.3f not after start %.3f", s.Index, s.End, s.Start)
	}
	return nil
}

type segmentJSON struct {
	Index    int      `json:"index"`
	Kind     Kind     `json:"kind"`
	Speaker  string   `json:"speaker,omitempty"`
	Emotion  Emotion  `json:"emotion,omitempty"`
	CrewTags []string `json:"crewTags,omitempty"`
	Text     string   `json:"text"`
	Start    float64  `json:"start"`
	End      *float64 `json:"end,omitempty"`
	Timed    bool     `json:"timed,omitempty"`
	Estimate float64  `json:"estimate,omitempty"`
}

// MarshalJSON flattens the variant into a tagged record.
func (s Segment) MarshalJSON() ([]byte, error) {
	out := segmentJSON{
		Index:    s.Index,
		Kind:     s.Kind(),
		Text:     s.Text(),
		Start:    s.Start,
		Timed:    s.Timed,
		Estimate: s.Estimate,
	}
	if s.HasEnd {
		end := s.End
		out.End = &end
	}
	switch c := s.Content.(type) {
	case Dialogue:
		out.Speaker = c.Speaker
		out.Emotion = c.Emotion
		out.CrewTags = c.CrewTags
	case Narration:
		out.Speaker = NarratorName
	}
	return json.Marshal(out)
}

// UnmarshalJSON rebuilds the variant from its tag.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var in segmentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = Segment{Index: in.Index, Start: in.Start, Timed: in.Timed, Estimate: in.Estimate}
	if in.End != nil {
		s.End = *in.End
		s.HasEnd = true
	}
	switch in.Kind {
	case KindDialogue:
		s.Content = Dialogue{Speaker: in.Speaker, Emotion: NormalizeEmotion(string(in.Emotion)), CrewTags: in.CrewTags, Text: in.Text}
	case KindSfx:
		s.Content = Sfx{Label: in.Text}
	case KindNarration, "":
		s.Content = Narration{Text: in.Text}
	default:
		return fmt.Errorf("unknown segment kind %q", in.Kind)
	}
	return nil
}

// ScriptLine is one source line of the input script.
type ScriptLine struct {
	Number int
	Raw    string
	// Start/End are explicit timestamps in seconds, if the line carried any.
	Start    float64
	End      float64
	HasStart bool
	HasEnd   bool
}

// Speakers returns the distinct speaking roles in order of first appearance.
func Speakers(segments []Segment) []string {
	seen := make(map[string]bool)
	var out []string
	for i := range segments {
		name := segments[i].Speaker()
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
