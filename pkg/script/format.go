package script

import (
	"fmt"
	"math"
	"strings"

	"dubstudio/pkg/model"
)

// Format renders segments in the canonical script format. Parsing the result
// yields the same kinds, speakers, emotions, crew tags and text.
func Format(segs []model.Segment) string {
	blocks := make([]string, 0, len(segs))
	for i := range segs {
		blocks = append(blocks, FormatSegment(&segs[i]))
	}
	// blank lines keep narration from reading as a continuation
	return strings.Join(blocks, "\n\n")
}

// FormatSegment renders one segment as a single line.
func FormatSegment(s *model.Segment) string {
	var b strings.Builder
	if s.Timed {
		b.WriteByte('[')
		b.WriteString(FormatTimestamp(s.Start))
		if s.HasEnd {
			b.WriteByte('-')
			b.WriteString(FormatTimestamp(s.End))
		}
		b.WriteString("] ")
	}
	switch c := s.Content.(type) {
	case model.Dialogue:
		b.WriteString(c.Speaker)
		emotion := c.Emotion
		if emotion == "" {
			emotion = model.EmotionNeutral
		}
		if emotion != model.EmotionNeutral || len(c.CrewTags) > 0 {
			tags := append([]string{string(emotion)}, c.CrewTags...)
			b.WriteString(" (")
			b.WriteString(strings.Join(tags, ", "))
			b.WriteByte(')')
		}
		b.WriteString(": ")
		b.WriteString(c.Text)
	case model.Sfx:
		b.WriteString("[SFX: ")
		b.WriteString(c.Label)
		b.WriteByte(']')
	case model.Narration:
		if c.Direction {
			b.WriteByte('(')
			b.WriteString(c.Text)
			b.WriteByte(')')
		} else {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// FormatTimestamp renders seconds as mm:ss.mmm, or h:mm:ss.mmm past an hour.
func FormatTimestamp(sec float64) string {
	if sec < 0 || math.IsNaN(sec) {
		sec = 0
	}
	ms := int64(math.Round(sec * 1000))
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	frac := ms % 1000
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%03d", h, m, s, frac)
	}
	return fmt.Sprintf("%02d:%02d.%03d", m, s, frac)
}
