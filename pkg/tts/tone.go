package tts

import (
	"strings"

	"dubstudio/pkg/model"
)

// ToneHint returns the machine-readable delivery prefix for engines that read
// inline directions, or "" for neutral lines without a style.
func ToneHint(e model.Emotion, style string) string {
	var parts []string
	if e != "" && e != model.EmotionNeutral {
		parts = append(parts, strings.ToLower(string(e)))
	}
	if s := strings.TrimSpace(style); s != "" {
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		return ""
	}
	return "[tone: " + strings.Join(parts, ", ") + "] "
}

// WithToneHint prefixes text with its tone hint.
func WithToneHint(text string, e model.Emotion, style string) string {
	return ToneHint(e, style) + text
}
