package model

import "strings"

// Emotion is the primary delivery of a dialogue line, from a closed vocabulary.
type Emotion string

const (
	EmotionNeutral    Emotion = "Neutral"
	EmotionHappy      Emotion = "Happy"
	EmotionSad        Emotion = "Sad"
	EmotionAngry      Emotion = "Angry"
	EmotionFearful    Emotion = "Fearful"
	EmotionSurprised  Emotion = "Surprised"
	EmotionExcited    Emotion = "Excited"
	EmotionCalm       Emotion = "Calm"
	EmotionSighing    Emotion = "Sighing"
	EmotionTaunting   Emotion = "Taunting"
	EmotionWhispering Emotion = "Whispering"
	EmotionShouting   Emotion = "Shouting"
	EmotionSarcastic  Emotion = "Sarcastic"
	EmotionSerious    Emotion = "Serious"
	EmotionTender     Emotion = "Tender"
	EmotionNervous    Emotion = "Nervous"
	EmotionLaughing   Emotion = "Laughing"
	EmotionCrying     Emotion = "Crying"
)

var emotionAliases = map[string]Emotion{
	"neutral":     EmotionNeutral,
	"normal":      EmotionNeutral,
	"happy":       EmotionHappy,
	"cheerful":    EmotionHappy,
	"joyful":      EmotionHappy,
	"sad":         EmotionSad,
	"sorrowful":   EmotionSad,
	"angry":       EmotionAngry,
	"furious":     EmotionAngry,
	"annoyed":     EmotionAngry,
	"fearful":     EmotionFearful,
	"afraid":      EmotionFearful,
	"scared":      EmotionFearful,
	"terrified":   EmotionFearful,
	"surprised":   EmotionSurprised,
	"shocked":     EmotionSurprised,
	"excited":     EmotionExcited,
	"calm":        EmotionCalm,
	"soothing":    EmotionCalm,
	"sighing":     EmotionSighing,
	"sighs":       EmotionSighing,
	"sigh":        EmotionSighing,
	"taunting":    EmotionTaunting,
	"mocking":     EmotionTaunting,
	"teasing":     EmotionTaunting,
	"whispering":  EmotionWhispering,
	"whispers":    EmotionWhispering,
	"whisper":     EmotionWhispering,
	"shouting":    EmotionShouting,
	"shouts":      EmotionShouting,
	"yelling":     EmotionShouting,
	"sarcastic":   EmotionSarcastic,
	"serious":     EmotionSerious,
	"stern":       EmotionSerious,
	"tender":      EmotionTender,
	"gentle":      EmotionTender,
	"loving":      EmotionTender,
	"nervous":     EmotionNervous,
	"anxious":     EmotionNervous,
	"hesitant":    EmotionNervous,
	"laughing":    EmotionLaughing,
	"laughs":      EmotionLaughing,
	"chuckling":   EmotionLaughing,
	"crying":      EmotionCrying,
	"sobbing":     EmotionCrying,
	"tearful":     EmotionCrying,
}

// LookupEmotion maps a free-form tag onto the vocabulary.
func LookupEmotion(tag string) (Emotion, bool) {
	e, ok := emotionAliases[strings.ToLower(strings.TrimSpace(tag))]
	return e, ok
}

// NormalizeEmotion is LookupEmotion with Neutral as the default.
func NormalizeEmotion(tag string) Emotion {
	if e, ok := LookupEmotion(tag); ok {
		return e
	}
	return EmotionNeutral
}
