package model

// Gender of a voice or an inferred speaker.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// Voice is a selectable synthesis voice.
type Voice struct {
	ID       string `json:"id"`
	Engine   string `json:"engine"`
	Name     string `json:"name"`
	Gender   Gender `json:"gender"`
	Language string `json:"language"` // BCP-47 code, or "" when multilingual
	Style    string `json:"style,omitempty"`
	// Multilingual voices land in the neutral bucket for every target language.
	Multilingual bool `json:"multilingual"`
}
