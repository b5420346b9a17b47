package model

import "strings"

// LanguageInfo holds the code and English name of a language.
type LanguageInfo struct {
	Code string `json:"code"` // e.g., "de"
	Name string `json:"name"` // e.g., "German"
}

// BaseLanguage returns the lower-cased primary subtag of a BCP-47 code ("de-DE" -> "de").
func BaseLanguage(code string) string {
	code = strings.TrimSpace(strings.ToLower(code))
	if i := strings.IndexAny(code, "-_"); i >= 0 {
		code = code[:i]
	}
	return code
}

// SupportedLanguages lists the target languages the bundled voice tables know about.
var SupportedLanguages = []LanguageInfo{
	{Code: "en", Name: "English"},
	{Code: "de", Name: "German"},
	{Code: "fr", Name: "French"},
	{Code: "es", Name: "Spanish"},
	{Code: "it", Name: "Italian"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "hi", Name: "Hindi"},
	{Code: "ja", Name: "Japanese"},
}
