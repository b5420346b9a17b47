package voice

import "dubstudio/pkg/model"

// Engine identifiers.
const (
	EngineGemini    = "gemini"
	EngineAzure     = "azure-speech"
	EngineEdge      = "edge-tts"
	EngineFishAudio = "fish-audio"
	EngineSAPI      = "windows-sapi"
	EngineRemote    = "remote"
)

func gemini(id, name string, g model.Gender, style string) model.Voice {
	return model.Voice{ID: id, Engine: EngineGemini, Name: name, Gender: g, Style: style, Multilingual: true}
}

func neural(engine, id string, g model.Gender) model.Voice {
	return model.Voice{ID: id, Engine: engine, Name: id, Gender: g, Language: localeOf(id)}
}

// GeminiVoices are the prebuilt Gemini TTS voices.
var GeminiVoices = []model.Voice{
	gemini("Aoede", "Aoede", model.GenderFemale, "Professional, capable, clear"),
	gemini("Zephyr", "Zephyr", model.GenderFemale, "Energetic, bright, youthful"),
	gemini("Kore", "Kore", model.GenderFemale, "Calm, soothing, gentle"),
	gemini("Leda", "Leda", model.GenderFemale, "Authoritative, formal, direct"),
	gemini("Algenib", "Algenib", model.GenderFemale, "Warm, friendly, confident"),
	gemini("Callirrhoe", "Callirrhoe", model.GenderFemale, "Expressive, quirky, lively"),
	gemini("Despina", "Despina", model.GenderFemale, "Smooth, warm"),
	gemini("Laomedeia", "Laomedeia", model.GenderFemale, "Upbeat, curious"),
	gemini("Charon", "Charon", model.GenderMale, "Deep, trustworthy, conversational"),
	gemini("Fenrir", "Fenrir", model.GenderMale, "Resonant, intense, dramatic"),
	gemini("Puck", "Puck", model.GenderMale, "Playful, mischievous, animated"),
	gemini("Orus", "Orus", model.GenderMale, "Balanced, versatile, clear"),
	gemini("Umbriel", "Umbriel", model.GenderMale, "Narrator-like, wise, grounded"),
	gemini("Sadachbia", "Sadachbia", model.GenderMale, "Laid-back, cool, textured"),
	gemini("Iapetus", "Iapetus", model.GenderMale, "Clear, articulate"),
	gemini("Algieba", "Algieba", model.GenderMale, "Smooth, mellow"),
}

// AzureVoices are the Azure neural voices offered by default.
var AzureVoices = []model.Voice{
	{ID: "en-US-AvaMultilingualNeural", Engine: EngineAzure, Name: "Ava", Gender: model.GenderFemale, Language: "en-US", Multilingual: true},
	{ID: "en-US-EmmaMultilingualNeural", Engine: EngineAzure, Name: "Emma", Gender: model.GenderFemale, Language: "en-US", Multilingual: true},
	{ID: "en-US-AndrewMultilingualNeural", Engine: EngineAzure, Name: "Andrew", Gender: model.GenderMale, Language: "en-US", Multilingual: true},
	{ID: "en-US-BrianMultilingualNeural", Engine: EngineAzure, Name: "Brian", Gender: model.GenderMale, Language: "en-US", Multilingual: true},
	neural(EngineAzure, "en-GB-SoniaNeural", model.GenderFemale),
	neural(EngineAzure, "en-GB-RyanNeural", model.GenderMale),
	neural(EngineAzure, "hi-IN-SwaraNeural", model.GenderFemale),
	neural(EngineAzure, "hi-IN-MadhurNeural", model.GenderMale),
	neural(EngineAzure, "de-DE-KatjaNeural", model.GenderFemale),
	neural(EngineAzure, "de-DE-ConradNeural", model.GenderMale),
	neural(EngineAzure, "fr-FR-DeniseNeural", model.GenderFemale),
	neural(EngineAzure, "fr-FR-HenriNeural", model.GenderMale),
	neural(EngineAzure, "es-ES-ElviraNeural", model.GenderFemale),
	neural(EngineAzure, "es-ES-AlvaroNeural", model.GenderMale),
}

// EdgeVoices are voices served by the Edge read-aloud endpoint.
var EdgeVoices = []model.Voice{
	{ID: "en-US-AvaMultilingualNeural", Engine: EngineEdge, Name: "Ava", Gender: model.GenderFemale, Language: "en-US", Multilingual: true},
	{ID: "en-US-AndrewMultilingualNeural", Engine: EngineEdge, Name: "Andrew", Gender: model.GenderMale, Language: "en-US", Multilingual: true},
	neural(EngineEdge, "en-US-AriaNeural", model.GenderFemale),
	neural(EngineEdge, "en-US-GuyNeural", model.GenderMale),
	neural(EngineEdge, "hi-IN-SwaraNeural", model.GenderFemale),
	neural(EngineEdge, "hi-IN-MadhurNeural", model.GenderMale),
	neural(EngineEdge, "de-DE-KatjaNeural", model.GenderFemale),
	neural(EngineEdge, "de-DE-KillianNeural", model.GenderMale),
	neural(EngineEdge, "fr-FR-DeniseNeural", model.GenderFemale),
	neural(EngineEdge, "fr-FR-HenriNeural", model.GenderMale),
}

// RemoteVoices is the default catalog of the generic synthesis backend.
var RemoteVoices = []model.Voice{
	{ID: "female-warm", Engine: EngineRemote, Name: "Warm (female)", Gender: model.GenderFemale, Multilingual: true},
	{ID: "female-bright", Engine: EngineRemote, Name: "Bright (female)", Gender: model.GenderFemale, Multilingual: true},
	{ID: "male-deep", Engine: EngineRemote, Name: "Deep (male)", Gender: model.GenderMale, Multilingual: true},
	{ID: "male-clear", Engine: EngineRemote, Name: "Clear (male)", Gender: model.GenderMale, Multilingual: true},
	{ID: "narrator", Engine: EngineRemote, Name: "Narrator", Gender: model.GenderUnknown, Multilingual: true},
}

// StaticCatalogs maps engines to their built-in catalogs. Engines that
// enumerate voices at runtime (SAPI, Fish Audio) start empty.
func StaticCatalogs() map[string][]model.Voice {
	return map[string][]model.Voice{
		EngineGemini: GeminiVoices,
		EngineAzure:  AzureVoices,
		EngineEdge:   EdgeVoices,
		EngineRemote: RemoteVoices,
	}
}

// localeOf extracts "xx-YY" from ids like "de-DE-KatjaNeural".
func localeOf(id string) string {
	if len(id) >= 5 && id[2] == '-' {
		return id[:5]
	}
	return ""
}
