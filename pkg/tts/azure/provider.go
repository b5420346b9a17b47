package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/voice"
)

const outputFormat = "riff-24khz-16bit-mono-pcm"

var (
	reLangEnd    = regexp.MustCompile(`([^.?!,])</lang>`)
	reID         = regexp.MustCompile(`\s+xml:ID[^>]*`)
	reSpeakOpen  = regexp.MustCompile(`(?i)<speak[^>]*>`)
	reSpeakClose = regexp.MustCompile(`(?i)</speak>`)
	reVoiceOpen  = regexp.MustCompile(`(?i)<voice[^>]*>`)
	reVoiceClose = regexp.MustCompile(`(?i)</voice>`)
	reTag        = regexp.MustCompile(`<[^>]*>`)
)

// emotionStyles maps emotions onto mstts:express-as styles.
var emotionStyles = map[model.Emotion]string{
	model.EmotionHappy:      "cheerful",
	model.EmotionSad:        "sad",
	model.EmotionAngry:      "angry",
	model.EmotionFearful:    "fearful",
	model.EmotionExcited:    "excited",
	model.EmotionCalm:       "calm",
	model.EmotionSighing:    "sad",
	model.EmotionTaunting:   "unfriendly",
	model.EmotionWhispering: "whispering",
	model.EmotionShouting:   "shouting",
	model.EmotionSarcastic:  "unfriendly",
	model.EmotionSerious:    "serious",
	model.EmotionTender:     "affectionate",
	model.EmotionNervous:    "embarrassed",
	model.EmotionLaughing:   "cheerful",
	model.EmotionCrying:     "sad",
	model.EmotionSurprised:  "excited",
}

// Provider implements tts.Provider for Azure Speech.
type Provider struct {
	key     string
	region  string
	voiceID string
	client  *request.Client
	url     string
	listURL string
}

// NewProvider creates a new Azure Speech TTS provider.
func NewProvider(cfg config.AzureConfig, client *request.Client) *Provider {
	base := fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices", cfg.Region)
	return &Provider{
		key:     cfg.Key,
		region:  cfg.Region,
		voiceID: cfg.Voice,
		client:  client,
		url:     base + "/v1",
		listURL: base + "/voices/list",
	}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return voice.EngineAzure }

func (p *Provider) headers() map[string]string {
	return map[string]string{"Ocp-Apim-Subscription-Key": p.key}
}

// Synthesize generates speech using Azure Speech.
func (p *Provider) Synthesize(ctx context.Context, req *model.SynthesisRequest) (*tts.Audio, error) {
	if p.key == "" || p.region == "" {
		return nil, model.NewError(model.KindAuthRejected, "no_credentials", "Azure Speech needs a key and a region", nil)
	}
	vid := req.VoiceID
	if vid == "" {
		vid = p.voiceID
	}
	if vid == "" {
		return nil, model.NewError(model.KindValidation, "no_voice", "no voice ID configured for Azure Speech", nil)
	}

	ssml := buildSSML(vid, req.Language, req.Text, styleFor(req), req.Speed)

	h := p.headers()
	h["Content-Type"] = "application/ssml+xml"
	h["X-Microsoft-OutputFormat"] = outputFormat

	resp, err := p.client.Post(ctx, p.url, []byte(ssml), h)
	if err != nil {
		tts.Log(p.Name(), "", ssml, 0, err)
		return nil, tts.ClassifyError(p.Name(), err)
	}
	tts.Log(p.Name(), "", ssml, resp.Status, nil)
	if !resp.OK() {
		return nil, tts.ClassifyResponse(p.Name(), resp)
	}

	return &tts.Audio{Data: resp.Body, Encoding: audio.EncodingWAV}, nil
}

type voiceListEntry struct {
	ShortName   string `json:"ShortName"`
	DisplayName string `json:"DisplayName"`
	Gender      string `json:"Gender"`
	Locale      string `json:"Locale"`
	VoiceType   string `json:"VoiceType"`
}

// Voices lists the region's voices, or the built-in catalog when no key is configured.
func (p *Provider) Voices(ctx context.Context) ([]model.Voice, error) {
	if p.key == "" || p.region == "" {
		return voice.AzureVoices, nil
	}
	resp, err := p.client.Get(ctx, p.listURL, p.headers())
	if err != nil {
		return nil, tts.ClassifyError(p.Name(), err)
	}
	if !resp.OK() {
		return nil, tts.ClassifyResponse(p.Name(), resp)
	}
	var entries []voiceListEntry
	if err := json.Unmarshal(resp.Body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode azure voice list: %w", err)
	}
	out := make([]model.Voice, 0, len(entries))
	for _, e := range entries {
		if e.VoiceType != "" && e.VoiceType != "Neural" {
			continue
		}
		out = append(out, model.Voice{
			ID:           e.ShortName,
			Engine:       voice.EngineAzure,
			Name:         e.DisplayName,
			Gender:       parseGender(e.Gender),
			Language:     e.Locale,
			Multilingual: strings.Contains(e.ShortName, "Multilingual"),
		})
	}
	return out, nil
}

func parseGender(s string) model.Gender {
	switch strings.ToLower(s) {
	case "female":
		return model.GenderFemale
	case "male":
		return model.GenderMale
	}
	return model.GenderUnknown
}

func styleFor(req *model.SynthesisRequest) string {
	if req.Style != "" {
		return req.Style
	}
	return emotionStyles[req.Emotion]
}

// prosodyRate renders a speed multiplier as a relative SSML rate ("+20%").
func prosodyRate(speed float64) string {
	if speed <= 0 || math.Abs(speed-1) < 0.01 {
		return ""
	}
	return fmt.Sprintf("%+d%%", int(math.Round((speed-1)*100)))
}

// validateSSML checks if the SSML string is well-formed XML.
func validateSSML(ssml string) error {
	decoder := xml.NewDecoder(bytes.NewReader([]byte(ssml)))
	for {
		_, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func wrap(lang, vid, style, rate, body string) string {
	if rate != "" {
		body = fmt.Sprintf(`<prosody rate='%s'>%s</prosody>`, rate, body)
	}
	if style != "" {
		body = fmt.Sprintf(`<mstts:express-as style='%s'>%s</mstts:express-as>`, style, body)
	}
	return fmt.Sprintf(
		`<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xmlns:mstts='https://www.w3.org/2001/mstts' xml:lang='%s'><voice name='%s'>%s</voice></speak>`,
		lang, vid, body,
	)
}

func buildSSML(vid, lang, text, style string, speed float64) string {
	if lang == "" {
		lang = "en-US"
	}
	text = repairSSML(text)

	// express-as breaks nested <lang> switching on multilingual voices.
	if strings.Contains(text, "<lang") {
		style = ""
	}
	rate := prosodyRate(speed)

	// A trailing comma inside </lang> stops the voice truncating the last word.
	processed := reLangEnd.ReplaceAllString(text, `$1,</lang>`)

	ssml := wrap(lang, vid, style, rate, processed)
	if err := validateSSML(ssml); err != nil {
		var b strings.Builder
		_ = xml.EscapeText(&b, []byte(stripTags(text)))
		return wrap(lang, vid, style, rate, b.String())
	}
	return ssml
}

// repairSSML drops attributes and wrapper tags the envelope already provides.
func repairSSML(text string) string {
	text = reID.ReplaceAllString(text, "")
	text = reSpeakOpen.ReplaceAllString(text, "")
	text = reSpeakClose.ReplaceAllString(text, "")
	text = reVoiceOpen.ReplaceAllString(text, "")
	text = reVoiceClose.ReplaceAllString(text, "")
	return text
}

// stripTags removes all XML/HTML tags from the text.
func stripTags(text string) string {
	return reTag.ReplaceAllString(text, "")
}
