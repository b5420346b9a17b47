package fishaudio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/voice"
)

const (
	apiURL      = "https://api.fish.audio/v1/tts"
	modelsURL   = "https://api.fish.audio/model?self=true&page_size=100"
	maxAttempts = 3
)

// Provider implements tts.Provider for Fish Audio.
type Provider struct {
	apiKey   string
	voiceID  string // default reference_id
	models   []string
	client   *request.Client
	url      string
	listURL  string
	retryGap time.Duration
}

// NewProvider creates a new Fish Audio TTS provider.
func NewProvider(cfg config.FishAudioConfig, client *request.Client) *Provider {
	return &Provider{
		apiKey:   cfg.Key,
		voiceID:  cfg.Voice,
		models:   cfg.Models,
		client:   client,
		url:      apiURL,
		listURL:  modelsURL,
		retryGap: 500 * time.Millisecond,
	}
}

type prosody struct {
	Speed float64 `json:"speed,omitempty"`
}

// requestBody represents the JSON payload for Fish Audio TTS.
type requestBody struct {
	Text        string   `json:"text"`
	ReferenceID string   `json:"reference_id"`
	ModelID     string   `json:"model,omitempty"`
	Format      string   `json:"format"`
	Mp3Bitrate  int      `json:"mp3_bitrate,omitempty"`
	Latency     string   `json:"latency,omitempty"`
	Prosody     *prosody `json:"prosody,omitempty"`
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return voice.EngineFishAudio }

func (p *Provider) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

// Synthesize generates speech from text using Fish Audio.
func (p *Provider) Synthesize(ctx context.Context, req *model.SynthesisRequest) (*tts.Audio, error) {
	if p.apiKey == "" {
		return nil, model.NewError(model.KindAuthRejected, "no_credentials", "Fish Audio needs an API key", nil)
	}
	vid := req.VoiceID
	if vid == "" {
		vid = p.voiceID
	}
	if vid == "" {
		return nil, model.NewError(model.KindValidation, "no_voice", "no voice ID configured for Fish Audio", nil)
	}
	modelID := req.Model
	if modelID == "" && len(p.models) > 0 {
		modelID = p.models[0]
	}

	body := requestBody{
		Text:        req.Text,
		ReferenceID: vid,
		ModelID:     modelID,
		Format:      "mp3",
		Mp3Bitrate:  128,
		Latency:     "normal",
	}
	if req.Speed > 0 && req.Speed != 1 {
		body.Prosody = &prosody{Speed: req.Speed}
	}

	return p.executeWithRetry(ctx, body)
}

// executeWithRetry retries the occasional 200 response carrying no audio.
// Every other failure is classified and returned to the caller.
func (p *Provider) executeWithRetry(ctx context.Context, body requestBody) (*tts.Audio, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, model.Aborted(ctx.Err())
			case <-time.After(p.retryGap):
				slog.Debug("FishAudio: retrying empty response", "attempt", attempt+1)
			}
		}

		resp, err := p.client.PostJSON(ctx, p.url, body, p.headers())
		if err != nil {
			tts.Log(p.Name(), body.ModelID, body.Text, 0, err)
			return nil, tts.ClassifyError(p.Name(), err)
		}
		tts.Log(p.Name(), body.ModelID, body.Text, resp.Status, nil)
		if !resp.OK() {
			return nil, tts.ClassifyResponse(p.Name(), resp)
		}

		a := &tts.Audio{Data: resp.Body, Encoding: audio.EncodingMP3, Model: body.ModelID}
		if lastErr = tts.VerifyAudio(p.Name(), a); lastErr == nil {
			return a, nil
		}
	}
	return nil, fmt.Errorf("fish audio failed after %d attempts: %w", maxAttempts, lastErr)
}

type modelList struct {
	Items []struct {
		ID        string   `json:"_id"`
		Title     string   `json:"title"`
		Languages []string `json:"languages"`
	} `json:"items"`
}

// Voices lists the account's voice models plus the configured default.
func (p *Provider) Voices(ctx context.Context) ([]model.Voice, error) {
	var out []model.Voice
	if p.voiceID != "" {
		out = append(out, model.Voice{ID: p.voiceID, Engine: voice.EngineFishAudio, Name: "Configured Fish Audio Voice", Gender: model.GenderUnknown, Multilingual: true})
	}
	if p.apiKey == "" {
		return out, nil
	}

	resp, err := p.client.Get(ctx, p.listURL, p.headers())
	if err != nil {
		return nil, tts.ClassifyError(p.Name(), err)
	}
	if !resp.OK() {
		return nil, tts.ClassifyResponse(p.Name(), resp)
	}
	var list modelList
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode fish audio models: %w", err)
	}
	for _, it := range list.Items {
		if it.ID == p.voiceID {
			continue
		}
		v := model.Voice{ID: it.ID, Engine: voice.EngineFishAudio, Name: it.Title, Gender: model.GenderUnknown}
		if len(it.Languages) == 1 {
			v.Language = it.Languages[0]
		} else {
			v.Multilingual = true
		}
		out = append(out, v)
	}
	return out, nil
}
