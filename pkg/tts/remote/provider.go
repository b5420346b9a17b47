package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/voice"
)

// Provider implements tts.Provider for the generic synthesis backend
// (POST /synthesize).
type Provider struct {
	baseURL      string
	apiKey       string
	models       []string
	multiSpeaker bool
	client       *request.Client
}

// NewProvider creates a provider for the backend at cfg.URL.
func NewProvider(cfg config.RemoteConfig, client *request.Client) *Provider {
	return &Provider{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		apiKey:       cfg.Key,
		models:       cfg.Models,
		multiSpeaker: cfg.MultiSpeaker,
		client:       client,
	}
}

// requestBody is the wire shape of a synthesis call.
type requestBody struct {
	*model.SynthesisRequest
	Model string `json:"model,omitempty"`
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return voice.EngineRemote }

// SupportsMultiSpeaker implements tts.MultiSpeaker.
func (p *Provider) SupportsMultiSpeaker() bool { return p.multiSpeaker }

// CredentialID implements tts.Credentialed.
func (p *Provider) CredentialID() string {
	sum := sha256.Sum256([]byte(p.baseURL + "\x00" + p.apiKey))
	return hex.EncodeToString(sum[:6])
}

func (p *Provider) headers() map[string]string {
	h := map[string]string{"Accept": "audio/*"}
	if p.apiKey != "" {
		h["Authorization"] = "Bearer " + p.apiKey
	}
	return h
}

// Synthesize posts the request and returns the payload with any diagnostics
// the backend reported.
func (p *Provider) Synthesize(ctx context.Context, req *model.SynthesisRequest) (*tts.Audio, error) {
	if p.baseURL == "" {
		return nil, model.NewError(model.KindAuthRejected, "no_endpoint", "the synthesis backend URL is not configured", nil)
	}
	if req.MultiSpeaker && !p.multiSpeaker {
		return nil, model.NewError(model.KindValidation, "multi_speaker_unsupported", "the synthesis backend is not configured for multi-speaker requests", nil)
	}

	wire := *req
	if wire.MultiSpeaker {
		wire.Text = wire.ScriptText()
	}
	body := requestBody{SynthesisRequest: &wire, Model: req.Model}
	if body.Model == "" && len(p.models) > 0 {
		body.Model = p.models[0]
	}

	resp, err := p.client.PostJSON(ctx, p.baseURL+"/synthesize", body, p.headers())
	if err != nil {
		tts.Log(p.Name(), body.Model, wire.Text, 0, err)
		return nil, tts.ClassifyError(p.Name(), err)
	}
	tts.Log(p.Name(), body.Model, wire.Text, resp.Status, nil)
	if !resp.OK() {
		return nil, tts.ClassifyResponse(p.Name(), resp)
	}

	a := &tts.Audio{Data: resp.Body, Model: body.Model}
	a.Encoding, a.SampleRate, a.Channels = encodingOf(resp.Header.Get("Content-Type"))

	diag, err := tts.ParseDiagnostics(resp.Header)
	if err != nil {
		slog.Warn("Remote: ignoring diagnostics", "error", err)
	}
	a.Diagnostics = diag

	if err := tts.VerifyAudio(p.Name(), a); err != nil {
		return nil, err
	}
	return a, nil
}

// encodingOf maps a response content type to a payload encoding. Unknown
// types are sniffed by the decoder.
func encodingOf(contentType string) (enc audio.Encoding, rate, channels int) {
	mt, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return audio.EncodingAuto, 0, 0
	}
	switch mt {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return audio.EncodingWAV, 0, 0
	case "audio/mpeg", "audio/mp3":
		return audio.EncodingMP3, 0, 0
	case "audio/l16", "audio/pcm":
		rate, _ = strconv.Atoi(params["rate"])
		if rate <= 0 {
			rate = 24000
		}
		channels, _ = strconv.Atoi(params["channels"])
		if channels <= 0 {
			channels = 1
		}
		return audio.EncodingPCM16, rate, channels
	}
	return audio.EncodingAuto, 0, 0
}

// Voices fetches the backend catalog, falling back to the built-in one.
func (p *Provider) Voices(ctx context.Context) ([]model.Voice, error) {
	if p.baseURL == "" {
		return voice.RemoteVoices, nil
	}
	resp, err := p.client.Get(ctx, p.baseURL+"/voices", p.headers())
	if err != nil || !resp.OK() {
		slog.Debug("Remote: using built-in voice catalog", "error", err)
		return voice.RemoteVoices, nil
	}
	var voices []model.Voice
	if err := json.Unmarshal(resp.Body, &voices); err != nil || len(voices) == 0 {
		return voice.RemoteVoices, nil
	}
	for i := range voices {
		voices[i].Engine = voice.EngineRemote
		if voices[i].Gender == "" {
			voices[i].Gender = model.GenderUnknown
		}
	}
	return voices, nil
}

// Models lists the backend's models from GET /models.
func (p *Provider) Models(ctx context.Context) ([]string, error) {
	if p.baseURL == "" {
		return nil, nil
	}
	resp, err := p.client.Get(ctx, p.baseURL+"/models", p.headers())
	if err != nil {
		return nil, tts.ClassifyError(p.Name(), err)
	}
	if !resp.OK() {
		return nil, tts.ClassifyResponse(p.Name(), resp)
	}
	var list struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode remote models: %w", err)
	}
	return list.Models, nil
}
