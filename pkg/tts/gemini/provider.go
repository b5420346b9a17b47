package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/voice"
)

const (
	defaultModel = "gemini-2.5-flash-preview-tts"
	defaultRate  = 24000
	// maxSpeakers is the API limit for multi-speaker speech.
	maxSpeakers = 2
)

var rateRegex = regexp.MustCompile(`rate=(\d+)`)

// generator is the slice of genai.Models the provider uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	List(ctx context.Context, config *genai.ListModelsConfig) (genai.Page[genai.Model], error)
}

// Provider implements tts.Provider for Gemini speech generation.
type Provider struct {
	shared     generator
	personal   generator
	credential string
	voiceID    string
	models     []string
}

// NewProvider creates the genai clients for the configured keys. A provider
// without keys is valid; its calls fail as unconfigured.
func NewProvider(ctx context.Context, cfg config.GeminiConfig) (*Provider, error) {
	p := &Provider{voiceID: cfg.Voice, models: cfg.Models}
	if cfg.Key != "" {
		c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.Key, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return nil, fmt.Errorf("failed to create genai client: %w", err)
		}
		p.shared = c.Models
		p.credential = fingerprint(cfg.Key)
	}
	if cfg.PersonalKey != "" {
		c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.PersonalKey, Backend: genai.BackendGeminiAPI})
		if err != nil {
			return nil, fmt.Errorf("failed to create personal genai client: %w", err)
		}
		p.personal = c.Models
		if p.credential == "" {
			p.credential = fingerprint(cfg.PersonalKey)
		}
	}
	return p, nil
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:6])
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return voice.EngineGemini }

// SupportsMultiSpeaker implements tts.MultiSpeaker.
func (p *Provider) SupportsMultiSpeaker() bool { return true }

// MaxSpeakers implements tts.SpeakerLimiter.
func (p *Provider) MaxSpeakers() int { return maxSpeakers }

// CredentialID implements tts.Credentialed.
func (p *Provider) CredentialID() string { return p.credential }

// Synthesize renders a single-voice or native multi-speaker request.
func (p *Provider) Synthesize(ctx context.Context, req *model.SynthesisRequest) (*tts.Audio, error) {
	primary := p.shared
	if primary == nil {
		primary = p.personal
	}
	if primary == nil {
		return nil, model.NewError(model.KindAuthRejected, "no_credentials", "Gemini needs an API key", nil)
	}

	modelName := req.Model
	if modelName == "" && len(p.models) > 0 {
		modelName = p.models[0]
	}
	if modelName == "" {
		modelName = defaultModel
	}

	cfg, err := p.speechConfig(req)
	if err != nil {
		return nil, err
	}
	prompt := req.ScriptText()

	a, err := p.generate(ctx, primary, modelName, prompt, cfg)
	if err == nil {
		return a, nil
	}

	// A throttled shared key may be bypassed with the operator's personal key.
	// An unconfigured pool may not: that needs an operator, not a detour.
	var me *model.Error
	if p.personal != nil && primary != p.personal && errors.As(err, &me) &&
		me.Kind == model.KindQuotaOrRateLimited && me.Code != tts.CodePoolUnconfigured {
		slog.Warn("Gemini: shared key throttled, using personal key", "model", modelName)
		a, perr := p.generate(ctx, p.personal, modelName, prompt, cfg)
		if perr != nil {
			return nil, perr
		}
		a.Diagnostics = &model.Diagnostics{RecoveryUsed: true}
		a.Diagnostics.Note("gemini personal key bypass")
		return a, nil
	}
	return nil, err
}

func (p *Provider) speechConfig(req *model.SynthesisRequest) (*genai.GenerateContentConfig, error) {
	sc := &genai.SpeechConfig{LanguageCode: req.Language}

	if req.MultiSpeaker {
		speakers := make([]string, 0, len(req.SpeakerVoices))
		for _, l := range req.Lines {
			if !contains(speakers, l.Speaker) {
				speakers = append(speakers, l.Speaker)
			}
		}
		if len(speakers) > maxSpeakers {
			return nil, model.NewError(model.KindValidation, "too_many_speakers",
				fmt.Sprintf("gemini multi-speaker supports %d speakers, got %d", maxSpeakers, len(speakers)), nil)
		}
		msc := &genai.MultiSpeakerVoiceConfig{}
		for _, s := range speakers {
			msc.SpeakerVoiceConfigs = append(msc.SpeakerVoiceConfigs, &genai.SpeakerVoiceConfig{
				Speaker:     s,
				VoiceConfig: prebuilt(req.SpeakerVoices[s]),
			})
		}
		sc.MultiSpeakerVoiceConfig = msc
	} else {
		vid := req.VoiceID
		if vid == "" {
			vid = p.voiceID
		}
		sc.VoiceConfig = prebuilt(vid)
	}

	return &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig:       sc,
	}, nil
}

func prebuilt(name string) *genai.VoiceConfig {
	return &genai.VoiceConfig{PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: name}}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (p *Provider) generate(ctx context.Context, g generator, modelName, prompt string, cfg *genai.GenerateContentConfig) (*tts.Audio, error) {
	resp, err := g.GenerateContent(ctx, modelName, genai.Text(prompt), cfg)
	if err != nil {
		tts.Log(p.Name(), modelName, prompt, 0, err)
		return nil, classify(err)
	}

	a, err := extractAudio(resp)
	if err != nil {
		tts.Log(p.Name(), modelName, prompt, 200, err)
		return nil, err
	}
	tts.Log(p.Name(), modelName, prompt, 200, nil)
	a.Model = modelName
	return a, nil
}

func classify(err error) error {
	var ae genai.APIError
	if errors.As(err, &ae) {
		return tts.ClassifyAPI(voice.EngineGemini, ae.Code, ae.Status, ae.Message)
	}
	var aep *genai.APIError
	if errors.As(err, &aep) {
		return tts.ClassifyAPI(voice.EngineGemini, aep.Code, aep.Status, aep.Message)
	}
	return tts.ClassifyError(voice.EngineGemini, err)
}

// extractAudio joins the inline PCM parts of the first candidate.
func extractAudio(resp *genai.GenerateContentResponse) (*tts.Audio, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, model.NewError(model.KindOther, "empty_audio", "gemini returned no candidates", nil)
	}
	a := &tts.Audio{Encoding: audio.EncodingPCM16, SampleRate: defaultRate, Channels: 1}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil {
			continue
		}
		if m := rateRegex.FindStringSubmatch(part.InlineData.MIMEType); m != nil {
			if r, err := strconv.Atoi(m[1]); err == nil && r > 0 {
				a.SampleRate = r
			}
		}
		a.Data = append(a.Data, part.InlineData.Data...)
	}
	if len(a.Data) == 0 {
		reason := ""
		if fr := resp.Candidates[0].FinishReason; fr != "" {
			reason = " (finish reason " + string(fr) + ")"
		}
		return nil, model.NewError(model.KindOther, "empty_audio", "gemini returned no audio"+reason, nil)
	}
	return a, nil
}

// Voices returns the prebuilt voice catalog.
func (p *Provider) Voices(ctx context.Context) ([]model.Voice, error) {
	return voice.GeminiVoices, nil
}

// Models lists the speech-capable models visible to the active key.
func (p *Provider) Models(ctx context.Context) ([]string, error) {
	g := p.shared
	if g == nil {
		g = p.personal
	}
	if g == nil {
		return nil, model.NewError(model.KindAuthRejected, "no_credentials", "Gemini needs an API key", nil)
	}

	page, err := g.List(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	var out []string
	for {
		for _, m := range page.Items {
			if m == nil {
				continue
			}
			name := strings.TrimPrefix(m.Name, "models/")
			if strings.Contains(strings.ToLower(name), "tts") {
				out = append(out, name)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		page, err = page.Next(ctx)
		if errors.Is(err, genai.ErrPageDone) {
			break
		}
		if err != nil {
			return out, classify(err)
		}
	}
	return out, nil
}
