package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/voice"
)

func newTestProvider(t *testing.T, multi bool, handler http.HandlerFunc) *Provider {
	t.Helper()
	tts.SetLogPath("")
	svr := httptest.NewServer(handler)
	t.Cleanup(svr.Close)

	client := request.New(config.RequestConfig{Retries: 1, Timeout: config.Duration(5 * time.Second), Concurrency: 2}, nil)
	return NewProvider(config.RemoteConfig{
		EngineSettings: config.EngineSettings{Models: []string{"studio-v2"}, MultiSpeaker: multi},
		URL:            svr.URL + "/",
		Key:            "secret",
	}, client)
}

func TestSynthesize(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, false, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/synthesize", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/L16; rate=16000")
		w.Header().Set(tts.DiagnosticsHeader, `{"traceId":"t-1","retryChunks":2,"splitChunks":1,"recoveryUsed":true}`)
		_, _ = w.Write(make([]byte, 4096))
	})

	a, err := p.Synthesize(context.Background(), &model.SynthesisRequest{
		Text: "Really?", VoiceID: "female-warm", Language: "hi", Speed: 1, Emotion: model.EmotionTaunting, TraceID: "t-1",
	})
	require.NoError(t, err)

	assert.Equal(t, audio.EncodingPCM16, a.Encoding)
	assert.Equal(t, 16000, a.SampleRate)
	assert.Equal(t, 1, a.Channels)
	assert.Equal(t, "studio-v2", a.Model)
	require.NotNil(t, a.Diagnostics)
	assert.Equal(t, 2, a.Diagnostics.RetryChunks)
	assert.Equal(t, 1, a.Diagnostics.SplitChunks)
	assert.True(t, a.Diagnostics.RecoveryUsed)

	assert.Equal(t, "Really?", got["text"])
	assert.Equal(t, "female-warm", got["voiceId"])
	assert.Equal(t, "Taunting", got["emotion"])
	assert.Equal(t, "t-1", got["traceId"])
	assert.Equal(t, "studio-v2", got["model"])
	assert.NotContains(t, got, "multiSpeakerMode")
}

func TestSynthesize_MultiSpeaker(t *testing.T) {
	var got map[string]any
	p := newTestProvider(t, true, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(make([]byte, 2048))
	})
	assert.True(t, p.SupportsMultiSpeaker())

	req := &model.SynthesisRequest{
		MultiSpeaker:  true,
		SpeakerVoices: map[string]string{"Rahul": "male-deep", "Priya": "female-bright"},
		Lines: []model.SpeakerLine{
			{Index: 0, Speaker: "Rahul", Text: "I don't know."},
			{Index: 1, Speaker: "Priya", Text: "Really?"},
		},
	}
	a, err := p.Synthesize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, audio.EncodingWAV, a.Encoding)
	assert.Nil(t, a.Diagnostics)

	assert.Equal(t, true, got["multiSpeakerMode"])
	assert.Equal(t, "Rahul: I don't know.\nPriya: Really?", got["text"])
	voices, ok := got["speakerVoices"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "female-bright", voices["Priya"])
	assert.Equal(t, "", req.Text, "caller request must not be mutated")
}

func TestSynthesize_MultiSpeakerDisabled(t *testing.T) {
	p := newTestProvider(t, false, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{MultiSpeaker: true})
	assert.Equal(t, model.KindValidation, model.KindOf(err))
}

func TestSynthesize_StructuredErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   model.ErrorKind
		wantCode   string
		retryAfter time.Duration
	}{
		{"Quota", 429, `{"errorCode":"QUOTA_EXCEEDED","summary":"Daily usage limit reached","retryAfterMs":30000}`, model.KindQuotaOrRateLimited, "quota_exceeded", 30 * time.Second},
		{"Auth", 401, `{"errorCode":"AUTH_REJECTED","summary":"bad token"}`, model.KindAuthRejected, "auth_rejected", 0},
		{"Pool", 500, `{"errorCode":"INTERNAL","summary":"No keys configured in the shared pool"}`, model.KindAuthRejected, tts.CodePoolUnconfigured, 0},
		{"ModelGone", 400, `{"errorCode":"MODEL_DEPRECATED","summary":"studio-v2 is retired"}`, model.KindModelUnavailable, "model_deprecated", 0},
		{"PlainText", 418, "teapot", model.KindOther, "http_418", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, false, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Hi."})
			require.Error(t, err)
			var me *model.Error
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tt.wantKind, me.Kind)
			assert.Equal(t, tt.wantCode, me.Code)
			assert.Equal(t, tt.retryAfter, me.RetryAfter)
		})
	}
}

func TestSynthesize_ShortAudio(t *testing.T) {
	p := newTestProvider(t, false, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("RIFF"))
	})
	_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Hi."})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "short_audio")
}

func TestSynthesize_NoEndpoint(t *testing.T) {
	p := NewProvider(config.RemoteConfig{}, nil)
	_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Hi."})
	assert.Equal(t, model.KindAuthRejected, model.KindOf(err))

	voices, err := p.Voices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, voice.RemoteVoices, voices)
}

func TestVoicesAndModels(t *testing.T) {
	p := newTestProvider(t, false, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/voices":
			_, _ = w.Write([]byte(`[{"id":"v1","name":"One","gender":"female","language":"de-DE"},{"id":"v2","name":"Two"}]`))
		case "/models":
			_, _ = w.Write([]byte(`{"models":["studio-v2","studio-v1"]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	voices, err := p.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, voice.EngineRemote, voices[0].Engine)
	assert.Equal(t, model.GenderFemale, voices[0].Gender)
	assert.Equal(t, model.GenderUnknown, voices[1].Gender)

	models, err := p.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"studio-v2", "studio-v1"}, models)
}

func TestEncodingOf(t *testing.T) {
	tests := []struct {
		ct   string
		enc  audio.Encoding
		rate int
	}{
		{"audio/wav", audio.EncodingWAV, 0},
		{"audio/mpeg", audio.EncodingMP3, 0},
		{"audio/L16;codec=pcm;rate=24000", audio.EncodingPCM16, 24000},
		{"audio/L16", audio.EncodingPCM16, 24000},
		{"application/octet-stream", audio.EncodingAuto, 0},
		{"", audio.EncodingAuto, 0},
	}
	for _, tt := range tests {
		enc, rate, _ := encodingOf(tt.ct)
		assert.Equal(t, tt.enc, enc, tt.ct)
		assert.Equal(t, tt.rate, rate, tt.ct)
	}
}
