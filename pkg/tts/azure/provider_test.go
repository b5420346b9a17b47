package azure

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
	"dubstudio/pkg/tts"
)

func testClient() *request.Client {
	return request.New(config.RequestConfig{
		Retries:     1,
		Timeout:     config.Duration(5 * time.Second),
		Concurrency: 2,
	}, nil)
}

func TestBuildSSML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		style    string
		speed    float64
		wantText []string
		notText  []string
	}{
		{
			name:     "Normal Text",
			input:    "Hello World",
			wantText: []string{"<voice name='test-voice'>Hello World</voice>"},
			notText:  []string{"express-as", "prosody"},
		},
		{
			name:     "Valid SSML",
			input:    `Hello <break time="1s"/> World`,
			wantText: []string{`Hello <break time="1s"/> World`},
		},
		{
			name:     "Reparable SSML (Extra Attribute & Injection)",
			input:    `Hello <lang xml:lang="vi-VN" xml:ID="foo">World</lang>`,
			style:    "cheerful",
			wantText: []string{`Hello <lang xml:lang="vi-VN">World,</lang>`},
			notText:  []string{"express-as"},
		},
		{
			name:     "Existing Punctuation (No Injection)",
			input:    `<lang xml:lang="de">Sentence.</lang>`,
			wantText: []string{`<lang xml:lang="de">Sentence.</lang>`},
		},
		{
			name:     "Malformed SSML (Broken Nesting -> Strip Tags)",
			input:    "Hello <lang>Bad World",
			wantText: []string{"Hello Bad World"},
			notText:  []string{"<lang"},
		},
		{
			name:     "Plain ampersand is escaped",
			input:    "Tom & Jerry",
			wantText: []string{"Tom &amp; Jerry"},
		},
		{
			name:     "Style and rate",
			input:    "Run!",
			style:    "fearful",
			speed:    1.2,
			wantText: []string{"<mstts:express-as style='fearful'><prosody rate='+20%'>Run!</prosody></mstts:express-as>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSSML("test-voice", "en-US", tt.input, tt.style, tt.speed)
			assert.NoError(t, validateSSML(got))
			for _, w := range tt.wantText {
				assert.Contains(t, got, w)
			}
			for _, n := range tt.notText {
				assert.NotContains(t, got, n)
			}
		})
	}
}

func TestProsodyRate(t *testing.T) {
	assert.Equal(t, "", prosodyRate(0))
	assert.Equal(t, "", prosodyRate(1))
	assert.Equal(t, "-15%", prosodyRate(0.85))
	assert.Equal(t, "+42%", prosodyRate(1.42))
}

func TestSynthesize(t *testing.T) {
	wav := make([]byte, 2048)
	copy(wav, "RIFF")

	tests := []struct {
		name     string
		status   int
		body     []byte
		cfg      config.AzureConfig
		wantKind model.ErrorKind
		wantErr  bool
	}{
		{
			name:   "Success",
			status: http.StatusOK,
			body:   wav,
			cfg:    config.AzureConfig{Key: "k", Region: "eastus", Voice: "en-US-AvaMultilingualNeural"},
		},
		{
			name:     "BadKey",
			status:   http.StatusUnauthorized,
			body:     []byte("Access denied due to invalid subscription key"),
			cfg:      config.AzureConfig{Key: "k", Region: "eastus", Voice: "v"},
			wantErr:  true,
			wantKind: model.KindAuthRejected,
		},
		{
			name:     "Throttled",
			status:   http.StatusTooManyRequests,
			cfg:      config.AzureConfig{Key: "k", Region: "eastus", Voice: "v"},
			wantErr:  true,
			wantKind: model.KindQuotaOrRateLimited,
		},
		{
			name:     "MissingKey",
			cfg:      config.AzureConfig{Region: "eastus", Voice: "v"},
			wantErr:  true,
			wantKind: model.KindAuthRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody string
			svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "k", r.Header.Get("Ocp-Apim-Subscription-Key"))
				assert.Equal(t, outputFormat, r.Header.Get("X-Microsoft-OutputFormat"))
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body)
			}))
			defer svr.Close()

			p := NewProvider(tt.cfg, testClient())
			p.url = svr.URL

			a, err := p.Synthesize(context.Background(), &model.SynthesisRequest{
				Text:     "I don't know.",
				Language: "en-US",
				Emotion:  model.EmotionSighing,
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, model.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.NoError(t, tts.VerifyAudio(p.Name(), a))
			assert.Equal(t, "wav", string(a.Encoding))
			assert.True(t, strings.Contains(gotBody, "style='sad'"), gotBody)
			assert.Contains(t, gotBody, "I don't know.")
		})
	}
}

func TestVoices(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"ShortName":"de-DE-KatjaNeural","DisplayName":"Katja","Gender":"Female","Locale":"de-DE","VoiceType":"Neural"},
			{"ShortName":"en-US-AndrewMultilingualNeural","DisplayName":"Andrew","Gender":"Male","Locale":"en-US","VoiceType":"Neural"},
			{"ShortName":"en-US-OldStandard","DisplayName":"Old","Gender":"Male","Locale":"en-US","VoiceType":"Standard"}
		]`))
	}))
	defer svr.Close()

	p := NewProvider(config.AzureConfig{Key: "k", Region: "eastus"}, testClient())
	p.listURL = svr.URL

	voices, err := p.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 2)
	assert.Equal(t, model.GenderFemale, voices[0].Gender)
	assert.True(t, voices[1].Multilingual)

	offline := NewProvider(config.AzureConfig{}, testClient())
	voices, err = offline.Voices(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, voices)
}
