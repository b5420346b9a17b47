package fishaudio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	svr := httptest.NewServer(handler)
	t.Cleanup(svr.Close)

	client := request.New(config.RequestConfig{Retries: 1, Timeout: config.Duration(5 * time.Second), Concurrency: 1}, nil)
	p := NewProvider(config.FishAudioConfig{
		EngineSettings: config.EngineSettings{Models: []string{"s1"}},
		Key:            "fish-key",
		Voice:          "ref-1",
	}, client)
	p.url = svr.URL
	p.listURL = svr.URL
	p.retryGap = time.Millisecond
	return p
}

func TestSynthesize(t *testing.T) {
	var got requestBody
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fish-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write(make([]byte, 4096))
	})

	a, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Really?", Speed: 1.1, Model: "speech-1.6"})
	require.NoError(t, err)
	assert.Equal(t, "mp3", string(a.Encoding))
	assert.Equal(t, "speech-1.6", a.Model)
	assert.Equal(t, "ref-1", got.ReferenceID)
	assert.Equal(t, "speech-1.6", got.ModelID)
	require.NotNil(t, got.Prosody)
	assert.InDelta(t, 1.1, got.Prosody.Speed, 1e-9)
}

func TestSynthesize_DefaultModel(t *testing.T) {
	var got requestBody
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write(make([]byte, 4096))
	})
	_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Hi", VoiceID: "ref-2"})
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ModelID)
	assert.Equal(t, "ref-2", got.ReferenceID)
	assert.Nil(t, got.Prosody)
}

func TestSynthesize_EmptyAudioRetried(t *testing.T) {
	var calls int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			return
		}
		_, _ = w.Write(make([]byte, 2048))
	})
	_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind model.ErrorKind
	}{
		{"AuthFailsFast", http.StatusUnauthorized, "invalid token", model.KindAuthRejected},
		{"PaymentQuota", http.StatusPaymentRequired, "insufficient balance, quota exceeded", model.KindQuotaOrRateLimited},
		{"RateLimited", http.StatusTooManyRequests, "", model.KindQuotaOrRateLimited},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Hi"})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, model.KindOf(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		})
	}
}

func TestSynthesize_NoKey(t *testing.T) {
	p := NewProvider(config.FishAudioConfig{Voice: "v"}, nil)
	_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Hi"})
	assert.Equal(t, model.KindAuthRejected, model.KindOf(err))
}

func TestVoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"_id":"ref-1","title":"Default"},{"_id":"a","title":"Asha","languages":["hi"]},{"_id":"b","title":"Multi","languages":["en","de"]}]}`))
	})
	voices, err := p.Voices(context.Background())
	require.NoError(t, err)
	require.Len(t, voices, 3)
	assert.Equal(t, "ref-1", voices[0].ID)
	assert.Equal(t, "hi", voices[1].Language)
	assert.True(t, voices[2].Multilingual)
}
