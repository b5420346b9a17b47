package separation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
)

const rate = 8000

func tone(channels, frames int, freq, amp float64) *audio.Buffer {
	b := audio.NewBuffer(rate, channels, frames)
	for c := range b.Data {
		for i := range b.Data[c] {
			b.Data[c][i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
		}
	}
	return b
}

func wavOf(t *testing.T, b *audio.Buffer) []byte {
	data, err := audio.EncodeWAV(b)
	require.NoError(t, err)
	return data
}

func newSeparator(url string) *Separator {
	cfg := config.DefaultConfig().Separation
	cfg.URL = url
	client := request.New(config.RequestConfig{Retries: 1, Timeout: config.Duration(5 * time.Second), Concurrency: 2}, nil)
	return New(cfg, client, audio.NewContext(rate, 2))
}

func TestSeparate_Remote(t *testing.T) {
	var mu sync.Mutex
	stems := map[string]bool{}
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/separate", r.URL.Path)
		var req separateRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, err := base64.StdEncoding.DecodeString(req.Audio)
		assert.NoError(t, err)
		mu.Lock()
		stems[req.Stem] = true
		mu.Unlock()

		w.Header().Set("Content-Type", "audio/wav")
		if req.Stem == StemSpeech {
			// Mono and shorter than the source.
			_, _ = w.Write(wavOf(t, tone(1, 400, 300, 0.5)))
			return
		}
		_, _ = w.Write(wavOf(t, tone(2, 800, 60, 0.3)))
	}))
	defer svr.Close()

	source := tone(2, 800, 300, 0.8)
	pack, err := newSeparator(svr.URL).Separate(context.Background(), source)
	require.NoError(t, err)

	assert.Equal(t, ModeRemote, pack.Mode)
	assert.False(t, pack.Approximate)
	assert.Equal(t, map[string]bool{StemSpeech: true, StemBackground: true}, stems)
	for _, b := range []*audio.Buffer{pack.FullMix, pack.Speech, pack.Background} {
		assert.Equal(t, 2, b.Channels())
		assert.Equal(t, 800, b.Frames())
	}
	assert.InDelta(t, 0.1, pack.Duration, 1e-9)
	assert.Zero(t, pack.Speech.Data[1][700], "short stem is padded with silence")
}

func TestSeparate_RemoteFailureFallsBack(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer svr.Close()

	pack, err := newSeparator(svr.URL).Separate(context.Background(), tone(1, 1600, 440, 0.9))
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, pack.Mode)
	assert.True(t, pack.Approximate)
	assert.Equal(t, 1600, pack.Background.Frames())
}

func TestSeparate_Local(t *testing.T) {
	s := newSeparator("")
	source := audio.NewBuffer(rate, 2, 4000)
	for i := range source.Data[0] {
		// Dialogue-band tone over a sub-bass rumble.
		v := 0.6*math.Sin(2*math.Pi*1000*float64(i)/rate) + 0.4*math.Sin(2*math.Pi*40*float64(i)/rate)
		source.Data[0][i] = v
		source.Data[1][i] = -v
	}

	pack, err := s.Separate(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, ModeLocal, pack.Mode)
	assert.True(t, pack.Approximate)

	for _, b := range []*audio.Buffer{pack.FullMix, pack.Speech, pack.Background} {
		assert.Equal(t, 2, b.Channels())
		assert.Equal(t, 4000, b.Frames())
		assert.LessOrEqual(t, b.Peak(), 1.0)
	}
	assert.Equal(t, source.Data[0], pack.FullMix.Data[0], "full mix is the untouched source")
	assert.Greater(t, pack.Speech.Peak(), 0.0)
}

func TestSubtract(t *testing.T) {
	mix := audio.NewBuffer(rate, 1, 3)
	mix.Data[0] = []float64{0.5, -0.9, 0.2}
	part := audio.NewBuffer(rate, 1, 2)
	part.Data[0] = []float64{1, 1}

	out := Subtract(mix, part, 0.76)
	assert.InDelta(t, -0.26, out.Data[0][0], 1e-12)
	assert.Equal(t, -1.0, out.Data[0][1], "clamped")
	assert.Equal(t, 0.2, out.Data[0][2], "part is silent past its end")
	assert.Equal(t, 0.5, mix.Data[0][0], "input untouched")
}

func TestSeparate_Errors(t *testing.T) {
	s := newSeparator("")

	_, err := s.Separate(context.Background(), audio.NewBuffer(rate, 1, 0))
	assert.Equal(t, model.KindValidation, model.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Separate(ctx, tone(1, 100, 200, 0.5))
	assert.True(t, model.IsAborted(err))
}

func TestEncodingOf(t *testing.T) {
	assert.Equal(t, audio.EncodingWAV, encodingOf("audio/wav"))
	assert.Equal(t, audio.EncodingMP3, encodingOf("audio/mpeg; charset=binary"))
	assert.Equal(t, audio.EncodingAuto, encodingOf("application/octet-stream"))
	assert.Equal(t, audio.EncodingAuto, encodingOf(""))
}
