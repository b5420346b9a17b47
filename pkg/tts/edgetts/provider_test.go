package edgetts

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
)

func TestHandleBinaryMessage(t *testing.T) {
	var buf bytes.Buffer

	header := []byte("info")
	audio := []byte{0x01, 0x02, 0x03, 0x04}
	data := append([]byte{0x00, 0x04}, header...)
	data = append(data, audio...)

	require.NoError(t, handleBinaryMessage(data, &buf))
	assert.Equal(t, audio, buf.Bytes())

	// Too short messages are ignored.
	require.NoError(t, handleBinaryMessage([]byte{0x00}, &buf))
	require.NoError(t, handleBinaryMessage([]byte{0x00, 0x09, 'x'}, &buf))
	assert.Equal(t, audio, buf.Bytes())
}

func TestBuildSSML(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		speed    float64
		expected []string
	}{
		{"Normal text", "Hello world", 1, []string{"Hello world", "en-US-AvaNeural", "xml:lang='en-US'"}},
		{"Text with ampersand", "Ben & Jerry's", 0, []string{"Ben &amp; Jerry&apos;s"}},
		{"Text with tags", "<speak>Hello</speak>", 0, []string{"&lt;speak&gt;Hello&lt;/speak&gt;"}},
		{"Text with quotes", `She said "Hello"`, 0, []string{`She said &quot;Hello&quot;`}},
		{"Slower", "Wait", 0.8, []string{"<prosody rate='-20%'>Wait</prosody>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSSML("en-US-AvaNeural", "", tt.text, tt.speed)
			for _, exp := range tt.expected {
				assert.Contains(t, got, exp)
			}
		})
	}
}

func TestGenerateSecMSGec(t *testing.T) {
	now := time.Unix(1700000000, 0)
	token := generateSecMSGec("token", now)
	assert.Len(t, token, 64)
	assert.Equal(t, strings.ToUpper(token), token)
	// Stable within the same five minute window.
	assert.Equal(t, token, generateSecMSGec("token", now.Add(time.Second)))
	assert.NotEqual(t, token, generateSecMSGec("other", now))
}

func TestEndpointValidate(t *testing.T) {
	ep := Endpoint{BaseURL: "wss://x", Origin: "o", UserAgent: "ua", TrustedClientToken: "t", GECVersion: "1"}
	assert.NoError(t, ep.Validate())
	ep.GECVersion = ""
	assert.Error(t, ep.Validate())

	p := NewProvider(config.EdgeConfig{Voice: "v"}, Endpoint{})
	_, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "hi"})
	assert.Equal(t, model.KindAuthRejected, model.KindOf(err))
}

func TestSynthesize_Websocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	audio := bytes.Repeat([]byte{0xAB}, 3000)
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("Sec-MS-GEC"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, cfgMsg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		assert.Contains(t, string(cfgMsg), "Path:speech.config")
		_, ssmlMsg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		assert.Contains(t, string(ssmlMsg), "voice name='en-US-GuyNeural'")

		hdr := []byte("Path:audio\r\n")
		half := len(audio) / 2
		for _, part := range [][]byte{audio[:half], audio[half:]} {
			frame := append([]byte{0x00, byte(len(hdr))}, hdr...)
			frame = append(frame, part...)
			_ = conn.WriteMessage(websocket.BinaryMessage, frame)
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("Path:turn.end\r\n\r\n{}"))
	}))
	defer svr.Close()

	ep := Endpoint{
		BaseURL:            "ws" + strings.TrimPrefix(svr.URL, "http"),
		Origin:             "chrome-extension://test",
		UserAgent:          "test",
		TrustedClientToken: "tok",
		GECVersion:         "1-0",
	}
	p := NewProvider(config.EdgeConfig{Voice: "en-US-AvaMultilingualNeural"}, ep)

	a, err := p.Synthesize(context.Background(), &model.SynthesisRequest{Text: "Hello", VoiceID: "en-US-GuyNeural"})
	require.NoError(t, err)
	assert.Equal(t, audio, a.Data)
	assert.Equal(t, "mp3", string(a.Encoding))
}

func TestVoices(t *testing.T) {
	p := NewProvider(config.EdgeConfig{}, Endpoint{})
	voices, err := p.Voices(context.TODO())
	require.NoError(t, err)
	found := false
	for _, v := range voices {
		if v.ID == "en-US-AvaMultilingualNeural" {
			found = true
			break
		}
	}
	assert.True(t, found, "Default voice not found in list")
}
