package edgetts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/voice"
)

// Endpoint holds the read-aloud service parameters. They change with browser
// releases, so they come from the environment rather than the config file.
type Endpoint struct {
	BaseURL            string
	Origin             string
	UserAgent          string
	TrustedClientToken string
	GECVersion         string
}

// EndpointFromEnv reads the EDGE_TTS_* variables.
func EndpointFromEnv() Endpoint {
	return Endpoint{
		BaseURL:            os.Getenv("EDGE_TTS_BASE_URL"),
		Origin:             os.Getenv("EDGE_TTS_ORIGIN"),
		UserAgent:          os.Getenv("EDGE_TTS_USER_AGENT"),
		TrustedClientToken: os.Getenv("EDGE_TTS_TRUSTED_CLIENT_TOKEN"),
		GECVersion:         os.Getenv("EDGE_TTS_SEC_MS_GEC_VERSION"),
	}
}

// Validate reports the first missing parameter.
func (e Endpoint) Validate() error {
	switch {
	case e.BaseURL == "":
		return errors.New("EDGE_TTS_BASE_URL environment variable is required")
	case e.Origin == "":
		return errors.New("EDGE_TTS_ORIGIN environment variable is required")
	case e.UserAgent == "":
		return errors.New("EDGE_TTS_USER_AGENT environment variable is required")
	case e.TrustedClientToken == "":
		return errors.New("EDGE_TTS_TRUSTED_CLIENT_TOKEN environment variable is required")
	case e.GECVersion == "":
		return errors.New("EDGE_TTS_SEC_MS_GEC_VERSION environment variable is required")
	}
	return nil
}

// Provider implements tts.Provider for Microsoft Edge TTS.
type Provider struct {
	voiceID     string
	endpoint    Endpoint
	dialer      *websocket.Dialer
	dialRetries int
	retryGap    time.Duration
}

// NewProvider creates a new Edge TTS provider.
func NewProvider(cfg config.EdgeConfig, ep Endpoint) *Provider {
	return &Provider{
		voiceID:     cfg.Voice,
		endpoint:    ep,
		dialer:      websocket.DefaultDialer,
		dialRetries: 3,
		retryGap:    500 * time.Millisecond,
	}
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return voice.EngineEdge }

// Synthesize streams mp3 audio over the read-aloud websocket.
func (p *Provider) Synthesize(ctx context.Context, req *model.SynthesisRequest) (*tts.Audio, error) {
	if err := p.endpoint.Validate(); err != nil {
		return nil, model.NewError(model.KindAuthRejected, "edge_unconfigured", err.Error(), nil)
	}
	vid := req.VoiceID
	if vid == "" {
		vid = p.voiceID
	}
	if vid == "" {
		return nil, model.NewError(model.KindValidation, "no_voice", "voice ID is required", nil)
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := p.sendConfig(conn); err != nil {
		return nil, tts.ClassifyError(p.Name(), err)
	}

	ssml := buildSSML(vid, req.Language, req.Text, req.Speed)
	requestID := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := p.sendSSML(conn, ssml, requestID); err != nil {
		return nil, tts.ClassifyError(p.Name(), err)
	}

	var buf bytes.Buffer
	if err := p.consumeResponses(ctx, conn, &buf); err != nil {
		tts.Log(p.Name(), "", ssml, 0, err)
		return nil, tts.ClassifyError(p.Name(), err)
	}
	tts.Log(p.Name(), "", ssml, 200, nil)

	return &tts.Audio{Data: buf.Bytes(), Encoding: audio.EncodingMP3}, nil
}

func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	ep := p.endpoint
	header := http.Header{}
	header.Set("Origin", ep.Origin)
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	header.Set("User-Agent", ep.UserAgent)
	header.Set("Accept-Language", "en-US,en;q=0.9")

	muid := strings.ReplaceAll(uuid.New().String(), "-", "")
	header.Set("Cookie", fmt.Sprintf("muid=%s", muid))

	url := fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		ep.BaseURL, ep.TrustedClientToken, generateSecMSGec(ep.TrustedClientToken, time.Now()), ep.GECVersion)

	var dialErr error
	for i := 0; i < p.dialRetries; i++ {
		conn, resp, err := p.dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, nil
		}
		dialErr = err
		if ctx.Err() != nil {
			return nil, model.Aborted(ctx.Err())
		}
		if resp != nil {
			slog.Warn("EdgeTTS: handshake failure", "status", resp.Status, "status_code", resp.StatusCode)
			// 403 means a stale token or clock skew; retrying the same token cannot help.
			if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
				return nil, tts.Classify(p.Name(), resp.StatusCode, nil, resp.Header)
			}
		}
		select {
		case <-ctx.Done():
			return nil, model.Aborted(ctx.Err())
		case <-time.After(p.retryGap):
		}
	}
	return nil, model.NewError(model.KindNetworkUnreachable, "edge_dial", "websocket dial failed after retries", dialErr)
}

// generateSecMSGec derives the Sec-MS-GEC token: the Windows file time of now,
// rounded down to five minutes, hashed with the client token.
func generateSecMSGec(trustedClientToken string, now time.Time) string {
	ticks := float64(now.Unix()) + 11644473600
	ticks -= float64(int64(ticks) % 300)
	ticks *= 1e7

	strToHash := fmt.Sprintf("%.0f%s", ticks, trustedClientToken)

	hash := sha256.Sum256([]byte(strToHash))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

func (p *Provider) sendConfig(conn *websocket.Conn) error {
	configMsg := "Content-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n{\"context\":{\"synthesis\":{\"audio\":{\"metadataoptions\":{\"sentenceBoundaryEnabled\":\"false\",\"wordBoundaryEnabled\":\"false\"},\"outputFormat\":\"audio-24khz-48kbitrate-mono-mp3\"}}}}"
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configMsg)); err != nil {
		return fmt.Errorf("failed to send speech.config: %w", err)
	}
	return nil
}

func (p *Provider) sendSSML(conn *websocket.Conn, ssml, requestID string) error {
	ssmlMsg := fmt.Sprintf("X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nPath:ssml\r\n\r\n%s", requestID, ssml)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlMsg)); err != nil {
		return fmt.Errorf("failed to send ssml: %w", err)
	}
	return nil
}

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"\"", "&quot;",
	"'", "&apos;",
)

func buildSSML(voiceID, lang, text string, speed float64) string {
	if lang == "" {
		lang = "en-US"
	}
	body := ssmlEscaper.Replace(text)
	if speed > 0 && math.Abs(speed-1) >= 0.01 {
		body = fmt.Sprintf("<prosody rate='%+d%%'>%s</prosody>", int(math.Round((speed-1)*100)), body)
	}
	return fmt.Sprintf("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'><voice name='%s'>%s</voice></speak>", lang, voiceID, body)
}

func (p *Provider) consumeResponses(ctx context.Context, conn *websocket.Conn, w io.Writer) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				return nil
			}
		case websocket.BinaryMessage:
			if err := handleBinaryMessage(data, w); err != nil {
				return err
			}
		}
	}
}

// handleBinaryMessage strips the length-prefixed header and writes the audio.
func handleBinaryMessage(data []byte, w io.Writer) error {
	if len(data) < 2 {
		return nil
	}
	headerLength := int(uint16(data[0])<<8 | uint16(data[1]))
	if len(data) < 2+headerLength {
		return nil
	}
	audioData := data[2+headerLength:]
	if len(audioData) > 0 {
		if _, err := w.Write(audioData); err != nil {
			return fmt.Errorf("write audio data failed: %w", err)
		}
	}
	return nil
}

// Voices returns the built-in Edge catalog; the service has no authenticated listing.
func (p *Provider) Voices(ctx context.Context) ([]model.Voice, error) {
	return voice.EdgeVoices, nil
}
