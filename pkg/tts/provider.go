package tts

import (
	"context"
	"fmt"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/model"
)

const (
	// MinAudioSize is the minimum size of a synthesized payload (1KB).
	// Anything smaller is a failed synthesis that the engine reported as success.
	MinAudioSize = 1024
)

// Audio is the encoded result of one synthesis call.
type Audio struct {
	Data     []byte
	Encoding audio.Encoding
	// SampleRate and Channels are set for headerless PCM.
	SampleRate int
	Channels   int
	// Model is the engine model that produced the clip, if the engine has models.
	Model string
	// Diagnostics is set when the backend reports them.
	Diagnostics *model.Diagnostics
}

// Payload converts the clip for decoding.
func (a *Audio) Payload() audio.Payload {
	return audio.Payload{Data: a.Data, Encoding: a.Encoding, SampleRate: a.SampleRate, Channels: a.Channels}
}

// Provider defines the interface for Text-To-Speech engines.
type Provider interface {
	// Name is the engine id (gemini, azure-speech, ...).
	Name() string

	// Synthesize renders one request. Failures are *model.Error values.
	Synthesize(ctx context.Context, req *model.SynthesisRequest) (*Audio, error)

	// Voices returns the voice catalog of the engine.
	Voices(ctx context.Context) ([]model.Voice, error)
}

// MultiSpeaker is implemented by engines that accept a speaker-to-voice map
// and a line-indexed script in one call.
type MultiSpeaker interface {
	SupportsMultiSpeaker() bool
}

// ModelLister is implemented by engines that expose a model catalog.
type ModelLister interface {
	Models(ctx context.Context) ([]string, error)
}

// SupportsMultiSpeaker reports whether p advertises native multi-speaker requests.
func SupportsMultiSpeaker(p Provider) bool {
	m, ok := p.(MultiSpeaker)
	return ok && m.SupportsMultiSpeaker()
}

// VerifyAudio rejects empty or truncated payloads.
func VerifyAudio(engine string, a *Audio) error {
	if a == nil || len(a.Data) == 0 {
		return model.NewError(model.KindOther, "empty_audio", engine+" returned no audio", nil)
	}
	if len(a.Data) < MinAudioSize {
		return model.NewError(model.KindOther, "short_audio",
			fmt.Sprintf("%s returned %d bytes of audio, expected at least %d", engine, len(a.Data), MinAudioSize), nil)
	}
	return nil
}

// Credentialed is implemented by engines whose model catalog depends on the
// credential in use. The id must not reveal the credential.
type Credentialed interface {
	CredentialID() string
}

// SpeakerLimiter is implemented by multi-speaker engines with a speaker cap.
type SpeakerLimiter interface {
	MaxSpeakers() int
}
