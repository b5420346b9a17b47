package sapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"dubstudio/pkg/audio"
	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/tts"
	"dubstudio/pkg/voice"
)

// ErrUnsupported is returned by NewProvider off Windows.
var ErrUnsupported = errors.New("windows SAPI is only available on Windows")

// Provider implements tts.Provider using Windows SAPI5 via OLE.
// SAPI objects are not safe for concurrent use, so calls are serialized.
type Provider struct {
	mu      sync.Mutex
	voiceID string
	tmpDir  string
}

// NewProvider creates a new SAPI5 provider.
func NewProvider(cfg config.SAPIConfig) (*Provider, error) {
	if runtime.GOOS != "windows" {
		return nil, ErrUnsupported
	}
	return &Provider{voiceID: cfg.Voice, tmpDir: os.TempDir()}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return voice.EngineSAPI }

// sapiRate maps a speed multiplier onto SAPI's -10..10 rate scale.
func sapiRate(speed float64) int {
	if speed <= 0 {
		return 0
	}
	r := int(math.Round((speed - 1) * 10))
	if r < -10 {
		return -10
	}
	if r > 10 {
		return 10
	}
	return r
}

func initCOM() func() {
	if err := ole.CoInitialize(0); err != nil {
		// Already initialized on this thread.
		return func() {}
	}
	return ole.CoUninitialize
}

func newDispatch(progID string) (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject(progID)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", progID, err)
	}
	d, err := unknown.QueryInterface(ole.IID_IDispatch)
	unknown.Release()
	if err != nil {
		return nil, fmt.Errorf("QueryInterface %s failed: %w", progID, err)
	}
	return d, nil
}

// Synthesize renders to a temporary WAV file and returns its bytes.
func (p *Provider) Synthesize(ctx context.Context, req *model.SynthesisRequest) (*tts.Audio, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.Aborted(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer initCOM()()

	sp, err := newDispatch("SAPI.SpVoice")
	if err != nil {
		return nil, model.NewError(model.KindModelUnavailable, "sapi_unavailable", "SAPI voice could not be created", err)
	}
	defer sp.Release()

	vid := req.VoiceID
	if vid == "" {
		vid = p.voiceID
	}
	if vid != "" {
		p.setVoiceByID(sp, vid)
	}
	if r := sapiRate(req.Speed); r != 0 {
		_, _ = oleutil.PutProperty(sp, "Rate", int32(r))
	}

	stream, err := newDispatch("SAPI.SpFileStream")
	if err != nil {
		return nil, model.NewError(model.KindModelUnavailable, "sapi_unavailable", "SAPI file stream could not be created", err)
	}
	defer stream.Release()

	f, err := os.CreateTemp(p.tmpDir, "dubstudio-sapi-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	path := filepath.Clean(f.Name())
	f.Close()
	defer os.Remove(path)

	if _, err := oleutil.CallMethod(stream, "Open", path, 3, false); err != nil {
		return nil, fmt.Errorf("stream Open failed: %w", err)
	}
	if _, err := oleutil.PutPropertyRef(sp, "AudioOutputStream", stream); err != nil {
		_, _ = oleutil.CallMethod(stream, "Close")
		return nil, fmt.Errorf("failed to set AudioOutputStream: %w", err)
	}

	_, err = oleutil.CallMethod(sp, "Speak", req.Text, 0)
	_, _ = oleutil.CallMethod(stream, "Close")
	if err != nil {
		tts.Log(p.Name(), "", req.Text, 0, err)
		return nil, model.NewError(model.KindOther, "sapi_speak", "SAPI Speak failed", err)
	}
	tts.Log(p.Name(), "", req.Text, 200, nil)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SAPI output: %w", err)
	}
	return &tts.Audio{Data: data, Encoding: audio.EncodingWAV}, nil
}

// Voices lists installed SAPI voice tokens.
func (p *Provider) Voices(ctx context.Context) ([]model.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer initCOM()()

	sp, err := newDispatch("SAPI.SpVoice")
	if err != nil {
		return nil, err
	}
	defer sp.Release()

	tokensVar, err := oleutil.CallMethod(sp, "GetVoices")
	if err != nil {
		tokensVar, err = oleutil.GetProperty(sp, "Voices")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get voices collection: %w", err)
	}
	tokens := tokensVar.ToIDispatch()
	if tokens == nil {
		return nil, fmt.Errorf("voices collection is nil")
	}
	defer tokens.Release()

	countVar, err := oleutil.GetProperty(tokens, "Count")
	if err != nil {
		return nil, fmt.Errorf("GetVoices Count failed: %w", err)
	}
	count := getVariantInt(countVar)

	voices := make([]model.Voice, 0, count)
	for i := 0; i < count; i++ {
		itemVar, err := oleutil.CallMethod(tokens, "Item", i)
		if err != nil {
			continue
		}
		item := itemVar.ToIDispatch()
		if item == nil {
			continue
		}
		if v, ok := extractVoice(item); ok {
			voices = append(voices, v)
		}
		item.Release()
	}
	return voices, nil
}

func getVariantInt(v *ole.VARIANT) int {
	val := v.Value()
	if val == nil {
		return int(v.Val)
	}
	switch it := val.(type) {
	case int32:
		return int(it)
	case int64:
		return int(it)
	case int:
		return it
	case uint32:
		return int(it)
	default:
		return int(v.Val)
	}
}

func extractVoice(item *ole.IDispatch) (model.Voice, bool) {
	idVar, idErr := oleutil.CallMethod(item, "GetId")
	descVar, descErr := oleutil.CallMethod(item, "GetDescription", int32(0))
	if idErr != nil || descErr != nil || idVar == nil || descVar == nil {
		return model.Voice{}, false
	}
	v := model.Voice{
		ID:     idVar.ToString(),
		Engine: voice.EngineSAPI,
		Name:   descVar.ToString(),
		Gender: model.GenderUnknown,
	}
	if g, err := oleutil.CallMethod(item, "GetAttribute", "Gender"); err == nil && g != nil {
		v.Gender = parseGender(g.ToString())
	}
	return v, true
}

func parseGender(s string) model.Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "female":
		return model.GenderFemale
	case "male":
		return model.GenderMale
	}
	return model.GenderUnknown
}

func (p *Provider) setVoiceByID(sp *ole.IDispatch, voiceID string) {
	tokensVar, err := oleutil.CallMethod(sp, "GetVoices", "", "")
	if err != nil {
		return
	}
	tokens := tokensVar.ToIDispatch()
	if tokens == nil {
		return
	}
	defer tokens.Release()

	_ = oleutil.ForEach(tokens, func(v *ole.VARIANT) error {
		item := v.ToIDispatch()
		if item == nil {
			return nil
		}
		defer item.Release()
		idVar, _ := oleutil.CallMethod(item, "GetId")
		if idVar != nil && idVar.ToString() == voiceID {
			_, _ = oleutil.PutPropertyRef(sp, "Voice", item)
		}
		return nil
	})
}
