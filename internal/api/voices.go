package api

import (
	"net/http"
	"slices"

	"dubstudio/pkg/model"
	"dubstudio/pkg/script"
	"dubstudio/pkg/voice"
)

// VoiceHandler serves engine catalogs and voice resolution.
type VoiceHandler struct {
	resolver *voice.Resolver
	engines  []string
	active   string
}

// NewVoiceHandler creates a handler. active is the engine used when a request names none.
func NewVoiceHandler(r *voice.Resolver, engines []string, active string) *VoiceHandler {
	return &VoiceHandler{resolver: r, engines: engines, active: active}
}

func (h *VoiceHandler) engine(name string) (string, error) {
	if name == "" {
		name = h.active
	}
	if len(h.engines) > 0 && !slices.Contains(h.engines, name) {
		return "", model.NewError(model.KindValidation, "unknown_engine", "engine "+name+" is not available", nil)
	}
	return name, nil
}

type voiceListResponse struct {
	Engine string        `json:"engine"`
	Voices []model.Voice `json:"voices"`
}

// HandleList returns an engine catalog, optionally narrowed to voices that
// suit a language (its own plus multilingual ones).
func (h *VoiceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	engine, err := h.engine(q.Get("engine"))
	if err != nil {
		writeError(w, err)
		return
	}
	lang := q.Get("lang")
	voices := []model.Voice{}
	for _, v := range h.resolver.Catalog(engine) {
		if lang != "" && voice.BucketOf(&v, lang) == voice.BucketOther {
			continue
		}
		voices = append(voices, v)
	}
	writeJSON(w, http.StatusOK, voiceListResponse{Engine: engine, Voices: voices})
}

type resolveRequest struct {
	Speakers []string          `json:"speakers"`
	Script   string            `json:"script,omitempty"`
	Engine   string            `json:"engine,omitempty"`
	Language string            `json:"language,omitempty"`
	Voices   map[string]string `json:"voices,omitempty"`
}

type resolveResponse struct {
	Engine string            `json:"engine"`
	Voices map[string]string `json:"voices"`
}

// HandleResolve assigns a voice to every speaker. Speakers may be given
// directly or taken from a script.
func (h *VoiceHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	engine, err := h.engine(req.Engine)
	if err != nil {
		writeError(w, err)
		return
	}
	speakers := req.Speakers
	if len(speakers) == 0 && req.Script != "" {
		speakers = model.Speakers(script.Parse(req.Script))
	}
	if len(speakers) == 0 {
		writeError(w, model.NewError(model.KindValidation, "no_speakers", "no speakers to resolve", nil))
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{
		Engine: engine,
		Voices: h.resolver.ResolveAll(speakers, engine, req.Language, req.Voices),
	})
}
