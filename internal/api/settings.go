package api

import (
	"net/http"
	"slices"
	"strconv"

	"dubstudio/pkg/config"
	"dubstudio/pkg/model"
	"dubstudio/pkg/orchestrator"
	"dubstudio/pkg/store"
)

// SettingsHandler reads and writes the persisted render defaults.
type SettingsHandler struct {
	store   store.StateStore
	prov    config.Provider
	engines []string
}

func NewSettingsHandler(st store.StateStore, prov config.Provider, engines []string) *SettingsHandler {
	return &SettingsHandler{store: st, prov: prov, engines: engines}
}

// SettingsDTO is the settings payload. Omitted fields are left unchanged on PUT.
type SettingsDTO struct {
	ActiveEngine    *string  `json:"activeEngine,omitempty"`
	DefaultLanguage *string  `json:"defaultLanguage,omitempty"`
	DefaultMode     *string  `json:"defaultMode,omitempty"`
	DefaultSpeed    *float64 `json:"defaultSpeed,omitempty"`
}

func (h *SettingsHandler) current(r *http.Request) SettingsDTO {
	ctx := r.Context()
	engine := h.prov.ActiveEngine(ctx)
	lang := h.prov.DefaultLanguage(ctx)
	mode := h.prov.DefaultMode(ctx)
	speed := h.prov.DefaultSpeed(ctx)
	return SettingsDTO{ActiveEngine: &engine, DefaultLanguage: &lang, DefaultMode: &mode, DefaultSpeed: &speed}
}

func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current(r))
}

// HandlePut validates every field before writing any of them.
func (h *SettingsHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	updates := map[string]string{}
	if req.ActiveEngine != nil {
		if !slices.Contains(h.engines, *req.ActiveEngine) {
			writeError(w, model.NewError(model.KindValidation, "unknown_engine", "engine "+strconv.Quote(*req.ActiveEngine)+" is not available", nil))
			return
		}
		updates[config.KeyActiveEngine] = *req.ActiveEngine
	}
	if req.DefaultLanguage != nil {
		updates[config.KeyDefaultLanguage] = *req.DefaultLanguage
	}
	if req.DefaultMode != nil {
		switch orchestrator.Mode(*req.DefaultMode) {
		case orchestrator.ModeAuto, orchestrator.ModeSegmented, orchestrator.ModeMultiSpeaker:
		default:
			writeError(w, model.NewError(model.KindValidation, "bad_mode", "mode must be auto, segmented or multi-speaker", nil))
			return
		}
		updates[config.KeyDefaultMode] = *req.DefaultMode
	}
	if req.DefaultSpeed != nil {
		if *req.DefaultSpeed < 0.5 || *req.DefaultSpeed > 2 {
			writeError(w, model.NewError(model.KindValidation, "bad_speed", "speed must be within 0.5 and 2", nil))
			return
		}
		updates[config.KeyDefaultSpeed] = strconv.FormatFloat(*req.DefaultSpeed, 'f', -1, 64)
	}

	for _, key := range config.SettingKeys {
		val, ok := updates[key]
		if !ok {
			continue
		}
		var err error
		if val == "" {
			err = h.store.DeleteState(r.Context(), key)
		} else {
			err = h.store.SetState(r.Context(), key, val)
		}
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.current(r))
}
