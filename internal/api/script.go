package api

import (
	"net/http"

	"dubstudio/pkg/model"
	"dubstudio/pkg/script"
)

// ScriptHandler exposes the parser and formatter.
type ScriptHandler struct {
	parser *script.Parser
}

// NewScriptHandler creates a handler.
func NewScriptHandler(p *script.Parser) *ScriptHandler {
	return &ScriptHandler{parser: p}
}

type parseRequest struct {
	Script     string `json:"script"`
	SourceText string `json:"sourceText,omitempty"`
}

type parseResponse struct {
	Segments   []model.Segment `json:"segments"`
	Speakers   []string        `json:"speakers"`
	Attributed int             `json:"attributed"`
	Canonical  string          `json:"canonical"`
}

// HandleParse turns a script into segments.
func (h *ScriptHandler) HandleParse(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	segs := h.parser.Parse(req.Script)
	attributed := h.parser.Attribute(segs, req.SourceText)
	if segs == nil {
		segs = []model.Segment{}
	}
	writeJSON(w, http.StatusOK, parseResponse{
		Segments:   segs,
		Speakers:   model.Speakers(segs),
		Attributed: attributed,
		Canonical:  script.Format(segs),
	})
}

type formatRequest struct {
	Segments []model.Segment `json:"segments"`
}

type formatResponse struct {
	Script string `json:"script"`
}

// HandleFormat renders segments back to the canonical script text.
func (h *ScriptHandler) HandleFormat(w http.ResponseWriter, r *http.Request) {
	var req formatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, formatResponse{Script: script.Format(req.Segments)})
}
