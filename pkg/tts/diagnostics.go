package tts

import (
	"encoding/json"
	"fmt"
	"net/http"

	"dubstudio/pkg/model"
)

// DiagnosticsHeader carries backend-side diagnostics as JSON.
const DiagnosticsHeader = "X-Synthesis-Diagnostics"

type headerDiagnostics struct {
	TraceID                string `json:"traceId"`
	RetryChunks            int    `json:"retryChunks"`
	QualityGuardRecoveries int    `json:"qualityGuardRecoveries"`
	SplitChunks            int    `json:"splitChunks"`
	RecoveryUsed           bool   `json:"recoveryUsed"`
}

// ParseDiagnostics reads the diagnostics header. A missing header yields nil, nil.
func ParseDiagnostics(h http.Header) (*model.Diagnostics, error) {
	raw := h.Get(DiagnosticsHeader)
	if raw == "" {
		return nil, nil
	}
	var d headerDiagnostics
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", DiagnosticsHeader, err)
	}
	return &model.Diagnostics{
		TraceID:                d.TraceID,
		RetryChunks:            d.RetryChunks,
		QualityGuardRecoveries: d.QualityGuardRecoveries,
		SplitChunks:            d.SplitChunks,
		RecoveryUsed:           d.RecoveryUsed,
	}, nil
}
