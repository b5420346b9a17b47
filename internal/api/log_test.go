package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/logging"
)

func TestFormatLogLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "render line",
			input: `time=2026-01-18T06:50:46.074+01:00 level=INFO msg="Render finished" engine=gemini produced=8 total=10 trace=4b6f3c0e-8a7d-4bb1-9d8e-0f1d2c3b4a59`,
			want:  "06:50:46 Render finished (engine=gemini, produced=8, total=10)",
		},
		{
			name:  "no params",
			input: `time=2026-01-18T06:50:46Z level=WARN msg=Idle`,
			want:  "06:50:46 Idle",
		},
		{
			name:  "not structured",
			input: "plain text",
			want:  "plain text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatLogLine(tt.input))
		})
	}
}

func TestHandleLatestLog(t *testing.T) {
	_, _ = logging.GlobalLogCapture.Write([]byte(`time=2026-01-18T06:50:46Z level=INFO msg="Job queued" job=abc`))
	_, _ = logging.GlobalEventCapture.Write([]byte(`{"type":"job","outcome":"done"}`))

	rec := httptest.NewRecorder()
	handleLatestLog(rec, httptest.NewRequest(http.MethodGet, "/api/log/latest?lines=1&events=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp logResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "06:50:46 Job queued (job=abc)", resp.Log)
	assert.Equal(t, []string{resp.Log}, resp.Lines)
	assert.Equal(t, []string{`{"type":"job","outcome":"done"}`}, resp.Events)
}
