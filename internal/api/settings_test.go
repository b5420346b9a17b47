package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/config"
	"dubstudio/pkg/voice"
)

type memState struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memState) GetState(ctx context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memState) SetState(ctx context.Context, key, val string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = val
	return nil
}

func (m *memState) DeleteState(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func settingsServer(t *testing.T, jobs JobManager) (*httptest.Server, *memState) {
	t.Helper()
	st := &memState{data: map[string]string{}}
	cfg := config.DefaultConfig()
	prov := config.NewProvider(cfg, st)
	engines := []string{voice.EngineGemini, voice.EngineRemote}

	srv := NewServer("", Handlers{
		Jobs:     NewJobsHandler(jobs, engines).WithDefaults(prov),
		Settings: NewSettingsHandler(st, prov, engines),
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts, st
}

func TestSettingsEndpoints(t *testing.T) {
	ts, st := settingsServer(t, newFakeJobs())

	resp, body := do(t, http.MethodGet, ts.URL+"/api/settings", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got SettingsDTO
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "gemini", *got.ActiveEngine)
	assert.Equal(t, "auto", *got.DefaultMode)
	assert.InDelta(t, 1.0, *got.DefaultSpeed, 1e-9)

	resp, body = do(t, http.MethodPut, ts.URL+"/api/settings", `{"activeEngine":"remote","defaultLanguage":"hi-IN","defaultSpeed":1.1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "remote", *got.ActiveEngine)
	assert.Equal(t, "hi-IN", *got.DefaultLanguage)
	assert.Equal(t, "auto", *got.DefaultMode, "omitted fields are unchanged")
	speed, _ := st.GetState(context.Background(), config.KeyDefaultSpeed)
	assert.Equal(t, "1.1", speed)

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/settings", `{"defaultLanguage":""}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, ok := st.GetState(context.Background(), config.KeyDefaultLanguage)
	assert.False(t, ok, "an empty value clears the setting")
}

func TestSettingsEndpoints_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"UnknownEngine", `{"defaultLanguage":"de-DE","activeEngine":"azure-speech"}`, "unknown_engine"},
		{"BadMode", `{"defaultLanguage":"de-DE","defaultMode":"karaoke"}`, "bad_mode"},
		{"BadSpeed", `{"defaultLanguage":"de-DE","defaultSpeed":3}`, "bad_speed"},
		{"BadJSON", `{"defaultLanguage":`, "bad_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, st := settingsServer(t, newFakeJobs())
			resp, body := do(t, http.MethodPut, ts.URL+"/api/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e errorResponse
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tt.code, e.Code)
			_, ok := st.GetState(context.Background(), config.KeyDefaultLanguage)
			assert.False(t, ok, "nothing is written when a field is invalid")
		})
	}
}

func TestJobsEndpoints_Defaults(t *testing.T) {
	jobs := newFakeJobs()
	ts, st := settingsServer(t, jobs)
	ctx := context.Background()
	require.NoError(t, st.SetState(ctx, config.KeyActiveEngine, voice.EngineRemote))
	require.NoError(t, st.SetState(ctx, config.KeyDefaultLanguage, "hi-IN"))
	require.NoError(t, st.SetState(ctx, config.KeyDefaultMode, "segmented"))

	resp, body := do(t, http.MethodPost, ts.URL+"/api/jobs", `{"script":"Rahul: Hi.","language":"en-US"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	require.Len(t, jobs.submitted, 1)
	req := jobs.submitted[0]
	assert.Equal(t, voice.EngineRemote, req.Engine)
	assert.Equal(t, "en-US", req.Language, "request values win")
	assert.Equal(t, "segmented", string(req.Mode))
	assert.InDelta(t, 1.0, req.Speed, 1e-9)

	// A stored engine that is no longer available is ignored.
	require.NoError(t, st.SetState(ctx, config.KeyActiveEngine, voice.EngineAzure))
	resp, _ = do(t, http.MethodPost, ts.URL+"/api/jobs", `{"script":"Rahul: Hi."}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, jobs.submitted, 2)
	assert.Empty(t, jobs.submitted[1].Engine)
}
