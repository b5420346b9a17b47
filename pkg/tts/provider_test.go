package tts

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/model"
	"dubstudio/pkg/request"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		header     http.Header
		wantKind   model.ErrorKind
		wantCode   string
		retryAfter time.Duration
	}{
		{
			name:     "StructuredCodeWins",
			status:   http.StatusBadRequest,
			body:     `{"errorCode":"MODEL_NOT_FOUND","summary":"tts-x is gone"}`,
			wantKind: model.KindModelUnavailable,
			wantCode: "model_not_found",
		},
		{
			name:       "StructuredQuotaRetryAfter",
			status:     http.StatusTooManyRequests,
			body:       `{"errorCode":"quota_exceeded","summary":"daily quota used","retryAfterMs":4500}`,
			wantKind:   model.KindQuotaOrRateLimited,
			wantCode:   "quota_exceeded",
			retryAfter: 4500 * time.Millisecond,
		},
		{
			name:       "GoogleResourceExhausted",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"code":429,"message":"Resource has been exhausted. Please retry in 12s.","status":"RESOURCE_EXHAUSTED"}}`,
			wantKind:   model.KindQuotaOrRateLimited,
			wantCode:   "resource_exhausted",
			retryAfter: 12 * time.Second,
		},
		{
			name:     "GoogleInvalidKeyByText",
			status:   http.StatusBadRequest,
			body:     `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`,
			wantKind: model.KindAuthRejected,
			wantCode: "invalid_argument",
		},
		{
			name:     "StatusUnauthorized",
			status:   http.StatusUnauthorized,
			body:     "nope",
			wantKind: model.KindAuthRejected,
			wantCode: "http_401",
		},
		{
			name:       "Status429RetryAfterHeader",
			status:     http.StatusTooManyRequests,
			body:       "slow down",
			header:     http.Header{"Retry-After": []string{"30"}},
			wantKind:   model.KindQuotaOrRateLimited,
			wantCode:   "http_429",
			retryAfter: 30 * time.Second,
		},
		{
			name:     "StatusGone",
			status:   http.StatusGone,
			body:     "",
			wantKind: model.KindModelUnavailable,
			wantCode: "http_410",
		},
		{
			name:     "TextDeprecatedModel",
			status:   http.StatusBadRequest,
			body:     "The model tts-1 has been deprecated",
			wantKind: model.KindModelUnavailable,
			wantCode: "http_400",
		},
		{
			name:     "ServerErrorIsNetwork",
			status:   http.StatusInternalServerError,
			body:     "internal",
			wantKind: model.KindNetworkUnreachable,
			wantCode: "http_500",
		},
		{
			name:     "PlainOther",
			status:   http.StatusBadRequest,
			body:     "text contains unsupported characters",
			wantKind: model.KindOther,
			wantCode: "http_400",
		},
		{
			name:     "PoolUnconfiguredSignature",
			status:   http.StatusTooManyRequests,
			body:     "No API keys configured in shared pool",
			wantKind: model.KindAuthRejected,
			wantCode: CodePoolUnconfigured,
		},
		{
			name:     "PoolUnconfiguredCode",
			status:   http.StatusServiceUnavailable,
			body:     `{"errorCode":"pool_unconfigured","summary":"x"}`,
			wantKind: model.KindAuthRejected,
			wantCode: CodePoolUnconfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Classify("remote", tt.status, []byte(tt.body), tt.header)
			require.NotNil(t, e)
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantCode, e.Code)
			assert.Equal(t, tt.retryAfter, e.RetryAfter)
			assert.LessOrEqual(t, len([]rune(e.Message)), model.MaxMessageLen)
		})
	}

	assert.Nil(t, Classify("remote", http.StatusOK, nil, nil))
}

func TestClassify_TruncatesLongBodies(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	e := Classify("remote", http.StatusBadRequest, long, nil)
	assert.LessOrEqual(t, len([]rune(e.Message)), model.MaxMessageLen)
	assert.LessOrEqual(t, len([]rune(model.UserMessage(e))), model.MaxMessageLen)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		aborted  bool
		wantKind model.ErrorKind
	}{
		{"Cancelled", context.Canceled, true, model.KindOther},
		{"Deadline", context.DeadlineExceeded, false, model.KindNetworkUnreachable},
		{"DialError", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, false, model.KindNetworkUnreachable},
		{"ClientGaveUp", fmt.Errorf("%w: eof", request.ErrMaxRetries), false, model.KindNetworkUnreachable},
		{"Passthrough", model.NewError(model.KindValidation, "x", "y", nil), false, model.KindValidation},
		{"QuotaText", errors.New("rate limit reached, retry after 2s"), false, model.KindQuotaOrRateLimited},
		{"Unknown", errors.New("boom"), false, model.KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyError("gemini", tt.err)
			require.Error(t, err)
			assert.Equal(t, tt.aborted, model.IsAborted(err))
			if !tt.aborted {
				assert.Equal(t, tt.wantKind, model.KindOf(err))
			}
		})
	}

	assert.NoError(t, ClassifyError("gemini", nil))

	var me *model.Error
	require.True(t, errors.As(ClassifyError("gemini", errors.New("quota hit, retry in 2s")), &me))
	assert.Equal(t, 2*time.Second, me.RetryAfter)
}

func TestVerifyAudio(t *testing.T) {
	tests := []struct {
		name    string
		audio   *Audio
		wantErr bool
	}{
		{"Nil", nil, true},
		{"Empty", &Audio{}, true},
		{"TooSmall", &Audio{Data: make([]byte, 100)}, true},
		{"OK", &Audio{Data: make([]byte, MinAudioSize)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyAudio("fish-audio", tt.audio)
			if (err != nil) != tt.wantErr {
				t.Errorf("VerifyAudio() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToneHint(t *testing.T) {
	assert.Equal(t, "", ToneHint(model.EmotionNeutral, ""))
	assert.Equal(t, "[tone: sighing] ", ToneHint(model.EmotionSighing, ""))
	assert.Equal(t, "[tone: taunting, playful] I know.", WithToneHint("I know.", model.EmotionTaunting, "playful"))
	assert.Equal(t, "[tone: radio] Copy.", WithToneHint("Copy.", "", "radio"))
}

func TestParseDiagnostics(t *testing.T) {
	d, err := ParseDiagnostics(http.Header{})
	require.NoError(t, err)
	assert.Nil(t, d)

	h := http.Header{}
	h.Set(DiagnosticsHeader, `{"traceId":"t1","retryChunks":2,"qualityGuardRecoveries":1,"splitChunks":3,"recoveryUsed":true}`)
	d, err = ParseDiagnostics(h)
	require.NoError(t, err)
	assert.Equal(t, &model.Diagnostics{TraceID: "t1", RetryChunks: 2, QualityGuardRecoveries: 1, SplitChunks: 3, RecoveryUsed: true}, d)

	h.Set(DiagnosticsHeader, "{broken")
	_, err = ParseDiagnostics(h)
	assert.Error(t, err)
}

func TestLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "synthesis.log")
	SetLogPath(path)
	t.Cleanup(func() { SetLogPath("") })

	Log("gemini", "gemini-2.5-flash-preview-tts", "Rahul: I don't know.", 200, nil)
	Log("azure-speech", "", "Priya: Really?", 0, errors.New("boom"))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[gemini/gemini-2.5-flash-preview-tts] STATUS: 200")
	assert.Contains(t, string(content), "[azure-speech] STATUS: ERROR(boom)")
	assert.Contains(t, string(content), "Priya: Really?")
}
