package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dubstudio/pkg/config"
	"dubstudio/pkg/tracker"
)

func testConfig(retries, concurrency int) config.RequestConfig {
	return config.RequestConfig{
		Retries:     retries,
		Timeout:     config.Duration(5 * time.Second),
		Concurrency: concurrency,
		Backoff: config.BackoffConfig{
			BaseDelay: config.Duration(time.Millisecond),
			MaxDelay:  config.Duration(5 * time.Millisecond),
		},
	}
}

func TestDo_ConcurrencyLimit(t *testing.T) {
	var conc, peak int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&conc, 1)
		defer atomic.AddInt32(&conc, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if current <= p || atomic.CompareAndSwapInt32(&peak, p, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	client := New(testConfig(1, 2), nil)

	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			resp, err := client.Get(context.Background(), svr.URL, nil)
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			if !resp.OK() {
				t.Errorf("unexpected status %d", resp.Status)
			}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestDo_RetryTransient(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(testConfig(3, 1), tr)

	resp, err := client.Get(context.Background(), svr.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, "success", string(resp.Body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	var retries int64
	for _, s := range tr.Snapshot() {
		retries += s.Retries
	}
	assert.Equal(t, int64(2), retries)
}

func TestDo_StatusPassthrough(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		wantAttempts int32
	}{
		{"RateLimitNotRetried", http.StatusTooManyRequests, 1},
		{"AuthNotRetried", http.StatusUnauthorized, 1},
		{"GatewayRetriedThenReturned", http.StatusBadGateway, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts int32
			svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer svr.Close()

			client := New(testConfig(3, 1), nil)
			resp, err := client.Post(context.Background(), svr.URL, []byte("x"), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)
			assert.False(t, resp.OK())
			assert.Equal(t, "7", resp.Header.Get("Retry-After"))
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
		})
	}
}

func TestPostJSON(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "DubStudio/")
		_, _ = w.Write([]byte("{}"))
	}))
	defer svr.Close()

	client := New(testConfig(1, 1), nil)
	resp, err := client.PostJSON(context.Background(), svr.URL, map[string]string{"text": "hi"}, map[string]string{"Authorization": "Bearer k"})
	require.NoError(t, err)
	assert.True(t, resp.OK())
}

func TestDo_TransportFailure(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	u := svr.URL
	svr.Close()

	client := New(testConfig(2, 1), nil)
	_, err := client.Get(context.Background(), u, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMaxRetries))
}

func TestDo_ContextCancelled(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer svr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	client := New(testConfig(3, 1), nil)
	_, err := client.Get(ctx, svr.URL, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNormalizeProvider(t *testing.T) {
	tests := []struct {
		host     string
		expected string
	}{
		{"generativelanguage.googleapis.com", "gemini"},
		{"westeurope.tts.speech.microsoft.com", "azure-speech"},
		{"speech.platform.bing.com", "edge-tts"},
		{"api.fish.audio", "fish-audio"},
		{"127.0.0.1:8080", "127.0.0.1"},
		{"other.com", "other.com"},
	}

	for _, tt := range tests {
		got := normalizeProvider(tt.host)
		if got != tt.expected {
			t.Errorf("normalizeProvider(%q) = %q; want %q", tt.host, got, tt.expected)
		}
	}
}
