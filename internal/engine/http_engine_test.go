package engine_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voiceforge-service/internal/audio"
	"github.com/book-expert/voiceforge-service/internal/core"
	"github.com/book-expert/voiceforge-service/internal/engine"
)

const (
	testRate    = 8000
	testTimeout = 5 * time.Second
)

// wavBytes encodes a short tone as WAV data for synthesis responses.
func wavBytes(t *testing.T) []byte {
	t.Helper()

	buffer := &audio.Buffer{Samples: make([]float64, testRate/10), SampleRate: testRate}
	for i := range buffer.Samples {
		buffer.Samples[i] = 0.25
	}

	path := filepath.Join(t.TempDir(), "response.wav")

	err := audio.WriteWAVFile(path, buffer)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}

func newTestServer(t *testing.T, wav []byte) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/v1/voice/state", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AudioPath string `json:"audio_path"`
		}

		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"state": base64.StdEncoding.EncodeToString([]byte("state-for:" + req.AudioPath)),
		})
	})

	mux.HandleFunc("/v1/generate/pcm", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text  string `json:"text"`
			State string `json:"state"`
		}

		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)

		_ = json.NewEncoder(w).Encode(map[string]string{
			"audio": base64.StdEncoding.EncodeToString(wav),
			"state": base64.StdEncoding.EncodeToString([]byte("advanced")),
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func TestHTTPEngine_DeriveState(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, wavBytes(t))
	httpEngine := engine.NewHTTPEngine(server.URL, testTimeout, testRate)

	state, err := httpEngine.DeriveState(context.Background(), "/refs/sample.wav")
	require.NoError(t, err)

	assert.Equal(t, []byte("state-for:/refs/sample.wav"), state.Payload)
}

func TestHTTPEngine_DeriveState_EmptyPath(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, wavBytes(t))
	httpEngine := engine.NewHTTPEngine(server.URL, testTimeout, testRate)

	_, err := httpEngine.DeriveState(context.Background(), "")
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestHTTPEngine_Synthesize(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, wavBytes(t))
	httpEngine := engine.NewHTTPEngine(server.URL, testTimeout, testRate)

	state := &core.VoiceState{Payload: []byte("pristine")}

	buffer, err := httpEngine.Synthesize(context.Background(), state, "Hello.")
	require.NoError(t, err)

	assert.Equal(t, testRate, buffer.SampleRate)
	assert.Len(t, buffer.Samples, testRate/10)

	assert.Equal(t, []byte("advanced"), state.Payload,
		"the service's updated state must be written back into the caller's state")
}

func TestHTTPEngine_Synthesize_EmptyText(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, wavBytes(t))
	httpEngine := engine.NewHTTPEngine(server.URL, testTimeout, testRate)

	_, err := httpEngine.Synthesize(
		context.Background(), &core.VoiceState{Payload: []byte("s")}, "",
	)
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestHTTPEngine_Synthesize_EmptyState(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, wavBytes(t))
	httpEngine := engine.NewHTTPEngine(server.URL, testTimeout, testRate)

	_, err := httpEngine.Synthesize(context.Background(), nil, "Hello.")
	require.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestHTTPEngine_Synthesize_ServiceError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/generate/pcm", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"detail":     "text too long",
			"error_code": "TEXT_TOO_LONG",
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	httpEngine := engine.NewHTTPEngine(server.URL, testTimeout, testRate)

	_, err := httpEngine.Synthesize(
		context.Background(), &core.VoiceState{Payload: []byte("s")}, "Hello.",
	)
	require.ErrorIs(t, err, core.ErrEngineFailure)
	assert.Contains(t, err.Error(), "text too long")
	assert.Contains(t, err.Error(), "TEXT_TOO_LONG")
}

func TestHTTPEngine_HealthCheck(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, wavBytes(t))
	httpEngine := engine.NewHTTPEngine(server.URL, testTimeout, testRate)

	err := httpEngine.HealthCheck(context.Background())
	require.NoError(t, err)
}

func TestHTTPEngine_HealthCheck_Down(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	httpEngine := engine.NewHTTPEngine(server.URL, testTimeout, testRate)

	err := httpEngine.HealthCheck(context.Background())
	require.Error(t, err)
}

func TestHTTPEngine_SampleRate(t *testing.T) {
	t.Parallel()

	httpEngine := engine.NewHTTPEngine("http://localhost:1", testTimeout, 0)

	assert.Equal(t, engine.DefaultSampleRate, httpEngine.SampleRate())
}
