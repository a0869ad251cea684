// Package engine implements the synthesis engine contract against a
// standalone voice-cloning HTTP service. The service holds the neural
// models; this package handles the API contract, payload encoding, and
// the state round-trip.
package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/voiceforge-service/internal/audio"
	"github.com/book-expert/voiceforge-service/internal/core"
)

// API endpoints and paths.
const (
	apiDeriveState = "/v1/voice/state"
	apiSynthesize  = "/v1/generate/pcm"
	apiHealth      = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// DefaultSampleRate is the rate the service produces when the config does
// not override it.
const DefaultSampleRate = 24000

// Error messages.
const (
	errReceivedEmptyAudio      = "received empty audio data"
	errReceivedEmptyState      = "received empty voice state"
	errFmtServiceErrorWithCode = "engine service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "engine service returned non-OK status: %s, body: %s"
)

// HTTPEngine talks to the voice-cloning service over HTTP. It implements
// the core.Engine contract: speaker states are derived from reference audio
// and passed back on every synthesis call, and the service's updated state
// is written into the caller's state after each call.
type HTTPEngine struct {
	httpClient *http.Client
	baseURL    string
	sampleRate int
}

// deriveStateRequest asks the service to compute speaker conditioning from
// a server-visible reference recording.
type deriveStateRequest struct {
	AudioPath string `json:"audio_path"`
}

type deriveStateResponse struct {
	State string `json:"state"`
}

// synthesizeRequest carries one chunk of text plus the speaker state it
// should be rendered with.
type synthesizeRequest struct {
	Text  string `json:"text"`
	State string `json:"state"`
}

// synthesizeResponse returns WAV audio and the advanced speaker state, both
// base64-encoded.
type synthesizeResponse struct {
	Audio string `json:"audio"`
	State string `json:"state"`
}

// errorResponse is the service's structured error body.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPEngine creates an engine client for the service at baseURL.
// The baseURL should include the protocol and port (e.g., "http://localhost:8000").
// The timeout applies to all HTTP requests made by this client.
func NewHTTPEngine(baseURL string, timeout time.Duration, sampleRate int) *HTTPEngine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	return &HTTPEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		sampleRate: sampleRate,
	}
}

// SampleRate reports the output rate of the service's synthesis head.
func (e *HTTPEngine) SampleRate() int {
	return e.sampleRate
}

// DeriveState computes a speaker state from a reference recording. The
// returned state is an opaque payload owned by the service; callers persist
// the reference audio, never this state.
func (e *HTTPEngine) DeriveState(ctx context.Context, audioPath string) (*core.VoiceState, error) {
	if audioPath == "" {
		return nil, fmt.Errorf("%w: reference audio path cannot be empty", core.ErrInvalidInput)
	}

	var response deriveStateResponse

	err := e.postJSON(ctx, apiDeriveState, deriveStateRequest{AudioPath: audioPath}, &response)
	if err != nil {
		return nil, fmt.Errorf("%w: derive state: %w", core.ErrEngineFailure, err)
	}

	payload, err := base64.StdEncoding.DecodeString(response.State)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode voice state: %w", core.ErrEngineFailure, err)
	}

	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrEngineFailure, errReceivedEmptyState)
	}

	return &core.VoiceState{Payload: payload}, nil
}

// Synthesize renders text with the given speaker state and returns decoded
// PCM. The service advances the state as part of generation; the updated
// payload is written back into state, so callers who need a pristine state
// must pass a copy.
func (e *HTTPEngine) Synthesize(
	ctx context.Context,
	state *core.VoiceState,
	text string,
) (*audio.Buffer, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", core.ErrInvalidInput)
	}

	if state == nil || len(state.Payload) == 0 {
		return nil, fmt.Errorf("%w: voice state cannot be empty", core.ErrInvalidInput)
	}

	request := synthesizeRequest{
		Text:  text,
		State: base64.StdEncoding.EncodeToString(state.Payload),
	}

	var response synthesizeResponse

	err := e.postJSON(ctx, apiSynthesize, request, &response)
	if err != nil {
		return nil, fmt.Errorf("%w: synthesize: %w", core.ErrEngineFailure, err)
	}

	wavData, err := base64.StdEncoding.DecodeString(response.Audio)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode audio: %w", core.ErrEngineFailure, err)
	}

	if len(wavData) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrEngineFailure, errReceivedEmptyAudio)
	}

	buffer, err := audio.ReadWAV(bytes.NewReader(wavData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse engine audio: %w", core.ErrEngineFailure, err)
	}

	updated, err := base64.StdEncoding.DecodeString(response.State)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode updated state: %w", core.ErrEngineFailure, err)
	}

	if len(updated) > 0 {
		state.Payload = updated
	}

	return buffer, nil
}

// HealthCheck verifies that the synthesis service is running and
// operational. Callers should perform it before accepting workloads to
// fail fast when the service is down.
func (e *HTTPEngine) HealthCheck(ctx context.Context) error {
	url := e.baseURL + apiHealth

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf(
			"health check failed for service at %s: %w",
			e.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// postJSON sends a JSON request to path and decodes a JSON response into
// out. Non-OK statuses are converted into structured errors.
func (e *HTTPEngine) postJSON(ctx context.Context, path string, in, out any) error {
	requestBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := e.baseURL + path

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		url,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf(
			"failed to send request to engine service at %s: %w",
			e.baseURL,
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.parseErrorResponse(resp)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("failed to decode engine response: %w", err)
	}

	return nil
}

// parseErrorResponse attempts to decode a structured JSON error from the
// service. If structured parsing fails, it falls back to the raw response
// body so diagnostic information is preserved.
func (e *HTTPEngine) parseErrorResponse(resp *http.Response) error {
	var errorResp errorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf(errFmtServiceErrorWithCode,
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf(
		errFmtServiceNonOKStatus,
		resp.Status,
		string(body),
	)
}

// Verify the engine satisfies the core contract at compile time.
var _ core.Engine = (*HTTPEngine)(nil)
