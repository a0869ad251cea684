// Package core defines the capability contracts and shared types for the
// voiceforge service.
package core

import (
	"context"
	"errors"

	"github.com/book-expert/voiceforge-service/internal/audio"
)

// Service-wide error taxonomy. Handlers map these to structured replies;
// everything else is reported as a generic internal failure.
var (
	// ErrInvalidInput indicates a request the caller must fix (bad format,
	// empty text, audio too short).
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound indicates a missing voice model, audio file, or output id.
	ErrNotFound = errors.New("not found")
	// ErrUnboundSpeaker indicates a script speaker with no voice model
	// assigned. Raised before any synthesis work starts.
	ErrUnboundSpeaker = errors.New("speaker not bound to a voice model")
	// ErrEngineFailure indicates the external synthesis engine failed.
	// Never retried automatically.
	ErrEngineFailure = errors.New("synthesis engine failure")
)

// VoiceState is the opaque engine state derived from reference audio. It
// parameterizes the engine for one voice. The engine mutates it as a side
// effect of synthesis, so every call site must pass a Clone, never the
// original. It is disposable working data: always recomputed from the stored
// reference audio, never persisted.
type VoiceState struct {
	Payload []byte
}

// Clone returns a deep copy of the state, safe to hand to the engine.
func (s *VoiceState) Clone() *VoiceState {
	if s == nil {
		return nil
	}

	payload := make([]byte, len(s.Payload))
	copy(payload, s.Payload)

	return &VoiceState{Payload: payload}
}

// Engine is the capability contract for the external neural TTS engine.
type Engine interface {
	// DeriveState computes a voice state from a reference audio source.
	// Deterministic with respect to the audio content.
	DeriveState(ctx context.Context, audioPath string) (*VoiceState, error)

	// Synthesize renders text in the given voice. It mutates the passed
	// state; callers must pass a Clone when the state will be reused.
	Synthesize(ctx context.Context, state *VoiceState, text string) (*audio.Buffer, error)

	// SampleRate reports the engine's native output sample rate in Hz.
	SampleRate() int
}

// ObjectStore defines the interface for interacting with a key-value blob
// store holding job inputs and generated audio.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}
