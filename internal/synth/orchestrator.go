// Package synth orchestrates text-to-speech generation: it resolves a voice
// source to a synthesis state, drives the external engine chunk by chunk,
// applies optional pitch and speed effects, and persists the result.
package synth

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/voiceforge-service/internal/audio"
	"github.com/book-expert/voiceforge-service/internal/core"
	"github.com/book-expert/voiceforge-service/internal/textseg"
	"github.com/book-expert/voiceforge-service/internal/ttsutil"
	"github.com/book-expert/voiceforge-service/internal/voicestore"
)

const (
	extWAV = ".wav"

	identitySpeed = 1.0
)

// Request describes one synthesis job. Exactly one voice source applies:
// a stored model id, a raw reference audio path, or neither (the bundled
// default voice). Speed 0 or 1 and Pitch 0 mean no effect.
type Request struct {
	Text         string
	VoiceModelID string
	AudioPath    string
	Speed        float64
	Pitch        float64
}

// Result describes a persisted synthesis output.
type Result struct {
	OutputID        string  `json:"output_id"`
	OutputPath      string  `json:"output_path"`
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
}

// ModelLoader resolves a stored voice model id to a synthesis state.
// *voicestore.Store satisfies it; tests substitute mocks.
type ModelLoader interface {
	Load(ctx context.Context, modelID string) (*core.VoiceState, voicestore.Metadata, error)
}

// Orchestrator drives the synthesis engine for one-shot generation jobs.
type Orchestrator struct {
	log             *logger.Logger
	engine          core.Engine
	loader          ModelLoader
	segmenter       *textseg.Segmenter
	outputsDir      string
	defaultVoiceKey string
}

// New creates an orchestrator writing outputs under outputsDir.
func New(
	engine core.Engine,
	loader ModelLoader,
	segmenter *textseg.Segmenter,
	outputsDir string,
	defaultVoiceKey string,
	log *logger.Logger,
) (*Orchestrator, error) {
	err := ttsutil.EnsureDir(outputsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare outputs directory: %w", err)
	}

	return &Orchestrator{
		log:             log,
		engine:          engine,
		loader:          loader,
		segmenter:       segmenter,
		outputsDir:      outputsDir,
		defaultVoiceKey: defaultVoiceKey,
	}, nil
}

// Synthesize renders the request's text in the resolved voice and persists
// the result as a WAV keyed by a fresh opaque id. The engine mutates state
// during generation, so the resolved state is deep-copied before every
// engine call; the original is never handed out.
func (o *Orchestrator) Synthesize(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, fmt.Errorf("%w: text cannot be empty", core.ErrInvalidInput)
	}

	state, err := o.resolveVoice(ctx, req)
	if err != nil {
		return Result{}, err
	}

	combined, err := o.synthesizeChunks(ctx, state, req.Text)
	if err != nil {
		return Result{}, err
	}

	combined = o.applyEffects(combined, req.Speed, req.Pitch)

	outputID := uuid.NewString()
	outputPath := filepath.Join(o.outputsDir, outputID+extWAV)

	err = audio.WriteWAVFile(outputPath, combined)
	if err != nil {
		return Result{}, fmt.Errorf("failed to persist generated audio: %w", err)
	}

	result := Result{
		OutputID:        outputID,
		OutputPath:      outputPath,
		DurationSeconds: combined.Duration(),
		SampleRate:      combined.SampleRate,
	}

	o.log.Info("Generated speech %s (%s)",
		outputID, ttsutil.FormatDuration(result.DurationSeconds))

	return result, nil
}

// EstimateDuration predicts the speech duration for a text, for progress
// reporting only.
func (o *Orchestrator) EstimateDuration(text string) float64 {
	return o.segmenter.EstimateDuration(text)
}

// resolveVoice turns the request's voice source into a synthesis state.
func (o *Orchestrator) resolveVoice(ctx context.Context, req Request) (*core.VoiceState, error) {
	switch {
	case req.VoiceModelID != "":
		state, _, err := o.loader.Load(ctx, req.VoiceModelID)
		if err != nil {
			return nil, fmt.Errorf("failed to load voice model '%s': %w", req.VoiceModelID, err)
		}

		return state, nil
	case req.AudioPath != "":
		state, err := o.engine.DeriveState(ctx, req.AudioPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrEngineFailure, err)
		}

		return state, nil
	default:
		state, err := o.engine.DeriveState(ctx, o.defaultVoiceKey)
		if err != nil {
			return nil, fmt.Errorf("%w: default voice: %w", core.ErrEngineFailure, err)
		}

		return state, nil
	}
}

// synthesizeChunks renders each chunk with a fresh copy of the state and
// concatenates the results in order.
func (o *Orchestrator) synthesizeChunks(
	ctx context.Context,
	state *core.VoiceState,
	text string,
) (*audio.Buffer, error) {
	chunks := o.segmenter.Chunk(text)
	parts := make([]*audio.Buffer, 0, len(chunks))

	for index, chunk := range chunks {
		part, err := o.engine.Synthesize(ctx, state.Clone(), chunk)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d/%d: %w",
				core.ErrEngineFailure, index+1, len(chunks), err)
		}

		parts = append(parts, part)
	}

	return audio.Concat(parts...), nil
}

// applyEffects applies pitch shift then time stretch when either differs
// from identity. Pitch shift preserves duration; speed scales it inversely.
func (o *Orchestrator) applyEffects(buffer *audio.Buffer, speed, pitch float64) *audio.Buffer {
	if pitch != 0 {
		buffer = audio.PitchShift(buffer, pitch)
	}

	if speed > 0 && speed != identitySpeed {
		buffer = audio.TimeStretch(buffer, speed)
	}

	return buffer
}
