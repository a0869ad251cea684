// Package voicestore persists voice models: one directory per model holding
// the reference audio (the only durable source of truth), a short preview,
// and JSON metadata. Derived synthesis state is never stored; it is
// recomputed from the reference audio on every load because the engine is
// known to mutate state across reuse.
package voicestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/voiceforge-service/internal/audio"
	"github.com/book-expert/voiceforge-service/internal/core"
	"github.com/book-expert/voiceforge-service/internal/ttsutil"
)

// On-disk layout per model directory. Stable and load-bearing: external
// housekeeping may rely on these names.
const (
	metadataFileName  = "metadata.json"
	referenceFileName = "original.wav"
	previewFileName   = "preview.wav"
)

// DefaultPreviewSeconds is the preview clip length cut from the reference.
const DefaultPreviewSeconds = 10.0

const (
	filePermissions = 0o600
	jsonIndent      = "  "
)

// Metadata describes a stored voice model.
type Metadata struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"created_at"`
	Tags            []string  `json:"tags"`
	DurationSeconds float64   `json:"duration_seconds"`
	SampleRate      int       `json:"sample_rate"`
}

// Store manages voice models under a base directory. Operations on distinct
// ids are independent; concurrent mutation of the same id (delete racing a
// load) is best-effort and accepted, since models are user-owned and
// single-writer in practice.
type Store struct {
	log            *logger.Logger
	engine         core.Engine
	dir            string
	minSeconds     float64
	previewSeconds float64
}

// New creates a store rooted at dir.
func New(dir string, engine core.Engine, minSeconds, previewSeconds float64, log *logger.Logger) (*Store, error) {
	err := ttsutil.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare voice models directory: %w", err)
	}

	if previewSeconds <= 0 {
		previewSeconds = DefaultPreviewSeconds
	}

	return &Store{
		log:            log,
		engine:         engine,
		dir:            dir,
		minSeconds:     minSeconds,
		previewSeconds: previewSeconds,
	}, nil
}

// Create clones a voice from already-conditioned reference audio and
// persists it as a model. The reference must meet the minimum duration; the
// engine derivation runs once here to prove the reference is usable, and its
// result is discarded (state is always recomputed on load).
func (s *Store) Create(ctx context.Context, referencePath, name string, tags []string) (Metadata, error) {
	buffer, err := audio.ReadWAVFile(referencePath)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}

	duration := buffer.Duration()
	if duration < s.minSeconds {
		return Metadata{}, fmt.Errorf("%w: reference audio is %.1fs, need at least %.0fs",
			core.ErrInvalidInput, duration, s.minSeconds)
	}

	_, err = s.engine.DeriveState(ctx, referencePath)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %w", core.ErrEngineFailure, err)
	}

	modelID := uuid.NewString()
	modelDir := filepath.Join(s.dir, modelID)

	err = ttsutil.EnsureDir(modelDir)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to create model directory: %w", err)
	}

	metadata := Metadata{
		ID:              modelID,
		Name:            name,
		CreatedAt:       time.Now().UTC(),
		Tags:            tags,
		DurationSeconds: duration,
		SampleRate:      buffer.SampleRate,
	}

	err = s.persistModel(modelDir, buffer, metadata)
	if err != nil {
		// Roll back the partial directory so readers never observe it.
		removeErr := os.RemoveAll(modelDir)
		if removeErr != nil {
			s.log.Warn("Failed to roll back model directory '%s': %v", modelDir, removeErr)
		}

		return Metadata{}, err
	}

	s.log.Info("Created voice model %s (%s, %s)",
		modelID, name, ttsutil.FormatDuration(duration))

	return metadata, nil
}

// Load returns the synthesis state and metadata for a model. The state is
// always recomputed from the stored reference audio; no cached derived state
// exists to read.
func (s *Store) Load(ctx context.Context, modelID string) (*core.VoiceState, Metadata, error) {
	metadata, err := s.Get(modelID)
	if err != nil {
		return nil, Metadata{}, err
	}

	referencePath := filepath.Join(s.dir, modelID, referenceFileName)

	_, statErr := os.Stat(referencePath)
	if statErr != nil {
		return nil, Metadata{}, fmt.Errorf("%w: reference audio for model '%s'",
			core.ErrNotFound, modelID)
	}

	state, err := s.engine.DeriveState(ctx, referencePath)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("%w: %w", core.ErrEngineFailure, err)
	}

	return state, metadata, nil
}

// List returns metadata for all models, newest first.
func (s *Store) List() ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read voice models directory: %w", err)
	}

	models := make([]Metadata, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		metadata, readErr := s.readMetadata(entry.Name())
		if readErr != nil {
			s.log.Warn("Skipping unreadable model '%s': %v", entry.Name(), readErr)

			continue
		}

		models = append(models, metadata)
	}

	sort.Slice(models, func(i, j int) bool {
		return models[i].CreatedAt.After(models[j].CreatedAt)
	})

	return models, nil
}

// Get returns metadata for a single model.
func (s *Store) Get(modelID string) (Metadata, error) {
	metadata, err := s.readMetadata(modelID)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: voice model '%s'", core.ErrNotFound, modelID)
	}

	return metadata, nil
}

// Delete removes the entire persisted model and reports whether anything was
// deleted.
func (s *Store) Delete(modelID string) bool {
	modelDir := filepath.Join(s.dir, modelID)

	_, statErr := os.Stat(modelDir)
	if statErr != nil {
		return false
	}

	removeErr := os.RemoveAll(modelDir)
	if removeErr != nil {
		s.log.Error("Failed to delete voice model '%s': %v", modelID, removeErr)

		return false
	}

	return true
}

// PreviewPath returns the preview audio path for a model, if present.
func (s *Store) PreviewPath(modelID string) (string, bool) {
	previewPath := filepath.Join(s.dir, modelID, previewFileName)

	_, statErr := os.Stat(previewPath)
	if statErr != nil {
		return "", false
	}

	return previewPath, true
}

func (s *Store) persistModel(modelDir string, buffer *audio.Buffer, metadata Metadata) error {
	err := audio.WriteWAVFile(filepath.Join(modelDir, referenceFileName), buffer)
	if err != nil {
		return fmt.Errorf("failed to persist reference audio: %w", err)
	}

	previewSamples := int(s.previewSeconds * float64(buffer.SampleRate))
	if previewSamples > len(buffer.Samples) {
		previewSamples = len(buffer.Samples)
	}

	preview := &audio.Buffer{
		Samples:    buffer.Samples[:previewSamples],
		SampleRate: buffer.SampleRate,
	}

	err = audio.WriteWAVFile(filepath.Join(modelDir, previewFileName), preview)
	if err != nil {
		return fmt.Errorf("failed to persist preview audio: %w", err)
	}

	data, err := json.MarshalIndent(metadata, "", jsonIndent)
	if err != nil {
		return fmt.Errorf("failed to marshal model metadata: %w", err)
	}

	err = os.WriteFile(filepath.Join(modelDir, metadataFileName), data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to persist model metadata: %w", err)
	}

	return nil
}

func (s *Store) readMetadata(modelID string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, modelID, metadataFileName))
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata for model '%s': %w", modelID, err)
	}

	var metadata Metadata

	err = json.Unmarshal(data, &metadata)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata for model '%s': %w", modelID, err)
	}

	return metadata, nil
}
