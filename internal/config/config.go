// Package config provides the configuration structure for the
// voiceforge-service.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"

	"github.com/book-expert/voiceforge-service/internal/conditioner"
	"github.com/book-expert/voiceforge-service/internal/engine"
	"github.com/book-expert/voiceforge-service/internal/podcast"
	"github.com/book-expert/voiceforge-service/internal/textseg"
	"github.com/book-expert/voiceforge-service/internal/voicestore"
)

const defaultEngineTimeoutSeconds = 120

// NATSConfig holds the configuration for NATS subjects and buckets.
type NATSConfig struct {
	URL                 string `toml:"url"`
	ConditionSubject    string `toml:"condition_subject"`
	CloneSubject        string `toml:"clone_subject"`
	ListVoicesSubject   string `toml:"list_voices_subject"`
	GetVoiceSubject     string `toml:"get_voice_subject"`
	PreviewVoiceSubject string `toml:"preview_voice_subject"`
	DeleteVoiceSubject  string `toml:"delete_voice_subject"`
	GenerateSubject     string `toml:"generate_subject"`
	PodcastSubject      string `toml:"podcast_subject"`
	UploadsBucket       string `toml:"uploads_bucket"`
	OutputsBucket       string `toml:"outputs_bucket"`
}

// EngineConfig holds the connection settings for the synthesis service.
type EngineConfig struct {
	BaseURL         string `toml:"base_url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	SampleRate      int    `toml:"sample_rate"`
	DefaultVoiceKey string `toml:"default_voice_key"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir       string `toml:"base_logs_dir"`
	VoiceModelsDir    string `toml:"voice_models_dir"`
	OutputsDir        string `toml:"outputs_dir"`
	PodcastOutputsDir string `toml:"podcast_outputs_dir"`
	WorkDir           string `toml:"work_dir"`
}

// LimitsConfig holds tunable processing limits.
type LimitsConfig struct {
	MaxChunkChars         int     `toml:"max_chunk_chars"`
	MinCloneSeconds       float64 `toml:"min_clone_seconds"`
	TargetSampleRate      int     `toml:"target_sample_rate"`
	MaxConcurrentPodcasts int     `toml:"max_concurrent_podcasts"`
	SegmentGapMs          int     `toml:"segment_gap_ms"`
	PreviewSeconds        float64 `toml:"preview_seconds"`
}

// Config is the root configuration structure.
type Config struct {
	NATS   NATSConfig   `toml:"nats"`
	Engine EngineConfig `toml:"engine"`
	Paths  PathsConfig  `toml:"paths"`
	Limits LimitsConfig `toml:"limits"`
}

// Load loads the configuration for the voiceforge-service and applies
// defaults for unset limits.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills zero-valued tunables with their package defaults so
// a minimal TOML file stays valid.
func (c *Config) ApplyDefaults() {
	if c.Engine.TimeoutSeconds <= 0 {
		c.Engine.TimeoutSeconds = defaultEngineTimeoutSeconds
	}

	if c.Engine.SampleRate <= 0 {
		c.Engine.SampleRate = engine.DefaultSampleRate
	}

	if c.Limits.MaxChunkChars <= 0 {
		c.Limits.MaxChunkChars = textseg.DefaultMaxChunkChars
	}

	if c.Limits.MinCloneSeconds <= 0 {
		c.Limits.MinCloneSeconds = conditioner.DefaultMinSeconds
	}

	if c.Limits.TargetSampleRate <= 0 {
		c.Limits.TargetSampleRate = conditioner.DefaultTargetSampleRate
	}

	if c.Limits.MaxConcurrentPodcasts <= 0 {
		c.Limits.MaxConcurrentPodcasts = podcast.DefaultMaxConcurrentJobs
	}

	if c.Limits.SegmentGapMs <= 0 {
		c.Limits.SegmentGapMs = int(podcast.DefaultSegmentGap.Milliseconds())
	}

	if c.Limits.PreviewSeconds <= 0 {
		c.Limits.PreviewSeconds = voicestore.DefaultPreviewSeconds
	}
}
