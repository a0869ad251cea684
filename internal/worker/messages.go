package worker

import (
	"github.com/book-expert/voiceforge-service/internal/podcast"
	"github.com/book-expert/voiceforge-service/internal/voicestore"
)

// JobHeader carries the correlation data every request and reply shares.
type JobHeader struct {
	WorkflowID string `json:"workflow_id"`
}

// ConditionJob requests reference-audio preparation. AudioKey names an
// object in the uploads bucket.
type ConditionJob struct {
	Header   JobHeader `json:"header"`
	AudioKey string    `json:"audio_key"`
}

// ConditionResult reports the prepared audio and its clone suitability.
type ConditionResult struct {
	Header          JobHeader `json:"header"`
	OutputKey       string    `json:"output_key"`
	Message         string    `json:"message"`
	Warnings        []string  `json:"warnings,omitempty"`
	DurationSeconds float64   `json:"duration_seconds"`
	SampleRate      int       `json:"sample_rate"`
	IsValid         bool      `json:"is_valid"`
}

// CloneJob requests creation of a voice model from uploaded reference audio.
type CloneJob struct {
	Header   JobHeader `json:"header"`
	AudioKey string    `json:"audio_key"`
	Name     string    `json:"name"`
	Tags     []string  `json:"tags,omitempty"`
}

// CloneResult returns the stored model's metadata.
type CloneResult struct {
	Header JobHeader           `json:"header"`
	Model  voicestore.Metadata `json:"model"`
}

// VoiceQuery addresses a single stored voice model.
type VoiceQuery struct {
	Header  JobHeader `json:"header"`
	ModelID string    `json:"model_id"`
}

// ListVoicesResult returns all stored models, newest first.
type ListVoicesResult struct {
	Header JobHeader             `json:"header"`
	Models []voicestore.Metadata `json:"models"`
}

// GetVoiceResult returns one model's metadata.
type GetVoiceResult struct {
	Header JobHeader           `json:"header"`
	Model  voicestore.Metadata `json:"model"`
}

// PreviewVoiceResult names a model's preview clip in the outputs bucket.
type PreviewVoiceResult struct {
	Header    JobHeader `json:"header"`
	OutputKey string    `json:"output_key"`
}

// DeleteVoiceResult reports whether the model existed.
type DeleteVoiceResult struct {
	Header  JobHeader `json:"header"`
	Deleted bool      `json:"deleted"`
}

// GenerateJob requests speech synthesis. Exactly one of VoiceModelID and
// AudioKey should be set; with neither, the engine's default voice is used.
type GenerateJob struct {
	Header       JobHeader `json:"header"`
	Text         string    `json:"text"`
	VoiceModelID string    `json:"voice_model_id,omitempty"`
	AudioKey     string    `json:"audio_key,omitempty"`
	Speed        float64   `json:"speed,omitempty"`
	Pitch        float64   `json:"pitch,omitempty"`
}

// GenerateResult names the synthesized audio in the outputs bucket.
type GenerateResult struct {
	Header          JobHeader `json:"header"`
	OutputKey       string    `json:"output_key"`
	DurationSeconds float64   `json:"duration_seconds"`
	SampleRate      int       `json:"sample_rate"`
}

// PodcastJob requests multi-speaker podcast generation. SpeakerMap binds
// script speaker labels to voice model IDs.
type PodcastJob struct {
	Header     JobHeader         `json:"header"`
	Script     string            `json:"script"`
	SpeakerMap map[string]string `json:"speaker_map"`
	Title      string            `json:"title"`
}

// PodcastResult names the stitched audio in the outputs bucket along with
// the parsed segments.
type PodcastResult struct {
	Header    JobHeader       `json:"header"`
	OutputKey string          `json:"output_key"`
	Podcast   podcast.Podcast `json:"podcast"`
}

// ErrorReply is the failure envelope for every subject. Code is a stable
// machine-readable classification; Error is the human-readable detail.
type ErrorReply struct {
	Header JobHeader `json:"header"`
	Error  string    `json:"error"`
	Code   string    `json:"code"`
}
