// Package worker provides a NATS worker that serves voice cloning,
// synthesis, and podcast jobs over request/reply subjects.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/voiceforge-service/internal/conditioner"
	"github.com/book-expert/voiceforge-service/internal/config"
	"github.com/book-expert/voiceforge-service/internal/core"
	"github.com/book-expert/voiceforge-service/internal/podcast"
	"github.com/book-expert/voiceforge-service/internal/synth"
	"github.com/book-expert/voiceforge-service/internal/ttsutil"
	"github.com/book-expert/voiceforge-service/internal/voicestore"
)

// synthesisTimeout bounds every job that runs the synthesis engine or
// external decoders. Library queries respond inline and need no budget.
const synthesisTimeout = 10 * time.Minute

const extWAV = ".wav"

// Stable error codes for the ErrorReply envelope.
const (
	codeInvalidInput   = "invalid_input"
	codeNotFound       = "not_found"
	codeUnboundSpeaker = "unbound_speaker"
	codeEngineFailure  = "engine_failure"
	codeInternal       = "internal"
)

var (
	// ErrAudioKeyEmpty indicates that a job referenced no uploaded audio.
	ErrAudioKeyEmpty = errors.New("audio key cannot be empty")
	// ErrModelIDEmpty indicates that a voice query named no model.
	ErrModelIDEmpty = errors.New("model id cannot be empty")
	// ErrUnsupportedAudioFormat indicates an upload with an extension the
	// conditioner cannot decode.
	ErrUnsupportedAudioFormat = errors.New("unsupported audio format")
)

// FileStore is the object storage surface the worker needs: raw access for
// replies plus file staging for tools that read from disk.
type FileStore interface {
	core.ObjectStore
	DownloadToFile(ctx context.Context, key, localPath string) error
	UploadFile(ctx context.Context, key, localPath string) error
}

// AudioConditioner prepares reference audio for cloning.
type AudioConditioner interface {
	Condition(ctx context.Context, inputPath, outputPath string) (conditioner.Result, error)
}

// VoiceLibrary manages stored voice models.
type VoiceLibrary interface {
	Create(ctx context.Context, referencePath, name string, tags []string) (voicestore.Metadata, error)
	List() ([]voicestore.Metadata, error)
	Get(modelID string) (voicestore.Metadata, error)
	Delete(modelID string) bool
	PreviewPath(modelID string) (string, bool)
}

// Speech turns a synthesis request into an audio file on disk.
type Speech interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Result, error)
}

// PodcastGenerator renders a multi-speaker script into a stitched podcast.
type PodcastGenerator interface {
	Generate(
		ctx context.Context,
		script string,
		speakerMap map[string]string,
		title string,
	) (podcast.Podcast, error)
}

// NatsWorker listens on the configured subjects and dispatches jobs to the
// domain components.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       config.NATSConfig
	uploads        FileStore
	outputs        FileStore
	conditioner    AudioConditioner
	voices         VoiceLibrary
	speech         Speech
	podcasts       PodcastGenerator
	workDir        string
	podcastDir     string
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects config.NATSConfig,
	uploads FileStore,
	outputs FileStore,
	audioConditioner AudioConditioner,
	voices VoiceLibrary,
	speech Speech,
	podcasts PodcastGenerator,
	workDir string,
	podcastDir string,
	log *logger.Logger,
) (*NatsWorker, error) {
	err := ttsutil.EnsureDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare worker staging directory: %w", err)
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		uploads:        uploads,
		outputs:        outputs,
		conditioner:    audioConditioner,
		voices:         voices,
		speech:         speech,
		podcasts:       podcasts,
		workDir:        workDir,
		podcastDir:     podcastDir,
		log:            log,
	}, nil
}

// Run subscribes to every job subject and blocks until the context ends,
// then drains the subscriptions.
func (w *NatsWorker) Run(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		w.subjects.ConditionSubject:    w.handleCondition,
		w.subjects.CloneSubject:        w.handleClone,
		w.subjects.ListVoicesSubject:   w.handleListVoices,
		w.subjects.GetVoiceSubject:     w.handleGetVoice,
		w.subjects.PreviewVoiceSubject: w.handlePreviewVoice,
		w.subjects.DeleteVoiceSubject:  w.handleDeleteVoice,
		w.subjects.GenerateSubject:     w.handleGenerate,
		w.subjects.PodcastSubject:      w.handlePodcast,
	}

	subscriptions := make([]*nats.Subscription, 0, len(handlers))

	for subject, handler := range handlers {
		sub, err := w.natsConnection.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}

		subscriptions = append(subscriptions, sub)
	}

	w.log.Info("Worker listening on %d subjects", len(subscriptions))

	<-ctx.Done()

	for _, sub := range subscriptions {
		drainErr := sub.Drain()
		if drainErr != nil {
			return fmt.Errorf("failed to drain subscription: %w", drainErr)
		}
	}

	return nil
}

func (w *NatsWorker) handleCondition(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
	defer cancel()

	var job ConditionJob

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.replyParseFailure(msg, err)

		return
	}

	result, outputKey, err := w.processCondition(ctx, job)
	if err != nil {
		w.replyError(msg, job.Header, err)

		return
	}

	w.reply(msg, ConditionResult{
		Header:          job.Header,
		OutputKey:       outputKey,
		Message:         result.Message,
		Warnings:        result.Warnings,
		DurationSeconds: result.DurationSeconds,
		SampleRate:      result.SampleRate,
		IsValid:         result.IsValid,
	})
}

func (w *NatsWorker) processCondition(
	ctx context.Context,
	job ConditionJob,
) (conditioner.Result, string, error) {
	stagedPath, err := w.stageUpload(ctx, job.AudioKey)
	if err != nil {
		return conditioner.Result{}, "", err
	}
	defer w.removeStaged(stagedPath)

	result, err := w.conditioner.Condition(ctx, stagedPath, "")
	if err != nil {
		return conditioner.Result{}, "", fmt.Errorf("conditioning failed: %w", err)
	}
	defer w.removeStaged(result.OutputPath)

	outputKey := uuid.NewString() + extWAV

	err = w.outputs.UploadFile(ctx, outputKey, result.OutputPath)
	if err != nil {
		return conditioner.Result{}, "", fmt.Errorf(
			"failed to upload conditioned audio '%s': %w",
			outputKey,
			err,
		)
	}

	w.log.Info(
		"Conditioned %s for workflow %s: %s, valid=%v",
		job.AudioKey,
		job.Header.WorkflowID,
		ttsutil.FormatDuration(result.DurationSeconds),
		result.IsValid,
	)

	return result, outputKey, nil
}

func (w *NatsWorker) handleClone(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
	defer cancel()

	var job CloneJob

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.replyParseFailure(msg, err)

		return
	}

	stagedPath, err := w.stageUpload(ctx, job.AudioKey)
	if err != nil {
		w.replyError(msg, job.Header, err)

		return
	}
	defer w.removeStaged(stagedPath)

	model, err := w.voices.Create(ctx, stagedPath, job.Name, job.Tags)
	if err != nil {
		w.replyError(msg, job.Header, fmt.Errorf("failed to create voice model: %w", err))

		return
	}

	w.log.Info(
		"Cloned voice %s (%q) for workflow %s",
		model.ID,
		model.Name,
		job.Header.WorkflowID,
	)

	w.reply(msg, CloneResult{Header: job.Header, Model: model})
}

func (w *NatsWorker) handleListVoices(msg *nats.Msg) {
	var job VoiceQuery

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.replyParseFailure(msg, err)

		return
	}

	models, err := w.voices.List()
	if err != nil {
		w.replyError(msg, job.Header, fmt.Errorf("failed to list voice models: %w", err))

		return
	}

	w.reply(msg, ListVoicesResult{Header: job.Header, Models: models})
}

func (w *NatsWorker) handleGetVoice(msg *nats.Msg) {
	var job VoiceQuery

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.replyParseFailure(msg, err)

		return
	}

	if job.ModelID == "" {
		w.replyError(msg, job.Header, fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrModelIDEmpty))

		return
	}

	model, err := w.voices.Get(job.ModelID)
	if err != nil {
		w.replyError(msg, job.Header, err)

		return
	}

	w.reply(msg, GetVoiceResult{Header: job.Header, Model: model})
}

func (w *NatsWorker) handlePreviewVoice(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
	defer cancel()

	var job VoiceQuery

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.replyParseFailure(msg, err)

		return
	}

	if job.ModelID == "" {
		w.replyError(msg, job.Header, fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrModelIDEmpty))

		return
	}

	previewPath, ok := w.voices.PreviewPath(job.ModelID)
	if !ok {
		w.replyError(msg, job.Header, fmt.Errorf(
			"%w: preview for voice model '%s'",
			core.ErrNotFound,
			job.ModelID,
		))

		return
	}

	outputKey := job.ModelID + "_preview" + extWAV

	err = w.outputs.UploadFile(ctx, outputKey, previewPath)
	if err != nil {
		w.replyError(msg, job.Header, fmt.Errorf(
			"failed to upload preview '%s': %w",
			outputKey,
			err,
		))

		return
	}

	w.reply(msg, PreviewVoiceResult{Header: job.Header, OutputKey: outputKey})
}

func (w *NatsWorker) handleDeleteVoice(msg *nats.Msg) {
	var job VoiceQuery

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.replyParseFailure(msg, err)

		return
	}

	if job.ModelID == "" {
		w.replyError(msg, job.Header, fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrModelIDEmpty))

		return
	}

	deleted := w.voices.Delete(job.ModelID)

	w.reply(msg, DeleteVoiceResult{Header: job.Header, Deleted: deleted})
}

func (w *NatsWorker) handleGenerate(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
	defer cancel()

	var job GenerateJob

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.replyParseFailure(msg, err)

		return
	}

	result, outputKey, err := w.processGenerate(ctx, job)
	if err != nil {
		w.replyError(msg, job.Header, err)

		return
	}

	w.reply(msg, GenerateResult{
		Header:          job.Header,
		OutputKey:       outputKey,
		DurationSeconds: result.DurationSeconds,
		SampleRate:      result.SampleRate,
	})
}

func (w *NatsWorker) processGenerate(
	ctx context.Context,
	job GenerateJob,
) (synth.Result, string, error) {
	request := synth.Request{
		Text:         job.Text,
		VoiceModelID: job.VoiceModelID,
		AudioPath:    "",
		Speed:        job.Speed,
		Pitch:        job.Pitch,
	}

	if job.AudioKey != "" {
		stagedPath, err := w.stageUpload(ctx, job.AudioKey)
		if err != nil {
			return synth.Result{}, "", err
		}
		defer w.removeStaged(stagedPath)

		request.AudioPath = stagedPath
	}

	result, err := w.speech.Synthesize(ctx, request)
	if err != nil {
		return synth.Result{}, "", fmt.Errorf("synthesis failed: %w", err)
	}
	defer w.removeStaged(result.OutputPath)

	outputKey := result.OutputID + extWAV

	err = w.outputs.UploadFile(ctx, outputKey, result.OutputPath)
	if err != nil {
		return synth.Result{}, "", fmt.Errorf(
			"failed to upload generated audio '%s': %w",
			outputKey,
			err,
		)
	}

	w.logUploadedOutput(job.Header, outputKey, result.OutputPath, result.DurationSeconds)

	return result, outputKey, nil
}

func (w *NatsWorker) handlePodcast(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), synthesisTimeout)
	defer cancel()

	var job PodcastJob

	err := json.Unmarshal(msg.Data, &job)
	if err != nil {
		w.replyParseFailure(msg, err)

		return
	}

	generated, err := w.podcasts.Generate(ctx, job.Script, job.SpeakerMap, job.Title)
	if err != nil {
		w.replyError(msg, job.Header, err)

		return
	}

	outputPath := filepath.Join(w.podcastDir, generated.ID+extWAV)
	outputKey := podcastOutputKey(job.Title, generated.ID)

	err = w.outputs.UploadFile(ctx, outputKey, outputPath)
	if err != nil {
		w.replyError(msg, job.Header, fmt.Errorf(
			"failed to upload podcast '%s': %w",
			outputKey,
			err,
		))

		return
	}

	w.logUploadedOutput(job.Header, outputKey, outputPath, generated.Duration)

	w.reply(msg, PodcastResult{
		Header:    job.Header,
		OutputKey: outputKey,
		Podcast:   generated,
	})
}

// podcastOutputKey builds a human-readable bucket key from the podcast
// title, falling back to the bare id when the title sanitizes to nothing.
func podcastOutputKey(title, podcastID string) string {
	base := strings.TrimSpace(ttsutil.SanitizeFilename(title))
	if base == "" {
		return podcastID + extWAV
	}

	return base + "_" + podcastID + extWAV
}

// stageUpload copies an uploads-bucket object into the staging directory so
// downstream tools can read it from disk. Callers own the returned path.
func (w *NatsWorker) stageUpload(ctx context.Context, audioKey string) (string, error) {
	if audioKey == "" {
		return "", fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrAudioKeyEmpty)
	}

	if !ttsutil.IsValidAudioFile(audioKey) {
		return "", fmt.Errorf(
			"%w: %w: '%s'",
			core.ErrInvalidInput,
			ErrUnsupportedAudioFormat,
			ttsutil.GetFileExtension(audioKey),
		)
	}

	stagedPath := filepath.Join(w.workDir, uuid.NewString()+filepath.Ext(audioKey))

	err := w.uploads.DownloadToFile(ctx, audioKey, stagedPath)
	if err != nil {
		return "", fmt.Errorf("failed to stage upload '%s': %w", audioKey, err)
	}

	return stagedPath, nil
}

func (w *NatsWorker) removeStaged(path string) {
	if path == "" {
		return
	}

	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		w.log.Warn("Failed to remove staged file '%s': %v", path, err)
	}
}

func (w *NatsWorker) logUploadedOutput(
	header JobHeader,
	outputKey string,
	localPath string,
	durationSeconds float64,
) {
	size := int64(0)

	info, err := os.Stat(localPath)
	if err == nil {
		size = info.Size()
	}

	w.log.Info(
		"Uploaded %s for workflow %s (%s, %s)",
		outputKey,
		header.WorkflowID,
		ttsutil.FormatDuration(durationSeconds),
		ttsutil.FormatFileSize(size),
	)
}

func (w *NatsWorker) reply(msg *nats.Msg, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	err = msg.Respond(data)
	if err != nil {
		w.log.Error("Failed to publish reply: %v", err)
	}
}

func (w *NatsWorker) replyParseFailure(msg *nats.Msg, err error) {
	w.log.Error("Failed to unmarshal job on %s: %v", msg.Subject, err)
	w.replyError(msg, JobHeader{WorkflowID: ""}, fmt.Errorf("%w: malformed job payload: %w", core.ErrInvalidInput, err))
}

func (w *NatsWorker) replyError(msg *nats.Msg, header JobHeader, jobErr error) {
	w.log.Error("Job failed for workflow %s: %v", header.WorkflowID, jobErr)

	w.reply(msg, ErrorReply{
		Header: header,
		Error:  jobErr.Error(),
		Code:   classifyError(jobErr),
	})
}

// classifyError maps domain sentinels onto the stable reply codes.
func classifyError(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return codeInvalidInput
	case errors.Is(err, core.ErrNotFound):
		return codeNotFound
	case errors.Is(err, core.ErrUnboundSpeaker):
		return codeUnboundSpeaker
	case errors.Is(err, core.ErrEngineFailure):
		return codeEngineFailure
	default:
		return codeInternal
	}
}
