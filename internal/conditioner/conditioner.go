// Package conditioner prepares uploaded audio for voice cloning: format
// normalization to canonical mono WAV, spectral noise reduction, peak
// normalization, and minimum-duration validation.
package conditioner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/voiceforge-service/internal/audio"
	"github.com/book-expert/voiceforge-service/internal/core"
	"github.com/book-expert/voiceforge-service/internal/ttsutil"
)

// Defaults for conditioning.
const (
	// DefaultTargetSampleRate is the canonical rate for conditioned audio.
	DefaultTargetSampleRate = 48000
	// DefaultMinSeconds is the minimum duration accepted for cloning.
	DefaultMinSeconds = 30.0
)

const (
	extWAV              = ".wav"
	processedFileSuffix = "_processed"
	convertFilePrefix   = "convert_"

	ffmpegBinary  = "ffmpeg"
	ffprobeBinary = "ffprobe"
)

// Validation messages returned to callers.
const (
	msgProcessedOK  = "audio processed successfully (%.1fs)"
	msgTooShort     = "audio too short (%.1fs): need at least %.0fs for accurate cloning"
	msgValid        = "valid"
	msgTooShortInfo = "too short"

	warnDenoiseSkipped = "noise reduction skipped: clip too short to estimate a noise floor"
)

// ErrUnsupportedFormat indicates an input no decoder could handle.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Result describes a conditioned (or inspected) audio file. IsValid reports
// whether the audio meets the cloning duration requirement; an invalid result
// is not an error, downstream consumers decide whether to reject. Warnings
// carry non-fatal diagnostics such as a skipped noise-reduction step.
type Result struct {
	OutputPath      string   `json:"output_path"`
	Message         string   `json:"message"`
	Warnings        []string `json:"warnings,omitempty"`
	DurationSeconds float64  `json:"duration_seconds"`
	SampleRate      int      `json:"sample_rate"`
	IsValid         bool     `json:"is_valid"`
}

// Conditioner normalizes uploaded audio for the voice-model pipeline.
type Conditioner struct {
	log        *logger.Logger
	workDir    string
	targetRate int
	minSeconds float64
}

// New creates a conditioner writing intermediate files under workDir.
func New(targetRate int, minSeconds float64, workDir string, log *logger.Logger) (*Conditioner, error) {
	if targetRate <= 0 {
		targetRate = DefaultTargetSampleRate
	}

	if minSeconds <= 0 {
		minSeconds = DefaultMinSeconds
	}

	err := ttsutil.EnsureDir(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare conditioner work directory: %w", err)
	}

	return &Conditioner{
		log:        log,
		workDir:    workDir,
		targetRate: targetRate,
		minSeconds: minSeconds,
	}, nil
}

// Condition decodes the input, resamples it to the canonical mono rate,
// applies spectral noise reduction (non-fatal on failure), peak-normalizes,
// and writes the canonical WAV to outputPath (derived from the input name
// when empty). The returned Result reports duration validity.
func (c *Conditioner) Condition(ctx context.Context, inputPath, outputPath string) (Result, error) {
	buffer, err := c.decode(ctx, inputPath)
	if err != nil {
		return Result{}, err
	}

	if buffer.SampleRate != c.targetRate {
		buffer = audio.Resample(buffer, c.targetRate)
	}

	var warnings []string

	denoised, applied := audio.ReduceNoise(buffer)
	if !applied {
		warnings = append(warnings, warnDenoiseSkipped)
		c.log.Warn("Noise reduction skipped for '%s': clip too short", inputPath)
	}

	normalized := audio.NormalizePeak(denoised)

	if outputPath == "" {
		stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
		outputPath = filepath.Join(c.workDir, stem+processedFileSuffix+extWAV)
	}

	err = audio.WriteWAVFile(outputPath, normalized)
	if err != nil {
		return Result{}, fmt.Errorf("failed to write conditioned audio: %w", err)
	}

	return c.validate(normalized.Duration(), normalized.SampleRate, outputPath, warnings), nil
}

// Info reads duration and sample rate without conditioning, for fast
// validity checks on already-processed files. It tries the WAV header first,
// then ffprobe, and falls back to a full decode when both fail.
func (c *Conditioner) Info(ctx context.Context, path string) (Result, error) {
	duration, sampleRate, err := c.readMetadata(ctx, path)
	if err != nil {
		c.log.Warn("Metadata read failed for '%s', falling back to full decode: %v", path, err)

		buffer, decodeErr := c.decode(ctx, path)
		if decodeErr != nil {
			return Result{}, decodeErr
		}

		duration, sampleRate = buffer.Duration(), buffer.SampleRate
	}

	result := Result{
		OutputPath:      path,
		Message:         msgValid,
		Warnings:        nil,
		DurationSeconds: duration,
		SampleRate:      sampleRate,
		IsValid:         duration >= c.minSeconds,
	}
	if !result.IsValid {
		result.Message = msgTooShortInfo
	}

	return result, nil
}

// MinSeconds reports the minimum accepted clip duration.
func (c *Conditioner) MinSeconds() float64 {
	return c.minSeconds
}

func (c *Conditioner) validate(duration float64, sampleRate int, outputPath string, warnings []string) Result {
	result := Result{
		OutputPath:      outputPath,
		Message:         fmt.Sprintf(msgProcessedOK, duration),
		Warnings:        warnings,
		DurationSeconds: duration,
		SampleRate:      sampleRate,
		IsValid:         duration >= c.minSeconds,
	}
	if !result.IsValid {
		result.Message = fmt.Sprintf(msgTooShort, duration, c.minSeconds)
	}

	return result
}

// decode loads any supported container as a mono buffer, converting non-WAV
// input through ffmpeg first.
func (c *Conditioner) decode(ctx context.Context, inputPath string) (*audio.Buffer, error) {
	wavPath := inputPath

	if !strings.EqualFold(filepath.Ext(inputPath), extWAV) {
		converted, err := c.convertToWAV(ctx, inputPath)
		if err != nil {
			return nil, err
		}

		defer func() {
			removeErr := os.Remove(converted)
			if removeErr != nil {
				c.log.Warn("Failed to remove temp file '%s': %v", converted, removeErr)
			}
		}()

		wavPath = converted
	}

	buffer, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, err)
	}

	return buffer, nil
}

// convertToWAV re-encodes any container ffmpeg understands to mono WAV at
// the target rate.
func (c *Conditioner) convertToWAV(ctx context.Context, inputPath string) (string, error) {
	outputPath := filepath.Join(c.workDir, convertFilePrefix+uuid.NewString()+extWAV)

	args := []string{
		"-i", inputPath,
		"-ac", "1",
		"-ar", strconv.Itoa(c.targetRate),
		"-y", outputPath,
	}

	// #nosec G204 -- arguments are fixed flags plus validated paths
	cmd := exec.CommandContext(ctx, ffmpegBinary, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%w: ffmpeg conversion failed: %w - output: %s",
			core.ErrInvalidInput, err, string(output))
	}

	return outputPath, nil
}

// readMetadata extracts duration and rate without decoding the samples.
func (c *Conditioner) readMetadata(ctx context.Context, path string) (float64, int, error) {
	if strings.EqualFold(filepath.Ext(path), extWAV) {
		return readWAVHeader(path)
	}

	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_entries", "stream=sample_rate",
		"-of", "csv=p=0",
		path,
	}

	// #nosec G204 -- arguments are fixed flags plus validated paths
	cmd := exec.CommandContext(ctx, ffprobeBinary, args...)

	output, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe failed for '%s': %w", path, err)
	}

	return parseProbeOutput(string(output))
}

func parseProbeOutput(output string) (float64, int, error) {
	lines := strings.Fields(strings.TrimSpace(output))
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("%w: unexpected ffprobe output %q", ErrUnsupportedFormat, output)
	}

	sampleRate, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse ffprobe sample rate: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(lines[len(lines)-1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse ffprobe duration: %w", err)
	}

	return duration, sampleRate, nil
}
