package podcast

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/voiceforge-service/internal/audio"
	"github.com/book-expert/voiceforge-service/internal/core"
	"github.com/book-expert/voiceforge-service/internal/synth"
	"github.com/book-expert/voiceforge-service/internal/ttsutil"
)

// Defaults for podcast assembly.
const (
	// DefaultMaxConcurrentJobs bounds podcast jobs executing at once,
	// process-wide. Segments within one job are always sequential; this
	// gate only limits cross-job CPU contention.
	DefaultMaxConcurrentJobs = 2
	// DefaultSegmentGap is the silence inserted between consecutive
	// segments (none after the last).
	DefaultSegmentGap = 300 * time.Millisecond
)

const (
	segmentFileFormat = "%s_seg_%03d.wav"
	extWAV            = ".wav"
	audioURLPrefix    = "/api/podcast/audio/"
)

// ErrNoSegments indicates a script with no parsable speaker segments, or a
// stitch where every segment failed to decode.
var ErrNoSegments = errors.New("no usable podcast segments")

// Synthesizer generates one speech output per segment. *synth.Orchestrator
// satisfies it; tests substitute mocks.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synth.Request) (synth.Result, error)
}

// Podcast describes a finished generation: the stitched output plus the
// parsed segments for client-side script/audio synchronization. Warnings
// list recovered, non-fatal troubles (skipped segments, leftover temp
// files).
type Podcast struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	URL      string    `json:"url"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
	Warnings []string  `json:"warnings,omitempty"`
}

// Orchestrator generates podcasts from scripts. A buffered-channel gate
// admits at most a fixed number of jobs at once; admission is FIFO by
// arrival.
type Orchestrator struct {
	log       *logger.Logger
	synth     Synthesizer
	outputDir string
	gate      chan struct{}
	gap       time.Duration
}

// New creates an orchestrator writing podcast outputs under outputDir.
func New(
	synthesizer Synthesizer,
	outputDir string,
	maxConcurrentJobs int,
	gap time.Duration,
	log *logger.Logger,
) (*Orchestrator, error) {
	err := ttsutil.EnsureDir(outputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare podcast output directory: %w", err)
	}

	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = DefaultMaxConcurrentJobs
	}

	if gap <= 0 {
		gap = DefaultSegmentGap
	}

	return &Orchestrator{
		log:       log,
		synth:     synthesizer,
		outputDir: outputDir,
		gate:      make(chan struct{}, maxConcurrentJobs),
		gap:       gap,
	}, nil
}

// Generate renders a full podcast: parse the script, validate that every
// speaker is bound to a voice model (before any synthesis work), synthesize
// the segments strictly in script order, and stitch them with fixed silence
// gaps. Segments are sequential within a job because the synthesis engine's
// state is not safe for concurrent use.
func (o *Orchestrator) Generate(
	ctx context.Context,
	script string,
	speakerMap map[string]string,
	title string,
) (Podcast, error) {
	segments := ParseScript(script)
	if len(segments) == 0 {
		return Podcast{}, fmt.Errorf("%w: script defines no speaker segments", core.ErrInvalidInput)
	}

	err := validateSpeakers(segments, speakerMap)
	if err != nil {
		return Podcast{}, err
	}

	err = o.admit(ctx)
	if err != nil {
		return Podcast{}, err
	}
	defer o.release()

	podcastID := uuid.NewString()

	o.log.Info("Starting podcast %s (%q, %d segments)", podcastID, title, len(segments))

	segmentFiles, err := o.generateSegments(ctx, podcastID, segments, speakerMap)
	if err != nil {
		o.removeSegmentFiles(segmentFiles)

		return Podcast{}, err
	}

	outputPath := filepath.Join(o.outputDir, podcastID+extWAV)

	duration, warnings, err := o.stitch(segmentFiles, outputPath)
	if err != nil {
		o.removeSegmentFiles(segmentFiles)

		return Podcast{}, err
	}

	warnings = append(warnings, o.cleanupSegmentFiles(segmentFiles)...)

	o.log.Info("Finished podcast %s (%s)", podcastID, ttsutil.FormatDuration(duration))

	return Podcast{
		ID:       podcastID,
		Title:    title,
		URL:      audioURLPrefix + podcastID,
		Duration: duration,
		Segments: segments,
		Warnings: warnings,
	}, nil
}

// validateSpeakers fails with the first unbound speaker before any synthesis
// work is performed, so a doomed job wastes no CPU.
func validateSpeakers(segments []Segment, speakerMap map[string]string) error {
	for _, segment := range segments {
		_, bound := speakerMap[segment.Speaker]
		if !bound {
			return fmt.Errorf("%w: %q", core.ErrUnboundSpeaker, segment.Speaker)
		}
	}

	return nil
}

// admit blocks until a job slot is free or the context ends.
func (o *Orchestrator) admit(ctx context.Context) error {
	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("podcast job not admitted: %w", err)
	}

	select {
	case o.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("podcast job not admitted: %w", ctx.Err())
	}
}

func (o *Orchestrator) release() {
	<-o.gate
}

// generateSegments synthesizes each segment in order and moves the output to
// an order-indexed temp location. The zero-padded index makes lexical order
// equal script order regardless of directory listing behavior.
func (o *Orchestrator) generateSegments(
	ctx context.Context,
	podcastID string,
	segments []Segment,
	speakerMap map[string]string,
) ([]string, error) {
	files := make([]string, 0, len(segments))

	for index, segment := range segments {
		o.log.Info("Generating segment %d/%d for %s", index+1, len(segments), segment.Speaker)

		result, err := o.synth.Synthesize(ctx, synth.Request{
			Text:         segment.Text,
			VoiceModelID: speakerMap[segment.Speaker],
			AudioPath:    "",
			Speed:        0,
			Pitch:        0,
		})
		if err != nil {
			return files, fmt.Errorf("segment %d (%s) failed: %w", index+1, segment.Speaker, err)
		}

		destination := filepath.Join(o.outputDir, fmt.Sprintf(segmentFileFormat, podcastID, index))

		err = os.Rename(result.OutputPath, destination)
		if err != nil {
			return files, fmt.Errorf("failed to stage segment %d: %w", index+1, err)
		}

		files = append(files, destination)
	}

	return files, nil
}

// stitch concatenates segment audio in index order with a silence gap
// between consecutive segments. A segment that fails to decode is skipped
// with a warning rather than aborting the podcast; only a fully undecodable
// set is an error.
func (o *Orchestrator) stitch(files []string, outputPath string) (float64, []string, error) {
	var (
		parts    []*audio.Buffer
		warnings []string
	)

	sampleRate := 0

	for _, file := range files {
		buffer, err := audio.ReadWAVFile(file)
		if err != nil {
			o.log.Error("Skipping segment '%s': %v", file, err)
			warnings = append(warnings, fmt.Sprintf("skipped segment %s: %v", filepath.Base(file), err))

			continue
		}

		if sampleRate == 0 {
			sampleRate = buffer.SampleRate
		} else if buffer.SampleRate != sampleRate {
			buffer = audio.Resample(buffer, sampleRate)
		}

		parts = append(parts, buffer)
	}

	if len(parts) == 0 {
		return 0, warnings, fmt.Errorf("%w: nothing to stitch", ErrNoSegments)
	}

	gap := audio.Silence(o.gap, sampleRate)
	stitched := make([]*audio.Buffer, 0, 2*len(parts)-1)

	for index, part := range parts {
		if index > 0 {
			stitched = append(stitched, gap)
		}

		stitched = append(stitched, part)
	}

	combined := audio.Concat(stitched...)

	err := audio.WriteWAVFile(outputPath, combined)
	if err != nil {
		return 0, warnings, fmt.Errorf("failed to write stitched podcast: %w", err)
	}

	return combined.Duration(), warnings, nil
}

// cleanupSegmentFiles deletes staged per-segment files, best-effort.
// Failures are reported as warnings, never as errors.
func (o *Orchestrator) cleanupSegmentFiles(files []string) []string {
	var warnings []string

	for _, file := range files {
		err := os.Remove(file)
		if err != nil && !os.IsNotExist(err) {
			o.log.Warn("Failed to delete temp segment '%s': %v", file, err)
			warnings = append(warnings, fmt.Sprintf("temp segment not deleted: %s", filepath.Base(file)))
		}
	}

	return warnings
}

// removeSegmentFiles is the failure-path variant of cleanup; outcomes are
// only logged.
func (o *Orchestrator) removeSegmentFiles(files []string) {
	for _, file := range files {
		err := os.Remove(file)
		if err != nil && !os.IsNotExist(err) {
			o.log.Warn("Failed to delete temp segment '%s': %v", file, err)
		}
	}
}
