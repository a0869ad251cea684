// Package audio provides the mono PCM buffer type shared by every processing
// stage, WAV encode/decode on top of the go-audio codec, and the signal
// operations (resampling, normalization, stitching) the conditioning and
// synthesis pipelines are built from.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Encoding constants for canonical WAV output.
const (
	outputBitDepth    = 16
	outputChannels    = 1
	wavAudioFormatPCM = 1
	maxInt16          = 32767
)

const filePermissions = 0o600

// Sentinel errors for decode failures.
var (
	// ErrEmptyAudio indicates a decoded file contained no samples.
	ErrEmptyAudio = errors.New("audio contains no samples")
	// ErrNoFormat indicates a decoded file carried no format description.
	ErrNoFormat = errors.New("audio has no format information")
)

// Buffer is a mono PCM signal: float64 samples in [-1, 1] plus a sample rate.
// Buffers are passed by value semantics across pipeline stages; use Clone
// before handing one to code that may mutate it.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	samples := make([]float64, len(b.Samples))
	copy(samples, b.Samples)

	return &Buffer{Samples: samples, SampleRate: b.SampleRate}
}

// Duration reports the buffer length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}

	return float64(len(b.Samples)) / float64(b.SampleRate)
}

// ReadWAV decodes a WAV stream into a mono buffer. Multi-channel input is
// downmixed by averaging the channels of each frame.
func ReadWAV(r io.ReadSeeker) (*Buffer, error) {
	decoder := wav.NewDecoder(r)

	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode wav data: %w", err)
	}

	if pcm == nil || len(pcm.Data) == 0 {
		return nil, ErrEmptyAudio
	}

	if pcm.Format == nil {
		return nil, ErrNoFormat
	}

	bitDepth := pcm.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(decoder.BitDepth)
	}

	if bitDepth <= 0 {
		bitDepth = outputBitDepth
	}

	scale := float64(int64(1) << (bitDepth - 1))
	channels := pcm.Format.NumChannels
	frames := len(pcm.Data) / channels
	samples := make([]float64, frames)

	for frame := range frames {
		sum := 0.0
		for channel := range channels {
			sum += float64(pcm.Data[frame*channels+channel])
		}

		samples[frame] = sum / float64(channels) / scale
	}

	return &Buffer{Samples: samples, SampleRate: pcm.Format.SampleRate}, nil
}

// ReadWAVFile decodes a WAV file into a mono buffer.
func ReadWAVFile(path string) (*Buffer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav file '%s': %w", path, err)
	}

	defer func() {
		_ = file.Close()
	}()

	buffer, err := ReadWAV(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read wav file '%s': %w", path, err)
	}

	return buffer, nil
}

// WriteWAV encodes the buffer as 16-bit mono PCM WAV. Samples outside [-1, 1]
// are clamped.
func WriteWAV(w io.WriteSeeker, buffer *Buffer) error {
	encoder := wav.NewEncoder(
		w,
		buffer.SampleRate,
		outputBitDepth,
		outputChannels,
		wavAudioFormatPCM,
	)

	data := make([]int, len(buffer.Samples))
	for i, sample := range buffer.Samples {
		clamped := math.Max(-1.0, math.Min(1.0, sample))
		data[i] = int(clamped * maxInt16)
	}

	pcm := &gaudio.IntBuffer{
		Data: data,
		Format: &gaudio.Format{
			NumChannels: outputChannels,
			SampleRate:  buffer.SampleRate,
		},
		SourceBitDepth: outputBitDepth,
	}

	err := encoder.Write(pcm)
	if err != nil {
		return fmt.Errorf("failed to encode wav data: %w", err)
	}

	err = encoder.Close()
	if err != nil {
		return fmt.Errorf("failed to finalize wav data: %w", err)
	}

	return nil
}

// WriteWAVFile encodes the buffer to a WAV file at path.
func WriteWAVFile(path string, buffer *Buffer) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to create wav file '%s': %w", path, err)
	}

	writeErr := WriteWAV(file, buffer)
	closeErr := file.Close()

	if writeErr != nil {
		return fmt.Errorf("failed to write wav file '%s': %w", path, writeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("failed to close wav file '%s': %w", path, closeErr)
	}

	return nil
}

// Resample converts the buffer to the target sample rate using linear
// interpolation.
func Resample(buffer *Buffer, targetRate int) *Buffer {
	if targetRate <= 0 || buffer.SampleRate == targetRate || len(buffer.Samples) == 0 {
		out := buffer.Clone()
		if targetRate > 0 {
			out.SampleRate = targetRate
		}

		return out
	}

	ratio := float64(targetRate) / float64(buffer.SampleRate)
	outLen := int(math.Round(float64(len(buffer.Samples)) * ratio))

	if outLen < 1 {
		outLen = 1
	}

	samples := make([]float64, outLen)
	for i := range samples {
		samples[i] = sampleAt(buffer.Samples, float64(i)/ratio)
	}

	return &Buffer{Samples: samples, SampleRate: targetRate}
}

// NormalizePeak scales the signal so its peak magnitude is 1.0. A silent
// buffer is returned unchanged.
func NormalizePeak(buffer *Buffer) *Buffer {
	peak := 0.0
	for _, sample := range buffer.Samples {
		magnitude := math.Abs(sample)
		if magnitude > peak {
			peak = magnitude
		}
	}

	out := buffer.Clone()
	if peak == 0 {
		return out
	}

	for i := range out.Samples {
		out.Samples[i] /= peak
	}

	return out
}

// Silence returns a zero-filled buffer of the given duration.
func Silence(duration time.Duration, sampleRate int) *Buffer {
	count := int(duration.Seconds() * float64(sampleRate))
	if count < 0 {
		count = 0
	}

	return &Buffer{Samples: make([]float64, count), SampleRate: sampleRate}
}

// Concat joins buffers in order into a single buffer. All inputs must share
// one sample rate; callers resample beforehand.
func Concat(buffers ...*Buffer) *Buffer {
	if len(buffers) == 0 {
		return &Buffer{Samples: nil, SampleRate: 0}
	}

	total := 0
	for _, buffer := range buffers {
		total += len(buffer.Samples)
	}

	samples := make([]float64, 0, total)
	for _, buffer := range buffers {
		samples = append(samples, buffer.Samples...)
	}

	return &Buffer{Samples: samples, SampleRate: buffers[0].SampleRate}
}

// sampleAt reads a fractional sample position with linear interpolation.
func sampleAt(samples []float64, position float64) float64 {
	if position <= 0 {
		return samples[0]
	}

	index := int(position)
	if index >= len(samples)-1 {
		return samples[len(samples)-1]
	}

	fraction := position - float64(index)

	return samples[index]*(1-fraction) + samples[index+1]*fraction
}
