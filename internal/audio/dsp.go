package audio

import (
	"math"
	"math/cmplx"
)

// Spectral processing parameters. Frame and hop follow the conditioning
// pipeline this service replaced; the frame size must stay a power of two
// for the radix-2 transform.
const (
	stftFrameSize = 2048
	stftHopSize   = 512

	// Noise floor estimation window: the first half second of the clip,
	// capped at a quarter of all frames so the estimate never swallows a
	// very short clip.
	noiseEstimateSeconds  = 0.5
	noiseEstimateMaxShare = 4

	// Spectral subtraction: subtract 1.5x the estimated floor, but never
	// push a bin below 1% of its original magnitude. The floor prevents
	// musical-noise artifacts from over-subtraction.
	noiseSubtractionMargin = 1.5
	spectralFloorRatio     = 0.01

	semitonesPerOctave = 12.0

	// Overlap-add time stretching.
	olaFrameSize = 1024
	olaSynthHop  = olaFrameSize / 2

	windowSumEpsilon = 1e-9
)

// ReduceNoise applies spectral-subtraction noise reduction: the noise floor
// magnitude spectrum is estimated from the start of the clip and subtracted
// from every frame, reconstructing with the original phase. The returned
// bool reports whether reduction was applied; when the clip is too short to
// estimate a floor the input is returned unmodified (as a copy). This step
// never fails.
func ReduceNoise(buffer *Buffer) (*Buffer, bool) {
	if len(buffer.Samples) < stftFrameSize {
		return buffer.Clone(), false
	}

	spectra := stft(buffer.Samples, stftFrameSize, stftHopSize)

	noiseFrames := int(noiseEstimateSeconds * float64(buffer.SampleRate) / stftHopSize)
	if limit := len(spectra) / noiseEstimateMaxShare; noiseFrames > limit {
		noiseFrames = limit
	}

	if noiseFrames == 0 {
		return buffer.Clone(), false
	}

	floor := noiseFloor(spectra, noiseFrames)

	for _, frame := range spectra {
		for bin, value := range frame {
			magnitude := cmplx.Abs(value)
			if magnitude == 0 {
				continue
			}

			cleaned := magnitude - noiseSubtractionMargin*floor[bin]
			if minimum := spectralFloorRatio * magnitude; cleaned < minimum {
				cleaned = minimum
			}

			frame[bin] = value * complex(cleaned/magnitude, 0)
		}
	}

	samples := istft(spectra, stftFrameSize, stftHopSize, len(buffer.Samples))

	return &Buffer{Samples: samples, SampleRate: buffer.SampleRate}, true
}

// PitchShift shifts the signal by the given number of semitones without
// changing its duration. Positive values raise the pitch.
func PitchShift(buffer *Buffer, semitones float64) *Buffer {
	if semitones == 0 || len(buffer.Samples) == 0 {
		return buffer.Clone()
	}

	factor := math.Pow(2, semitones/semitonesPerOctave)

	// Stretch to factor times the length, then speed playback back up by
	// the same factor: duration is restored, pitch moves by the factor.
	stretched := TimeStretch(buffer, 1/factor)

	outLen := int(math.Round(float64(len(stretched.Samples)) / factor))
	if outLen < 1 {
		outLen = 1
	}

	samples := make([]float64, outLen)
	for i := range samples {
		samples[i] = sampleAt(stretched.Samples, float64(i)*factor)
	}

	return &Buffer{Samples: samples, SampleRate: buffer.SampleRate}
}

// TimeStretch changes the signal's duration by 1/rate without changing its
// pitch, using windowed overlap-add. A rate above 1 shortens the signal.
func TimeStretch(buffer *Buffer, rate float64) *Buffer {
	if rate <= 0 || rate == 1 || len(buffer.Samples) == 0 {
		return buffer.Clone()
	}

	if len(buffer.Samples) < olaFrameSize {
		// Too short to window; fall back to plain playback-speed change.
		outLen := int(math.Round(float64(len(buffer.Samples)) / rate))
		if outLen < 1 {
			outLen = 1
		}

		samples := make([]float64, outLen)
		for i := range samples {
			samples[i] = sampleAt(buffer.Samples, float64(i)*rate)
		}

		return &Buffer{Samples: samples, SampleRate: buffer.SampleRate}
	}

	analysisHop := int(math.Round(float64(olaSynthHop) * rate))
	if analysisHop < 1 {
		analysisHop = 1
	}

	frames := 1 + (len(buffer.Samples)-olaFrameSize)/analysisHop
	outLen := (frames-1)*olaSynthHop + olaFrameSize
	window := hannWindow(olaFrameSize)

	out := make([]float64, outLen)
	weight := make([]float64, outLen)

	for frame := range frames {
		srcStart := frame * analysisHop
		dstStart := frame * olaSynthHop

		for i := range olaFrameSize {
			out[dstStart+i] += buffer.Samples[srcStart+i] * window[i]
			weight[dstStart+i] += window[i]
		}
	}

	for i := range out {
		if weight[i] > windowSumEpsilon {
			out[i] /= weight[i]
		}
	}

	return &Buffer{Samples: out, SampleRate: buffer.SampleRate}
}

// noiseFloor averages the magnitude spectrum over the first count frames.
func noiseFloor(spectra [][]complex128, count int) []float64 {
	bins := len(spectra[0])
	floor := make([]float64, bins)

	for _, frame := range spectra[:count] {
		for bin, value := range frame {
			floor[bin] += cmplx.Abs(value)
		}
	}

	for bin := range floor {
		floor[bin] /= float64(count)
	}

	return floor
}

// stft computes a Hann-windowed short-time Fourier transform. The final
// partial frame is zero-padded.
func stft(samples []float64, frameSize, hopSize int) [][]complex128 {
	window := hannWindow(frameSize)

	frames := 1
	if len(samples) > frameSize {
		frames = 1 + (len(samples)-frameSize+hopSize-1)/hopSize
	}

	spectra := make([][]complex128, frames)

	for frame := range frames {
		start := frame * hopSize
		spectrum := make([]complex128, frameSize)

		for i := range frameSize {
			if start+i < len(samples) {
				spectrum[i] = complex(samples[start+i]*window[i], 0)
			}
		}

		fft(spectrum)
		spectra[frame] = spectrum
	}

	return spectra
}

// istft reconstructs a signal from spectra by windowed overlap-add,
// normalizing by the accumulated window energy.
func istft(spectra [][]complex128, frameSize, hopSize, outLen int) []float64 {
	window := hannWindow(frameSize)
	out := make([]float64, outLen)
	weight := make([]float64, outLen)

	for frame, spectrum := range spectra {
		values := make([]complex128, frameSize)
		copy(values, spectrum)
		ifft(values)

		start := frame * hopSize
		for i := range frameSize {
			position := start + i
			if position >= outLen {
				break
			}

			out[position] += real(values[i]) * window[i]
			weight[position] += window[i] * window[i]
		}
	}

	for i := range out {
		if weight[i] > windowSumEpsilon {
			out[i] /= weight[i]
		}
	}

	return out
}

func hannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(size-1)))
	}

	return window
}

// fft computes an in-place iterative radix-2 transform. The input length
// must be a power of two.
func fft(values []complex128) {
	n := len(values)

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}

		j ^= bit
		if i < j {
			values[i], values[j] = values[j], values[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := -2 * math.Pi / float64(length)
		root := cmplx.Exp(complex(0, angle))

		for start := 0; start < n; start += length {
			w := complex(1, 0)
			for i := range length / 2 {
				even := values[start+i]
				odd := values[start+i+length/2] * w
				values[start+i] = even + odd
				values[start+i+length/2] = even - odd
				w *= root
			}
		}
	}
}

// ifft computes the inverse transform in place.
func ifft(values []complex128) {
	for i := range values {
		values[i] = cmplx.Conj(values[i])
	}

	fft(values)

	scale := complex(float64(len(values)), 0)
	for i := range values {
		values[i] = cmplx.Conj(values[i]) / scale
	}
}
