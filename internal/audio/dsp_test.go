package audio_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voiceforge-service/internal/audio"
)

// noisyTone builds a test tone with additive uniform noise.
func noisyTone(seconds, noiseLevel float64, rate int) *audio.Buffer {
	rng := rand.New(rand.NewSource(1))
	count := int(seconds * float64(rate))
	samples := make([]float64, count)

	for i := range samples {
		tone := 0.5 * math.Sin(2*math.Pi*220*float64(i)/float64(rate))
		samples[i] = tone + noiseLevel*(2*rng.Float64()-1)
	}

	return &audio.Buffer{Samples: samples, SampleRate: rate}
}

func rms(samples []float64) float64 {
	sum := 0.0
	for _, sample := range samples {
		sum += sample * sample
	}

	return math.Sqrt(sum / float64(len(samples)))
}

func TestReduceNoise_ShortClipSkipped(t *testing.T) {
	t.Parallel()

	short := &audio.Buffer{Samples: make([]float64, 100), SampleRate: testSampleRate}

	out, applied := audio.ReduceNoise(short)

	assert.False(t, applied)
	assert.Len(t, out.Samples, 100)
}

func TestReduceNoise_ShortClipReturnsCopy(t *testing.T) {
	t.Parallel()

	short := &audio.Buffer{Samples: make([]float64, 100), SampleRate: testSampleRate}

	out, _ := audio.ReduceNoise(short)
	out.Samples[0] = 0.5

	assert.InDelta(t, 0.0, short.Samples[0], 0.0,
		"skipped reduction must still return an independent copy")
}

func TestReduceNoise_PreservesLengthAndRate(t *testing.T) {
	t.Parallel()

	input := noisyTone(2.0, 0.05, testSampleRate)

	out, applied := audio.ReduceNoise(input)

	require.True(t, applied)
	assert.Len(t, out.Samples, len(input.Samples))
	assert.Equal(t, input.SampleRate, out.SampleRate)
}

func TestReduceNoise_ReducesPureNoiseEnergy(t *testing.T) {
	t.Parallel()

	// Pure noise: the floor estimate matches the whole signal, so
	// subtraction should strip most of the energy.
	rng := rand.New(rand.NewSource(2))
	samples := make([]float64, 2*testSampleRate)

	for i := range samples {
		samples[i] = 0.1 * (2*rng.Float64() - 1)
	}

	input := &audio.Buffer{Samples: samples, SampleRate: testSampleRate}

	out, applied := audio.ReduceNoise(input)

	require.True(t, applied)
	assert.Less(t, rms(out.Samples), rms(input.Samples),
		"spectral subtraction should lower stationary noise energy")
}

func TestReduceNoise_RepeatedApplicationDoesNotAmplify(t *testing.T) {
	t.Parallel()

	buf := noisyTone(2.0, 0.3, testSampleRate)
	previous := rms(buf.Samples)

	for pass := 1; pass <= 4; pass++ {
		out, applied := audio.ReduceNoise(buf)

		require.True(t, applied)
		require.Len(t, out.Samples, len(buf.Samples))

		current := rms(out.Samples)
		assert.LessOrEqual(t, current, previous*1.01,
			"pass %d must not amplify the signal", pass)

		buf = out
		previous = current
	}
}

func TestTimeStretch_ScalesDuration(t *testing.T) {
	t.Parallel()

	input := noisyTone(2.0, 0, testSampleRate)

	tests := []struct {
		name string
		rate float64
	}{
		{name: "faster", rate: 1.5},
		{name: "slower", rate: 0.75},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			out := audio.TimeStretch(input, testCase.rate)

			expected := input.Duration() / testCase.rate
			assert.InDelta(t, expected, out.Duration(), 0.2)
			assert.Equal(t, input.SampleRate, out.SampleRate)
		})
	}
}

func TestTimeStretch_IdentityRate(t *testing.T) {
	t.Parallel()

	input := noisyTone(0.5, 0, testSampleRate)

	out := audio.TimeStretch(input, 1.0)

	assert.Len(t, out.Samples, len(input.Samples))
}

func TestTimeStretch_VeryShortInput(t *testing.T) {
	t.Parallel()

	input := &audio.Buffer{Samples: make([]float64, 200), SampleRate: testSampleRate}

	out := audio.TimeStretch(input, 2.0)

	assert.Len(t, out.Samples, 100)
}

func TestPitchShift_PreservesDuration(t *testing.T) {
	t.Parallel()

	input := noisyTone(2.0, 0, testSampleRate)

	tests := []struct {
		name      string
		semitones float64
	}{
		{name: "up a fourth", semitones: 5},
		{name: "down a third", semitones: -4},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			out := audio.PitchShift(input, testCase.semitones)

			assert.InDelta(t, input.Duration(), out.Duration(), 0.2)
			assert.Equal(t, input.SampleRate, out.SampleRate)
		})
	}
}

func TestPitchShift_ZeroIsIdentity(t *testing.T) {
	t.Parallel()

	input := noisyTone(0.5, 0, testSampleRate)

	out := audio.PitchShift(input, 0)

	require.Len(t, out.Samples, len(input.Samples))

	for i := range out.Samples {
		assert.InDelta(t, input.Samples[i], out.Samples[i], 0.0)
	}
}
